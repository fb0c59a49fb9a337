// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package signature

import (
	"crypto/ecdsa"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignatureNotVerified = errors.New("signature not verified")

type DataSignerFunc func([]byte) ([]byte, error)

func DataSignerFromPrivateKey(privateKey *ecdsa.PrivateKey) DataSignerFunc {
	return func(data []byte) ([]byte, error) {
		return crypto.Sign(data, privateKey)
	}
}
