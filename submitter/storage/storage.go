// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package storage holds the queue entry type shared by the submitter's
// storage backends.
package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
)

// ErrStorageRace is returned by Put when the previous item named by the
// caller no longer matches what the backend holds at that nonce.
var ErrStorageRace = errors.New("storage race error")

// QueuedTransaction is one nonce slot in the submission queue. Data keeps
// the unsigned fields so a replacement can be re-signed with bumped fee
// caps; FullTx is the currently signed candidate for the nonce.
//
// Meta must be RLP serializable and deserializable.
type QueuedTransaction[Meta any] struct {
	FullTx          *types.Transaction `rlp:"nil"`
	Data            types.DynamicFeeTx
	Meta            Meta
	Sent            bool
	Created         RlpTime
	NextReplacement RlpTime
}
