// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package protocol

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TxKind says which engine action a queued settlement transaction performs.
// The zero value means no transaction, so an empty queue reads as TxNone.
type TxKind uint8

const (
	TxNone TxKind = iota
	TxCreateGame
	TxChallengeGame
	TxResolveGame
)

func (k TxKind) String() string {
	switch k {
	case TxNone:
		return "none"
	case TxCreateGame:
		return "create-game"
	case TxChallengeGame:
		return "challenge-game"
	case TxResolveGame:
		return "resolve-game"
	default:
		return fmt.Sprintf("invalid-tx-kind-%d", uint8(k))
	}
}

// TxMeta rides along with every queued settlement transaction, letting a
// restarted engine see what its predecessor had in flight. Both engines
// share one submission queue, so the kind disambiguates the owner.
//
// GameID is the target of a challenge or resolution; creations leave it
// zero since the factory assigns the ID on inclusion.
type TxMeta struct {
	Kind          TxKind
	GameID        GameID
	ParentID      GameID
	L2BlockNumber uint64
	OutputRoot    common.Hash
}
