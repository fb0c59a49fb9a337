// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package protocol defines the dispute-game domain types shared by the
// ledger, the proposer and validator engines, and the settlement submitter.
package protocol

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GameID identifies a dispute game. The factory assigns IDs densely in
// creation order, so ascending ID order is creation order.
type GameID uint64

// NoParent is the on-wire sentinel for a game with no parent. Exactly one
// live game, the anchor, may carry it.
const NoParent GameID = math.MaxUint64

func (id GameID) String() string {
	if id == NoParent {
		return "none"
	}
	return fmt.Sprintf("%d", uint64(id))
}

type GameStatus uint8

const (
	GamePending GameStatus = iota
	GameChallenged
	GameResolvedValid
	GameResolvedInvalid
	GameExpired
)

func (s GameStatus) String() string {
	switch s {
	case GamePending:
		return "pending"
	case GameChallenged:
		return "challenged"
	case GameResolvedValid:
		return "resolved-valid"
	case GameResolvedInvalid:
		return "resolved-invalid"
	case GameExpired:
		return "expired"
	default:
		return fmt.Sprintf("invalid-status-%d", uint8(s))
	}
}

// IsTerminal reports whether no further transition may leave s.
func (s GameStatus) IsTerminal() bool {
	switch s {
	case GameResolvedValid, GameResolvedInvalid, GameExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status machine permits moving from s
// to next. Transitions are monotonic: a pending game may be challenged,
// expire, or resolve valid; a challenged game may only resolve; terminal
// states admit nothing.
func (s GameStatus) CanTransitionTo(next GameStatus) bool {
	switch s {
	case GamePending:
		return next == GameChallenged || next == GameExpired || next == GameResolvedValid
	case GameChallenged:
		return next == GameResolvedValid || next == GameResolvedInvalid
	default:
		return false
	}
}

// BlockRef pins an observation to an exact L1 block. Reorg handling keys on
// the hash: two refs with equal number and different hash are different
// branches.
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

func (r BlockRef) String() string {
	return fmt.Sprintf("#%d %v", r.Number, r.Hash)
}

// GameInstance is the ledger's record of one on-chain dispute game. Records
// are created from creation events, updated by lifecycle events, and never
// deleted.
type GameInstance struct {
	ID            GameID
	ParentID      GameID
	OutputRoot    common.Hash
	L2BlockNumber uint64
	Proposer      common.Address
	Status        GameStatus
	Bond          *big.Int
	Deadline      uint64

	// CreatedAt is the L1 block whose creation event this record came from.
	CreatedAt BlockRef
	// Challenger is zero until the game is challenged.
	Challenger common.Address
}

// HasParent reports whether the game extends another game (false only for
// the anchor).
func (g *GameInstance) HasParent() bool {
	return g.ParentID != NoParent
}

// Clone returns a deep copy. The ledger hands out clones so readers never
// alias its internal records.
func (g *GameInstance) Clone() *GameInstance {
	if g == nil {
		return nil
	}
	cpy := *g
	if g.Bond != nil {
		cpy.Bond = new(big.Int).Set(g.Bond)
	}
	return &cpy
}
