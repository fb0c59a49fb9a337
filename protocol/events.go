// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventHeader locates a game event in the L1 history. Block hash plus log
// index uniquely identifies an event across reorgs, so ingestion dedupes on
// the pair.
type EventHeader struct {
	Block    BlockRef
	LogIndex uint
}

// GameEvent is one factory log translated into ledger input.
type GameEvent interface {
	// Game returns the dispute game the event concerns.
	Game() GameID
	// Header returns where on L1 the event was observed.
	Header() EventHeader
}

type GameCreatedEvent struct {
	EventHeader
	ID            GameID
	ParentID      GameID
	Proposer      common.Address
	OutputRoot    common.Hash
	L2BlockNumber uint64
	Bond          *big.Int
	Deadline      uint64
}

func (e *GameCreatedEvent) Game() GameID        { return e.ID }
func (e *GameCreatedEvent) Header() EventHeader { return e.EventHeader }

type GameChallengedEvent struct {
	EventHeader
	ID         GameID
	Challenger common.Address
}

func (e *GameChallengedEvent) Game() GameID        { return e.ID }
func (e *GameChallengedEvent) Header() EventHeader { return e.EventHeader }

type GameResolvedEvent struct {
	EventHeader
	ID GameID
	// Valid is the on-chain verdict: true moves the game to
	// GameResolvedValid, false to GameResolvedInvalid.
	Valid bool
}

func (e *GameResolvedEvent) Game() GameID        { return e.ID }
func (e *GameResolvedEvent) Header() EventHeader { return e.EventHeader }

type GameExpiredEvent struct {
	EventHeader
	ID GameID
}

func (e *GameExpiredEvent) Game() GameID        { return e.ID }
func (e *GameExpiredEvent) Header() EventHeader { return e.EventHeader }
