// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package bindings

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tesseralabs/arbiter/protocol"
)

type gameCreatedRaw struct {
	GameId        uint64
	ParentId      uint64
	Proposer      common.Address
	OutputRoot    [32]byte
	L2BlockNumber uint64
	Bond          *big.Int
	Deadline      uint64
}

type gameChallengedRaw struct {
	GameId     uint64
	Challenger common.Address
}

type gameResolvedRaw struct {
	GameId uint64
	Valid  bool
}

type gameExpiredRaw struct {
	GameId uint64
}

func unpackLog(out interface{}, event string, log types.Log) error {
	if len(log.Topics) == 0 || log.Topics[0] != factoryABI.Events[event].ID {
		return errors.Errorf("log is not a %s event", event)
	}
	if len(log.Data) > 0 {
		if err := factoryABI.UnpackIntoInterface(out, event, log.Data); err != nil {
			return errors.WithStack(err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range factoryABI.Events[event].Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return errors.WithStack(abi.ParseTopics(out, indexed, log.Topics[1:]))
}

func eventHeader(log types.Log) protocol.EventHeader {
	return protocol.EventHeader{
		Block:    protocol.BlockRef{Number: log.BlockNumber, Hash: log.BlockHash},
		LogIndex: log.Index,
	}
}

func ParseGameCreated(log types.Log) (*protocol.GameCreatedEvent, error) {
	raw := new(gameCreatedRaw)
	if err := unpackLog(raw, "GameCreated", log); err != nil {
		return nil, err
	}
	return &protocol.GameCreatedEvent{
		EventHeader:   eventHeader(log),
		ID:            protocol.GameID(raw.GameId),
		ParentID:      protocol.GameID(raw.ParentId),
		Proposer:      raw.Proposer,
		OutputRoot:    raw.OutputRoot,
		L2BlockNumber: raw.L2BlockNumber,
		Bond:          raw.Bond,
		Deadline:      raw.Deadline,
	}, nil
}

func ParseGameChallenged(log types.Log) (*protocol.GameChallengedEvent, error) {
	raw := new(gameChallengedRaw)
	if err := unpackLog(raw, "GameChallenged", log); err != nil {
		return nil, err
	}
	return &protocol.GameChallengedEvent{
		EventHeader: eventHeader(log),
		ID:          protocol.GameID(raw.GameId),
		Challenger:  raw.Challenger,
	}, nil
}

func ParseGameResolved(log types.Log) (*protocol.GameResolvedEvent, error) {
	raw := new(gameResolvedRaw)
	if err := unpackLog(raw, "GameResolved", log); err != nil {
		return nil, err
	}
	return &protocol.GameResolvedEvent{
		EventHeader: eventHeader(log),
		ID:          protocol.GameID(raw.GameId),
		Valid:       raw.Valid,
	}, nil
}

func ParseGameExpired(log types.Log) (*protocol.GameExpiredEvent, error) {
	raw := new(gameExpiredRaw)
	if err := unpackLog(raw, "GameExpired", log); err != nil {
		return nil, err
	}
	return &protocol.GameExpiredEvent{
		EventHeader: eventHeader(log),
		ID:          protocol.GameID(raw.GameId),
	}, nil
}

// ToGameEvent converts one factory log into its ledger event. The log must
// carry one of the four game event topics.
func ToGameEvent(log types.Log) (protocol.GameEvent, error) {
	if len(log.Topics) == 0 {
		return nil, errors.New("log carries no topics")
	}
	switch log.Topics[0] {
	case gameCreatedID:
		return ParseGameCreated(log)
	case gameChallengedID:
		return ParseGameChallenged(log)
	case gameResolvedID:
		return ParseGameResolved(log)
	case gameExpiredID:
		return ParseGameExpired(log)
	default:
		return nil, errors.Errorf("unexpected factory log topic %v", log.Topics[0])
	}
}
