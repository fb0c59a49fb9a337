// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package bindings

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tesseralabs/arbiter/protocol"
)

// Filterer scrapes factory game events from L1 logs.
type Filterer struct {
	address common.Address
	client  ethereum.LogFilterer
}

func NewFilterer(address common.Address, client ethereum.LogFilterer) *Filterer {
	return &Filterer{
		address: address,
		client:  client,
	}
}

func (f *Filterer) Address() common.Address {
	return f.address
}

// FilterGameEvents returns all game events the factory emitted in
// [fromBlock, toBlock], in chain order.
func (f *Filterer) FilterGameEvents(ctx context.Context, fromBlock, toBlock uint64) ([]protocol.GameEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{f.address},
		Topics:    [][]common.Hash{{gameCreatedID, gameChallengedID, gameResolvedID, gameExpiredID}},
	}
	logs, err := f.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, protocol.Transient("FilterLogs", err)
	}
	events := make([]protocol.GameEvent, 0, len(logs))
	for _, l := range logs {
		event, err := ToGameEvent(l)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func gameIDTopic(id protocol.GameID) common.Hash {
	var topic common.Hash
	binary.BigEndian.PutUint64(topic[(32-8):], uint64(id))
	return topic
}

// LookupGameCreation finds the creation event of one game in
// [fromBlock, toBlock]. Exactly one match is expected: none means the range
// is wrong or the game doesn't exist, more than one means the factory
// misbehaved, both are errors.
func (f *Filterer) LookupGameCreation(ctx context.Context, id protocol.GameID, fromBlock, toBlock uint64) (*protocol.GameCreatedEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{f.address},
		Topics:    [][]common.Hash{{gameCreatedID}, {gameIDTopic(id)}},
	}
	logs, err := f.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, protocol.Transient("FilterLogs", err)
	}
	if len(logs) == 0 {
		return nil, errors.Errorf("couldn't find creation of game %v", id)
	}
	if len(logs) > 1 {
		return nil, errors.Errorf("found %d creations of game %v", len(logs), id)
	}
	return ParseGameCreated(logs[0])
}

// LookupGameResolution finds the resolution event of one game, with the same
// exactly-one contract as LookupGameCreation.
func (f *Filterer) LookupGameResolution(ctx context.Context, id protocol.GameID, fromBlock, toBlock uint64) (*protocol.GameResolvedEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{f.address},
		Topics:    [][]common.Hash{{gameResolvedID}, {gameIDTopic(id)}},
	}
	logs, err := f.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, protocol.Transient("FilterLogs", err)
	}
	if len(logs) == 0 {
		return nil, errors.Errorf("couldn't find resolution of game %v", id)
	}
	if len(logs) > 1 {
		return nil, errors.Errorf("found %d resolutions of game %v", len(logs), id)
	}
	return ParseGameResolved(logs[0])
}
