// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package bindings wraps the dispute-game factory contract: typed calls,
// calldata packing for the settlement submitter, and event parsing for the
// ledger watcher. The ABI is maintained by hand against the deployed factory.
package bindings

import (
	"context"
	"math/big"
	"strings"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tesseralabs/arbiter/protocol"
)

// FactoryABI is the dispute-game factory contract interface. Game status
// codes on the wire match protocol.GameStatus.
const FactoryABI = `[
	{"type":"function","name":"gameCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"games","stateMutability":"view","inputs":[{"name":"gameId","type":"uint64"}],"outputs":[{"name":"parentId","type":"uint64"},{"name":"proposer","type":"address"},{"name":"outputRoot","type":"bytes32"},{"name":"l2BlockNumber","type":"uint64"},{"name":"status","type":"uint8"},{"name":"bond","type":"uint256"},{"name":"deadline","type":"uint64"},{"name":"challenger","type":"address"}]},
	{"type":"function","name":"requiredBond","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"anchorGame","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"createGame","stateMutability":"payable","inputs":[{"name":"parentId","type":"uint64"},{"name":"outputRoot","type":"bytes32"},{"name":"l2BlockNumber","type":"uint64"}],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"challengeGame","stateMutability":"nonpayable","inputs":[{"name":"gameId","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"resolveGame","stateMutability":"nonpayable","inputs":[{"name":"gameId","type":"uint64"},{"name":"valid","type":"bool"},{"name":"proof","type":"bytes"}],"outputs":[]},
	{"type":"event","name":"GameCreated","inputs":[{"name":"gameId","type":"uint64","indexed":true},{"name":"parentId","type":"uint64","indexed":true},{"name":"proposer","type":"address","indexed":true},{"name":"outputRoot","type":"bytes32","indexed":false},{"name":"l2BlockNumber","type":"uint64","indexed":false},{"name":"bond","type":"uint256","indexed":false},{"name":"deadline","type":"uint64","indexed":false}]},
	{"type":"event","name":"GameChallenged","inputs":[{"name":"gameId","type":"uint64","indexed":true},{"name":"challenger","type":"address","indexed":true}]},
	{"type":"event","name":"GameResolved","inputs":[{"name":"gameId","type":"uint64","indexed":true},{"name":"valid","type":"bool","indexed":false}]},
	{"type":"event","name":"GameExpired","inputs":[{"name":"gameId","type":"uint64","indexed":true}]}
]`

var factoryABI abi.ABI

var (
	gameCreatedID    common.Hash
	gameChallengedID common.Hash
	gameResolvedID   common.Hash
	gameExpiredID    common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(FactoryABI))
	if err != nil {
		panic(err)
	}
	factoryABI = parsed
	gameCreatedID = parsed.Events["GameCreated"].ID
	gameChallengedID = parsed.Events["GameChallenged"].ID
	gameResolvedID = parsed.Events["GameResolved"].ID
	gameExpiredID = parsed.Events["GameExpired"].ID
}

// GameState is the factory's games(id) record: the on-chain view of one game,
// without the ledger's creation-block bookkeeping.
type GameState struct {
	ParentID      protocol.GameID
	Proposer      common.Address
	OutputRoot    common.Hash
	L2BlockNumber uint64
	Status        protocol.GameStatus
	Bond          *big.Int
	Deadline      uint64
	Challenger    common.Address
}

// Factory reads the dispute-game factory contract.
type Factory struct {
	address      common.Address
	con          *bind.BoundContract
	baseCallOpts bind.CallOpts
}

func NewFactory(address common.Address, client bind.ContractCaller, callOpts bind.CallOpts) *Factory {
	return &Factory{
		address:      address,
		con:          bind.NewBoundContract(address, factoryABI, client, nil, nil),
		baseCallOpts: callOpts,
	}
}

func (f *Factory) Address() common.Address {
	return f.address
}

func (f *Factory) getCallOpts(ctx context.Context) *bind.CallOpts {
	opts := f.baseCallOpts
	opts.Context = ctx
	return &opts
}

// GameCount returns the number of games the factory has created. IDs are
// dense, so valid ids are [0, GameCount).
func (f *Factory) GameCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := f.con.Call(f.getCallOpts(ctx), &out, "gameCount"); err != nil {
		return 0, protocol.Transient("gameCount", err)
	}
	bigRes := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !bigRes.IsUint64() {
		return 0, errors.New("factory gameCount doesn't fit in uint64")
	}
	return bigRes.Uint64(), nil
}

// Game returns the on-chain record of one game.
func (f *Factory) Game(ctx context.Context, id protocol.GameID) (*GameState, error) {
	var out []interface{}
	if err := f.con.Call(f.getCallOpts(ctx), &out, "games", uint64(id)); err != nil {
		return nil, protocol.Transient("games", err)
	}
	rawStatus := *abi.ConvertType(out[4], new(uint8)).(*uint8)
	if rawStatus > uint8(protocol.GameExpired) {
		return nil, errors.Errorf("factory returned unknown status %d for game %v", rawStatus, id)
	}
	return &GameState{
		ParentID:      protocol.GameID(*abi.ConvertType(out[0], new(uint64)).(*uint64)),
		Proposer:      *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		OutputRoot:    *abi.ConvertType(out[2], new([32]byte)).(*[32]byte),
		L2BlockNumber: *abi.ConvertType(out[3], new(uint64)).(*uint64),
		Status:        protocol.GameStatus(rawStatus),
		Bond:          *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
		Deadline:      *abi.ConvertType(out[6], new(uint64)).(*uint64),
		Challenger:    *abi.ConvertType(out[7], new(common.Address)).(*common.Address),
	}, nil
}

// RequiredBond returns the bond a createGame transaction must carry as value.
func (f *Factory) RequiredBond(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := f.con.Call(f.getCallOpts(ctx), &out, "requiredBond"); err != nil {
		return nil, protocol.Transient("requiredBond", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// AnchorGame returns the id of the root game of the current proposal tree.
func (f *Factory) AnchorGame(ctx context.Context) (protocol.GameID, error) {
	var out []interface{}
	if err := f.con.Call(f.getCallOpts(ctx), &out, "anchorGame"); err != nil {
		return 0, protocol.Transient("anchorGame", err)
	}
	return protocol.GameID(*abi.ConvertType(out[0], new(uint64)).(*uint64)), nil
}

// PackCreateGame packs createGame calldata. The required bond travels as the
// transaction value, not as an argument.
func PackCreateGame(parentID protocol.GameID, outputRoot common.Hash, l2BlockNumber uint64) ([]byte, error) {
	data, err := factoryABI.Pack("createGame", uint64(parentID), [32]byte(outputRoot), l2BlockNumber)
	return data, errors.WithStack(err)
}

func PackChallengeGame(id protocol.GameID) ([]byte, error) {
	data, err := factoryABI.Pack("challengeGame", uint64(id))
	return data, errors.WithStack(err)
}

func PackResolveGame(id protocol.GameID, valid bool, proof []byte) ([]byte, error) {
	data, err := factoryABI.Pack("resolveGame", uint64(id), valid, proof)
	return data, errors.WithStack(err)
}
