// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/util/headerreader"
	"github.com/tesseralabs/arbiter/util/testhelpers"
)

var factoryTestABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(bindings.FactoryABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

func topicFor(id protocol.GameID) common.Hash {
	var topic common.Hash
	binary.BigEndian.PutUint64(topic[24:], uint64(id))
	return topic
}

func createdLog(t *testing.T, factory common.Address, block protocol.BlockRef, logIndex uint, id, parent protocol.GameID, outputRoot common.Hash, l2Block uint64) types.Log {
	t.Helper()
	data, err := factoryTestABI.Events["GameCreated"].Inputs.NonIndexed().Pack(
		[32]byte(outputRoot), l2Block, big.NewInt(1_000_000), 5000+uint64(id))
	require.NoError(t, err)
	return types.Log{
		Address:     factory,
		Topics:      []common.Hash{factoryTestABI.Events["GameCreated"].ID, topicFor(id), topicFor(parent), common.BytesToHash(common.Address{0xaa}.Bytes())},
		Data:        data,
		BlockNumber: block.Number,
		BlockHash:   block.Hash,
		Index:       logIndex,
	}
}

func challengedLog(t *testing.T, factory common.Address, block protocol.BlockRef, logIndex uint, id protocol.GameID) types.Log {
	t.Helper()
	return types.Log{
		Address:     factory,
		Topics:      []common.Hash{factoryTestABI.Events["GameChallenged"].ID, topicFor(id), common.BytesToHash(common.Address{0xcc}.Bytes())},
		BlockNumber: block.Number,
		BlockHash:   block.Hash,
		Index:       logIndex,
	}
}

// fakeChain is a canonical header chain plus per-block logs, reorganizable by
// replacing the header at a height. It backs both the header reader and the
// log filterer.
type fakeChain struct {
	mutex   sync.Mutex
	headers map[uint64]*types.Header
	byHash  map[common.Hash]*types.Header
	logs    map[common.Hash][]types.Log
	head    uint64
}

func newFakeChain() *fakeChain {
	c := &fakeChain{
		headers: make(map[uint64]*types.Header),
		byHash:  make(map[common.Hash]*types.Header),
		logs:    make(map[common.Hash][]types.Log),
	}
	c.addBlock(0, 'a')
	return c
}

// addBlock installs a canonical header at number, filling any gap below it
// with empty blocks on the same branch, and returns its ref. Re-adding an
// occupied height on another branch reorganizes the chain.
func (c *fakeChain) addBlock(number uint64, branch byte, build ...func(protocol.BlockRef) types.Log) protocol.BlockRef {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for n := c.head + 1; n < number; n++ {
		c.installLocked(n, branch)
	}
	ref := c.installLocked(number, branch)
	var logs []types.Log
	for _, b := range build {
		logs = append(logs, b(ref))
	}
	c.logs[ref.Hash] = logs
	return ref
}

func (c *fakeChain) installLocked(number uint64, branch byte) protocol.BlockRef {
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Difficulty: big.NewInt(0),
		Time:       number * 12,
		Extra:      []byte{branch},
	}
	hash := header.Hash()
	c.headers[number] = header
	c.byHash[hash] = header
	if number > c.head {
		c.head = number
	}
	return protocol.BlockRef{Number: number, Hash: hash}
}

func (c *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	header, ok := c.headers[n]
	if !ok {
		return nil, fmt.Errorf("no canonical header at %d", n)
	}
	return header, nil
}

func (c *fakeChain) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	header, ok := c.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("unknown header %v", hash)
	}
	return header, nil
}

func (c *fakeChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (c *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []types.Log
	for n := q.FromBlock.Uint64(); n <= q.ToBlock.Uint64(); n++ {
		header, ok := c.headers[n]
		if !ok {
			continue
		}
		for _, logRecord := range c.logs[header.Hash()] {
			if matchesFilter(logRecord, q) {
				out = append(out, logRecord)
			}
		}
	}
	return out, nil
}

func (c *fakeChain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	panic("not supported")
}

func matchesFilter(logRecord types.Log, q ethereum.FilterQuery) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, addr := range q.Addresses {
			if addr == logRecord.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, allowed := range q.Topics {
		if len(allowed) == 0 {
			continue
		}
		if i >= len(logRecord.Topics) {
			return false
		}
		ok := false
		for _, topic := range allowed {
			if topic == logRecord.Topics[i] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func startTestWatcher(t *testing.T, ctx context.Context, chain *fakeChain, factory common.Address, cfg *WatcherConfig) (*Watcher, *Ledger) {
	t.Helper()
	headerCfg := headerreader.TestConfig
	l1Reader, err := headerreader.New(chain, func() *headerreader.Config { return &headerCfg })
	require.NoError(t, err)
	l1Reader.Start(ctx)
	t.Cleanup(l1Reader.StopAndWait)

	l := New()
	watcher := NewWatcher(l, bindings.NewFilterer(factory, chain), l1Reader, func() *WatcherConfig { return cfg })
	watcher.Start(ctx)
	t.Cleanup(watcher.StopAndWait)
	return watcher, l
}

func lastIngested(t *testing.T, l *Ledger) protocol.BlockRef {
	t.Helper()
	last, ok := l.LastIngested()
	require.True(t, ok)
	return last
}

func TestWatcherScansAndIngests(t *testing.T) {
	testhelpers.InitTestLog(t, log.LvlTrace)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	factory := common.Address{0xfa}
	chain := newFakeChain()
	b5 := chain.addBlock(5, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 0, protocol.NoParent, common.Hash{0x55, 0}, 100)
	})
	b8 := chain.addBlock(8, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 1, 0, common.Hash{0x55, 1}, 200)
	})

	cfg := TestWatcherConfig
	watcher, l := startTestWatcher(t, ctx, chain, factory, &cfg)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, watcher.WaitCaughtUp(waitCtx))
	require.True(t, watcher.CaughtUp())

	require.Equal(t, uint64(2), l.GameCount())
	require.Equal(t, b5, l.Game(0).CreatedAt)
	require.Equal(t, b8, l.Game(1).CreatedAt)
	require.Equal(t, protocol.GameID(1), l.Tip().ID)
	require.Equal(t, b8, lastIngested(t, l))

	// New blocks keep flowing into the ledger and out as updates.
	sub := watcher.SubscribeUpdates()
	b12 := chain.addBlock(12, 'a', func(ref protocol.BlockRef) types.Log {
		return challengedLog(t, factory, ref, 0, 1)
	})
	update, err := sub.Next(waitCtx)
	require.NoError(t, err)
	require.Equal(t, b12, update.Block)
	require.Equal(t, protocol.GameChallenged, l.Game(1).Status)
	require.Equal(t, b12, lastIngested(t, l))
}

func TestWatcherFollowsReorg(t *testing.T) {
	testhelpers.InitTestLog(t, log.LvlTrace)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	factory := common.Address{0xfa}
	chain := newFakeChain()
	b5 := chain.addBlock(5, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 0, protocol.NoParent, common.Hash{0x55, 0}, 100)
	})
	b6 := chain.addBlock(6, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 1, 0, common.Hash{0x55, 1}, 200)
	})

	cfg := TestWatcherConfig
	watcher, l := startTestWatcher(t, ctx, chain, factory, &cfg)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, watcher.WaitCaughtUp(waitCtx))
	require.Equal(t, b6, l.Game(1).CreatedAt)
	require.Equal(t, common.Hash{0x55, 1}, l.Game(1).OutputRoot)

	// Replace block 6: the same game ID lands with a different claim.
	b6b := chain.addBlock(6, 'b', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 1, 0, common.Hash{0x66}, 222)
	})
	chain.addBlock(7, 'b')

	require.Eventually(t, func() bool {
		game := l.Game(1)
		return game != nil && game.CreatedAt == b6b
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, common.Hash{0x66}, l.Game(1).OutputRoot)
	require.Equal(t, uint64(222), l.Game(1).L2BlockNumber)
	require.Equal(t, b5, l.Game(0).CreatedAt)
}

func TestWatcherBackfillsAncestry(t *testing.T) {
	testhelpers.InitTestLog(t, log.LvlTrace)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	factory := common.Address{0xfa}
	chain := newFakeChain()
	b5 := chain.addBlock(5, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 0, protocol.NoParent, common.Hash{0x55, 0}, 100)
	})
	b7 := chain.addBlock(7, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 1, 0, common.Hash{0x55, 1}, 200)
	})
	b9 := chain.addBlock(9, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 2, 1, common.Hash{0x55, 2}, 300)
	})

	// Starting the scan past the ancestry forces a lookup-and-rescan.
	cfg := TestWatcherConfig
	cfg.StartBlock = 9
	watcher, l := startTestWatcher(t, ctx, chain, factory, &cfg)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, watcher.WaitCaughtUp(waitCtx))

	require.Equal(t, uint64(3), l.GameCount())
	require.Equal(t, b5, l.Game(0).CreatedAt)
	require.Equal(t, b7, l.Game(1).CreatedAt)
	require.Equal(t, b9, l.Game(2).CreatedAt)
	require.Equal(t, protocol.GameID(2), l.Tip().ID)
}

func TestWatcherHonorsConfirmations(t *testing.T) {
	testhelpers.InitTestLog(t, log.LvlTrace)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	factory := common.Address{0xfa}
	chain := newFakeChain()
	chain.addBlock(5, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 0, protocol.NoParent, common.Hash{0x55, 0}, 100)
	})
	chain.addBlock(8, 'a', func(ref protocol.BlockRef) types.Log {
		return createdLog(t, factory, ref, 0, 1, 0, common.Hash{0x55, 1}, 200)
	})

	cfg := TestWatcherConfig
	cfg.Confirmations = 3
	watcher, l := startTestWatcher(t, ctx, chain, factory, &cfg)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, watcher.WaitCaughtUp(waitCtx))

	// Head is 8: only blocks up to 5 are settled enough.
	require.Equal(t, uint64(1), l.GameCount())

	chain.addBlock(11, 'a')
	require.Eventually(t, func() bool {
		return l.GameCount() == 2
	}, 5*time.Second, 10*time.Millisecond)
}
