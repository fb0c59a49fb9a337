// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package headerreader

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tesseralabs/arbiter/util/testhelpers"
)

type stubChain struct {
	mutex       sync.Mutex
	byNumber    map[uint64]*types.Header
	byHash      map[common.Hash]*types.Header
	latest      uint64
	byHashCalls int
}

func newStubChain() *stubChain {
	return &stubChain{
		byNumber: make(map[uint64]*types.Header),
		byHash:   make(map[common.Hash]*types.Header),
	}
}

func (c *stubChain) push(number uint64, timestamp uint64) *types.Header {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Time:       timestamp,
		Difficulty: big.NewInt(0),
	}
	if parent, ok := c.byNumber[number-1]; ok {
		header.ParentHash = parent.Hash()
	}
	c.byNumber[number] = header
	c.byHash[header.Hash()] = header
	if number > c.latest {
		c.latest = number
	}
	return header
}

func (c *stubChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	num := c.latest
	if number != nil {
		num = number.Uint64()
	}
	header, ok := c.byNumber[num]
	if !ok {
		return nil, ethereum.NotFound
	}
	return header, nil
}

func (c *stubChain) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.byHashCalls++
	header, ok := c.byHash[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return header, nil
}

func (c *stubChain) HeaderByHashCalls() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.byHashCalls
}

func (c *stubChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func waitForHeader(t *testing.T, headers <-chan *types.Header, number uint64) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case header := <-headers:
			if header.Number.Uint64() == number {
				return
			}
		case <-deadline:
			testhelpers.FailImpl(t, "timed out waiting for header", number)
		}
	}
}

func TestHeaderReaderBroadcastsNewHeads(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chain := newStubChain()
	chain.push(1, 1000)
	config := TestConfig
	reader, err := New(chain, func() *Config { return &config })
	Require(t, err)
	reader.Start(ctx)
	defer reader.StopAndWait()

	headers, unsubscribe := reader.Subscribe()
	defer unsubscribe()

	chain.push(2, 1012)
	waitForHeader(t, headers, 2)

	chain.push(3, 1024)
	waitForHeader(t, headers, 3)

	last, err := reader.LastHeader(ctx)
	Require(t, err)
	if last.Number.Uint64() != 3 {
		Fail(t, "unexpected last header", last.Number)
	}
	if interval := reader.BlockInterval(); interval != 12*time.Second {
		Fail(t, "unexpected block interval", interval)
	}
}

func TestHeaderReaderHashCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chain := newStubChain()
	header := chain.push(1, 1000)
	config := TestConfig
	reader, err := New(chain, func() *Config { return &config })
	Require(t, err)

	got, err := reader.HeaderByHash(ctx, header.Hash())
	Require(t, err)
	if got.Number.Uint64() != 1 {
		Fail(t, "unexpected header", got.Number)
	}
	calls := chain.HeaderByHashCalls()

	_, err = reader.HeaderByHash(ctx, header.Hash())
	Require(t, err)
	if chain.HeaderByHashCalls() != calls {
		Fail(t, "cached header fetched from client again")
	}
}

func TestHeaderReaderFinalityNotSupported(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	chain := newStubChain()
	chain.push(1, 1000)
	config := TestConfig
	config.UseFinalityData = false
	reader, err := New(chain, func() *Config { return &config })
	Require(t, err)

	_, err = reader.LatestSafeBlockHeader(ctx)
	if !errors.Is(err, ErrBlockNumberNotSupported) {
		Fail(t, "expected ErrBlockNumberNotSupported, got", err)
	}
	_, err = reader.LatestFinalizedBlockNr(ctx)
	if !errors.Is(err, ErrBlockNumberNotSupported) {
		Fail(t, "expected ErrBlockNumberNotSupported, got", err)
	}
}

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
