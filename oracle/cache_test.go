// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package oracle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
)

type scriptedProvider struct {
	mutex       sync.Mutex
	roots       map[uint64]common.Hash
	errs        map[uint64]error
	outputCalls int
	statusCalls int
	status      SyncStatus
}

func (p *scriptedProvider) OutputAtBlock(ctx context.Context, l2Block uint64) (common.Hash, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.outputCalls++
	if err := p.errs[l2Block]; err != nil {
		return common.Hash{}, err
	}
	return p.roots[l2Block], nil
}

func (p *scriptedProvider) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.statusCalls++
	status := p.status
	return &status, nil
}

func newTestCachedProvider(t *testing.T, backend OutputProvider) *CachedProvider {
	t.Helper()
	cached, err := NewCachedProvider(backend, TestCacheConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cached.Close() })
	return cached
}

func TestCachedProviderMemoizes(t *testing.T) {
	ctx := context.Background()
	backend := &scriptedProvider{roots: map[uint64]common.Hash{
		100: {0x01},
		200: {0x02},
	}}
	cached := newTestCachedProvider(t, backend)

	for i := 0; i < 3; i++ {
		root, err := cached.OutputAtBlock(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, common.Hash{0x01}, root)
	}
	require.Equal(t, 1, backend.outputCalls)

	root, err := cached.OutputAtBlock(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, common.Hash{0x02}, root)
	require.Equal(t, 2, backend.outputCalls)
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	backend := &scriptedProvider{
		roots: map[uint64]common.Hash{100: {0x01}},
		errs:  map[uint64]error{100: errors.New("node still syncing")},
	}
	cached := newTestCachedProvider(t, backend)

	_, err := cached.OutputAtBlock(ctx, 100)
	require.ErrorContains(t, err, "node still syncing")

	backend.mutex.Lock()
	delete(backend.errs, 100)
	backend.mutex.Unlock()

	root, err := cached.OutputAtBlock(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, common.Hash{0x01}, root)
	require.Equal(t, 2, backend.outputCalls)
}

type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
	calls   int64
}

func (p *gatedProvider) OutputAtBlock(ctx context.Context, l2Block uint64) (common.Hash, error) {
	if atomic.AddInt64(&p.calls, 1) == 1 {
		close(p.entered)
	}
	<-p.release
	return common.Hash{0xCA}, nil
}

func (p *gatedProvider) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	return &SyncStatus{}, nil
}

func TestCachedProviderCoalescesConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	backend := &gatedProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cached := newTestCachedProvider(t, backend)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]common.Hash, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cached.OutputAtBlock(ctx, 100)
		}(i)
	}

	// Hold the backend until every worker had time to pile onto the
	// in-flight query, then let the single computation finish.
	<-backend.entered
	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&backend.calls))
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, common.Hash{0xCA}, results[i])
	}
}

func TestCachedProviderSyncStatusPassthrough(t *testing.T) {
	ctx := context.Background()
	backend := &scriptedProvider{status: SyncStatus{
		SafeL2: BlockID{Hash: common.Hash{0x5a}, Number: 77},
	}}
	cached := newTestCachedProvider(t, backend)

	for i := 0; i < 2; i++ {
		status, err := cached.SyncStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(77), status.SafeL2.Number)
	}
	require.Equal(t, 2, backend.statusCalls)
}
