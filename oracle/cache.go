// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package oracle

import (
	"context"
	"strconv"
	"time"

	"github.com/allegro/bigcache"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/metrics"

	inprogresscache "github.com/tesseralabs/arbiter/containers/in-progress-cache"
)

var (
	outputCacheHitCounter  = metrics.NewRegisteredCounter("arbiter/oracle/output/cache/hit", nil)
	outputCacheMissCounter = metrics.NewRegisteredCounter("arbiter/oracle/output/cache/miss", nil)
)

type CacheConfig struct {
	Enable     bool          `koanf:"enable"`
	Expiration time.Duration `koanf:"expiration"`
}

var DefaultCacheConfig = CacheConfig{
	Enable:     true,
	Expiration: time.Hour,
}

var TestCacheConfig = CacheConfig{
	Enable:     true,
	Expiration: time.Minute,
}

func CacheConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultCacheConfig.Enable, "enable in-memory caching of derived output roots")
	f.Duration(prefix+".expiration", DefaultCacheConfig.Expiration, "expiration time for cached output roots")
}

// CachedProvider memoizes output roots from a backing provider. An output
// root for a given L2 block never changes once the node has derived it, so
// hits are served from bigcache; concurrent requests for the same block
// coalesce onto one backend query so parallel proof workers don't stampede
// the rollup node. Errors are never cached. SyncStatus always passes
// through: a stale answer there defeats its purpose.
type CachedProvider struct {
	backend OutputProvider
	outputs *bigcache.BigCache
	pending *inprogresscache.Cache[uint64, common.Hash]
}

func NewCachedProvider(backend OutputProvider, config CacheConfig) (*CachedProvider, error) {
	outputs, err := bigcache.NewBigCache(bigcache.DefaultConfig(config.Expiration))
	if err != nil {
		return nil, err
	}
	return &CachedProvider{
		backend: backend,
		outputs: outputs,
		pending: inprogresscache.New[uint64, common.Hash](),
	}, nil
}

func (c *CachedProvider) OutputAtBlock(ctx context.Context, l2Block uint64) (common.Hash, error) {
	key := strconv.FormatUint(l2Block, 10)
	if cached, err := c.outputs.Get(key); err == nil && len(cached) == common.HashLength {
		outputCacheHitCounter.Inc(1)
		return common.BytesToHash(cached), nil
	}
	outputCacheMissCounter.Inc(1)
	return c.pending.Compute(l2Block, func() (common.Hash, error) {
		root, err := c.backend.OutputAtBlock(ctx, l2Block)
		if err != nil {
			return common.Hash{}, err
		}
		if err := c.outputs.Set(key, root.Bytes()); err != nil {
			return common.Hash{}, err
		}
		return root, nil
	})
}

func (c *CachedProvider) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	return c.backend.SyncStatus(ctx)
}

func (c *CachedProvider) Close() error {
	return c.outputs.Close()
}
