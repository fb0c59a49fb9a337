// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package headerreader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tesseralabs/arbiter/util"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

// Client is the subset of an Ethereum client the header reader needs.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

type Config struct {
	PollOnly             bool          `koanf:"poll-only" reload:"hot"`
	PollInterval         time.Duration `koanf:"poll-interval" reload:"hot"`
	SubscribeErrInterval time.Duration `koanf:"subscribe-err-interval" reload:"hot"`
	OldHeaderTimeout     time.Duration `koanf:"old-header-timeout" reload:"hot"`
	UseFinalityData      bool          `koanf:"use-finality-data" reload:"hot"`
	HeaderCacheSize      int           `koanf:"header-cache-size"`
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	PollOnly:             false,
	PollInterval:         15 * time.Second,
	SubscribeErrInterval: 5 * time.Minute,
	OldHeaderTimeout:     5 * time.Minute,
	UseFinalityData:      true,
	HeaderCacheSize:      512,
}

var TestConfig = Config{
	PollOnly:             true,
	PollInterval:         time.Millisecond * 10,
	SubscribeErrInterval: time.Second,
	OldHeaderTimeout:     time.Minute,
	UseFinalityData:      false,
	HeaderCacheSize:      64,
}

func AddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".poll-only", DefaultConfig.PollOnly, "do not attempt to subscribe to header events")
	f.Duration(prefix+".poll-interval", DefaultConfig.PollInterval, "interval when polling endpoint")
	f.Duration(prefix+".subscribe-err-interval", DefaultConfig.SubscribeErrInterval, "interval for subscribe error")
	f.Duration(prefix+".old-header-timeout", DefaultConfig.OldHeaderTimeout, "warns if the latest header is at least this old")
	f.Bool(prefix+".use-finality-data", DefaultConfig.UseFinalityData, "use safe and finalized block tags from the parent chain")
	f.Int(prefix+".header-cache-size", DefaultConfig.HeaderCacheSize, "number of headers to keep in the by-hash cache")
}

var ErrBlockNumberNotSupported = errors.New("block number not supported")

// HeaderReader tracks the parent chain head and fans new headers out to
// subscribers. Slow subscribers miss intermediate headers rather than
// blocking the reader.
type HeaderReader struct {
	stopwaiter.StopWaiter
	config ConfigFetcher
	client Client

	chanMutex           sync.RWMutex
	outChannels         map[chan<- *types.Header]struct{}
	lastBroadcastHash   common.Hash
	lastBroadcastHeader *types.Header
	lastBroadcastTime   time.Time
	blockInterval       *arbmath.MovingAverage[int64]

	headerCache *lru.Cache[common.Hash, *types.Header]

	safe      cachedHeader
	finalized cachedHeader
}

type cachedHeader struct {
	mutex          sync.Mutex
	blockTag       string
	rpcBlockNum    *big.Int
	headWhenCached *types.Header
	header         *types.Header
}

func New(client Client, config ConfigFetcher) (*HeaderReader, error) {
	headerCache, err := lru.New[common.Hash, *types.Header](config().HeaderCacheSize)
	if err != nil {
		return nil, err
	}
	return &HeaderReader{
		config:        config,
		client:        client,
		outChannels:   make(map[chan<- *types.Header]struct{}),
		blockInterval: arbmath.NewMovingAverage[int64](25),
		headerCache:   headerCache,
		safe:          cachedHeader{blockTag: "safe", rpcBlockNum: big.NewInt(rpc.SafeBlockNumber.Int64())},
		finalized:     cachedHeader{blockTag: "finalized", rpcBlockNum: big.NewInt(rpc.FinalizedBlockNumber.Int64())},
	}, nil
}

// Subscribe returns a channel of new headers along with an unsubscribe
// function. The channel is buffered; subscribers that fall behind miss
// intermediate headers and should re-read the latest state when woken.
func (s *HeaderReader) Subscribe() (<-chan *types.Header, func()) {
	s.chanMutex.Lock()
	defer s.chanMutex.Unlock()
	result := make(chan *types.Header, 32)
	var outChannel chan<- *types.Header = result
	s.outChannels[outChannel] = struct{}{}
	unsubscribe := func() {
		s.chanMutex.Lock()
		defer s.chanMutex.Unlock()
		delete(s.outChannels, outChannel)
	}
	return result, unsubscribe
}

func (s *HeaderReader) possiblyBroadcast(header *types.Header) {
	s.chanMutex.Lock()
	defer s.chanMutex.Unlock()
	hash := header.Hash()
	if hash == s.lastBroadcastHash {
		return
	}
	if s.lastBroadcastHeader != nil && header.Time > s.lastBroadcastHeader.Time {
		// #nosec G115
		s.blockInterval.Update(int64(header.Time - s.lastBroadcastHeader.Time))
	}
	s.lastBroadcastHash = hash
	s.lastBroadcastHeader = header
	s.lastBroadcastTime = time.Now()
	s.headerCache.Add(hash, header)
	for ch := range s.outChannels {
		select {
		case ch <- header:
		default:
		}
	}
}

func (s *HeaderReader) broadcastLoop(ctx context.Context) {
	var clientSubscription ethereum.Subscription
	defer func() {
		if clientSubscription != nil {
			clientSubscription.Unsubscribe()
		}
	}()
	inputChannel := make(chan *types.Header)
	ticker := time.NewTicker(s.config().PollInterval)
	defer ticker.Stop()
	nextSubscribeErr := time.Now().Add(-time.Second)
	oldHeaderWarn := util.NewEphemeralErrorHandler(10*time.Minute, "no new headers", s.config().OldHeaderTimeout)
	for {
		if clientSubscription == nil && !s.config().PollOnly && time.Now().After(nextSubscribeErr) {
			var err error
			clientSubscription, err = s.client.SubscribeNewHead(ctx, inputChannel)
			if err != nil {
				clientSubscription = nil
				if ctx.Err() != nil {
					return
				}
				log.Warn("failed subscribing to parent chain headers", "err", err)
				nextSubscribeErr = time.Now().Add(s.config().SubscribeErrInterval)
			}
		}
		var subErrChannel <-chan error
		if clientSubscription != nil {
			subErrChannel = clientSubscription.Err()
		}
		select {
		case header := <-inputChannel:
			s.possiblyBroadcast(header)
			ticker.Reset(s.config().PollInterval)
		case <-ticker.C:
			header, err := s.client.HeaderByNumber(ctx, nil)
			if err == nil {
				s.possiblyBroadcast(header)
				oldHeaderWarn.Reset()
			} else if ctx.Err() == nil {
				logLevel := oldHeaderWarn.LogLevel(errors.New("no new headers"), log.Warn)
				logLevel("failed polling latest parent chain header", "err", err)
			}
		case err := <-subErrChannel:
			if ctx.Err() != nil {
				return
			}
			clientSubscription.Unsubscribe()
			clientSubscription = nil
			if err != nil {
				log.Warn("parent chain header subscription failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// LastHeader returns the most recently seen head, querying the client if
// nothing has been broadcast yet.
func (s *HeaderReader) LastHeader(ctx context.Context) (*types.Header, error) {
	s.chanMutex.RLock()
	header := s.lastBroadcastHeader
	s.chanMutex.RUnlock()
	if header != nil {
		return header, nil
	}
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching latest parent chain header: %w", err)
	}
	s.possiblyBroadcast(header)
	return header, nil
}

// HeaderByHash serves headers from an LRU cache backed by the client, which
// keeps reorg walk-backs from hammering the endpoint.
func (s *HeaderReader) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	if header, ok := s.headerCache.Get(hash); ok {
		return header, nil
	}
	header, err := s.client.HeaderByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	s.headerCache.Add(hash, header)
	return header, nil
}

func (s *HeaderReader) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	// #nosec G115
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, err
	}
	s.headerCache.Add(header.Hash(), header)
	return header, nil
}

func (s *HeaderReader) getCached(ctx context.Context, c *cachedHeader) (*types.Header, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	currentHead, err := s.LastHeader(ctx)
	if err != nil {
		return nil, err
	}
	if currentHead == c.headWhenCached {
		return c.header, nil
	}
	if !s.config().UseFinalityData {
		return nil, ErrBlockNumberNotSupported
	}
	header, err := s.client.HeaderByNumber(ctx, c.rpcBlockNum)
	if err != nil {
		return nil, fmt.Errorf("fetching %v parent chain header: %w", c.blockTag, err)
	}
	c.header = header
	c.headWhenCached = currentHead
	return c.header, nil
}

func (s *HeaderReader) LatestSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	header, err := s.getCached(ctx, &s.safe)
	if errors.Is(err, ErrBlockNumberNotSupported) {
		return nil, fmt.Errorf("%w: safe block not supported by parent chain", ErrBlockNumberNotSupported)
	}
	return header, err
}

func (s *HeaderReader) LatestSafeBlockNr(ctx context.Context) (uint64, error) {
	header, err := s.LatestSafeBlockHeader(ctx)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func (s *HeaderReader) LatestFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	header, err := s.getCached(ctx, &s.finalized)
	if errors.Is(err, ErrBlockNumberNotSupported) {
		return nil, fmt.Errorf("%w: finalized block not supported by parent chain", ErrBlockNumberNotSupported)
	}
	return header, err
}

func (s *HeaderReader) LatestFinalizedBlockNr(ctx context.Context) (uint64, error) {
	header, err := s.LatestFinalizedBlockHeader(ctx)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

// BlockInterval estimates the parent chain block time from recently
// observed headers, defaulting to 12s before enough samples arrive.
func (s *HeaderReader) BlockInterval() time.Duration {
	s.chanMutex.RLock()
	defer s.chanMutex.RUnlock()
	avg := s.blockInterval.Average()
	if avg <= 0 {
		return 12 * time.Second
	}
	return time.Duration(avg) * time.Second
}

func (s *HeaderReader) Client() Client {
	return s.client
}

func (s *HeaderReader) Start(ctxIn context.Context) {
	s.StopWaiter.Start(ctxIn, s)
	s.LaunchThread(s.broadcastLoop)
}

func (s *HeaderReader) StopAndWait() {
	s.StopWaiter.StopAndWait()
}
