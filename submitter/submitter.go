// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package submitter posts settlement transactions and shepherds them to
// confirmation. Engines hand it calldata and forget about gas: entries live
// in a durable nonce-keyed queue that survives restarts, a background loop
// replaces stuck transactions with bumped fee caps, and confirmed entries
// are pruned once the chain nonce passes them.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/params"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/submitter/leveldb"
	redisstorage "github.com/tesseralabs/arbiter/submitter/redis"
	"github.com/tesseralabs/arbiter/submitter/slice"
	"github.com/tesseralabs/arbiter/submitter/storage"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/signature"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

var (
	txSentCounter      = metrics.NewRegisteredCounter("arbiter/submitter/tx/sent", nil)
	txReplacedCounter  = metrics.NewRegisteredCounter("arbiter/submitter/tx/replaced", nil)
	txConfirmedCounter = metrics.NewRegisteredCounter("arbiter/submitter/tx/confirmed", nil)
	txRejectedCounter  = metrics.NewRegisteredCounter("arbiter/submitter/tx/rejected", nil)
	txTimeoutCounter   = metrics.NewRegisteredCounter("arbiter/submitter/tx/timeout", nil)
	queueDepthGauge    = metrics.NewRegisteredGauge("arbiter/submitter/queue/depth", nil)
	balanceGauge       = metrics.NewRegisteredGauge("arbiter/submitter/balance/gwei", nil)
)

// Client is the subset of an Ethereum RPC client the submitter needs.
// *ethclient.Client satisfies it.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// QueueStorage persists queued transactions keyed by nonce.
type QueueStorage[Item any] interface {
	GetContents(ctx context.Context, startingIndex uint64, maxResults uint64) ([]*Item, error)
	GetLast(ctx context.Context) (*Item, error)
	Prune(ctx context.Context, keepStartingAt uint64) error
	Put(ctx context.Context, index uint64, prevItem *Item, newItem *Item) error
	Length(ctx context.Context) (int, error)
	IsPersistent() bool
}

const (
	MemoryStorage  = "memory"
	LevelDBStorage = "leveldb"
	RedisStorage   = "redis"
)

type Config struct {
	Storage             string                     `koanf:"storage"`
	RedisUrl            string                     `koanf:"redis-url"`
	ReplacementTimes    string                     `koanf:"replacement-times"`
	L1LookBehind        uint64                     `koanf:"l1-look-behind"`
	MaxFeeCapGwei       float64                    `koanf:"max-fee-cap-gwei"`
	MaxFeeCapDoubling   time.Duration              `koanf:"max-fee-cap-doubling"`
	Confirmations       uint64                     `koanf:"confirmations"`
	ConfirmationTimeout time.Duration              `koanf:"confirmation-timeout"`
	PollInterval        time.Duration              `koanf:"poll-interval"`
	RedisSigner         signature.SimpleHmacConfig `koanf:"redis-signer"`
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".storage", DefaultConfig.Storage, "queue storage backend (memory, leveldb or redis)")
	f.String(prefix+".redis-url", DefaultConfig.RedisUrl, "url of the redis server backing the redis queue storage")
	f.String(prefix+".replacement-times", DefaultConfig.ReplacementTimes, "comma-separated list of durations since first posting to attempt a replace-by-fee")
	f.Uint64(prefix+".l1-look-behind", DefaultConfig.L1LookBehind, "read chain state this many blocks behind the latest (tolerates lagging L1 nodes)")
	f.Float64(prefix+".max-fee-cap-gwei", DefaultConfig.MaxFeeCapGwei, "the maximum fee cap to use, doubled every max-fee-cap-doubling")
	f.Duration(prefix+".max-fee-cap-doubling", DefaultConfig.MaxFeeCapDoubling, "after this duration, double the fee cap (repeats)")
	f.Uint64(prefix+".confirmations", DefaultConfig.Confirmations, "blocks of depth before a submission counts as confirmed")
	f.Duration(prefix+".confirmation-timeout", DefaultConfig.ConfirmationTimeout, "give up awaiting a submission after this long")
	f.Duration(prefix+".poll-interval", DefaultConfig.PollInterval, "receipt polling interval while awaiting confirmation")
	signature.SimpleHmacConfigAddOptions(prefix+".redis-signer", f)
}

func (c *Config) Validate() error {
	switch c.Storage {
	case MemoryStorage, LevelDBStorage:
	case RedisStorage:
		if c.RedisUrl == "" {
			return fmt.Errorf("storage %q requires --submitter.redis-url", c.Storage)
		}
	default:
		return fmt.Errorf("unknown queue storage backend %q", c.Storage)
	}
	return nil
}

var DefaultConfig = Config{
	Storage:             LevelDBStorage,
	RedisUrl:            "",
	ReplacementTimes:    "5m,10m,20m,30m,1h,2h,4h,6h,8h,12h,16h,18h,20h,22h",
	L1LookBehind:        2,
	MaxFeeCapGwei:       100.,
	MaxFeeCapDoubling:   2 * time.Hour,
	Confirmations:       2,
	ConfirmationTimeout: 20 * time.Minute,
	PollInterval:        5 * time.Second,
	RedisSigner:         signature.EmptySimpleHmacConfig,
}

var TestConfig = Config{
	Storage:             MemoryStorage,
	ReplacementTimes:    "1s,2s,5s,10s,20s,30s,1m,5m",
	L1LookBehind:        0,
	MaxFeeCapGwei:       100.,
	MaxFeeCapDoubling:   5 * time.Second,
	Confirmations:       1,
	ConfirmationTimeout: 5 * time.Second,
	PollInterval:        10 * time.Millisecond,
	RedisSigner:         signature.TestSimpleHmacConfig,
}

// Submitter signs and posts transactions from a single account, keeping at
// most one signed candidate per nonce in its queue.
//
// Meta rides along with each queued transaction so a restarted engine can
// see what was in flight. It must be RLP serializable and deserializable.
type Submitter[Meta any] struct {
	stopwaiter.StopWaiter
	client           Client
	auth             *bind.TransactOpts
	config           *Config
	replacementTimes []time.Duration

	// these fields are protected by the mutex
	mutex     sync.Mutex
	lastBlock *big.Int
	balance   *big.Int
	nonce     uint64
	queue     QueueStorage[storage.QueuedTransaction[Meta]]
}

func NewSubmitter[Meta any](client Client, auth *bind.TransactOpts, db ethdb.Database, redisClient redis.UniversalClient, config *Config) (*Submitter[Meta], error) {
	var replacementTimes []time.Duration
	var lastReplacementTime time.Duration
	for _, s := range strings.Split(config.ReplacementTimes, ",") {
		t, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		if t <= lastReplacementTime {
			return nil, errors.New("replacement times must be increasing")
		}
		replacementTimes = append(replacementTimes, t)
		lastReplacementTime = t
	}
	if len(replacementTimes) == 0 {
		log.Warn("disabling replace-by-fee for transaction submitter")
	}
	// To avoid special casing "don't replace again", replace in 10 years
	replacementTimes = append(replacementTimes, time.Hour*24*365*10)

	var queue QueueStorage[storage.QueuedTransaction[Meta]]
	switch config.Storage {
	case MemoryStorage:
		queue = slice.NewStorage[storage.QueuedTransaction[Meta]]()
	case LevelDBStorage:
		if db == nil {
			return nil, errors.New("leveldb queue storage configured but no database was provided")
		}
		queue = leveldb.New[storage.QueuedTransaction[Meta]](db)
	case RedisStorage:
		if redisClient == nil {
			return nil, errors.New("redis queue storage configured but no redis client was provided")
		}
		var err error
		queue, err = redisstorage.NewStorage[storage.QueuedTransaction[Meta]](redisClient, "", &config.RedisSigner)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown queue storage backend %q", config.Storage)
	}
	return &Submitter[Meta]{
		client:           client,
		auth:             auth,
		config:           config,
		replacementTimes: replacementTimes,
		queue:            queue,
	}, nil
}

// Initialize syncs the starting nonce from the chain. Queued items from a
// previous run stay where they are; the maintenance loop picks them up.
func (s *Submitter[Meta]) Initialize(ctx context.Context) error {
	nonce, err := s.client.NonceAt(ctx, s.auth.From, nil)
	if err != nil {
		return err
	}
	s.nonce = nonce
	return nil
}

func (s *Submitter[Meta]) From() common.Address {
	return s.auth.From
}

// Balance returns the last observed balance of the submitting account, or
// nil before the first state refresh.
func (s *Submitter[Meta]) Balance() *big.Int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.balance == nil {
		return nil
	}
	return new(big.Int).Set(s.balance)
}

// GetNextNonceAndMeta returns the next unreserved nonce together with the
// metadata of the last queued transaction, or getMetaAtBlock's answer when
// the queue is empty. Restarted engines use this to see what is in flight.
func (s *Submitter[Meta]) GetNextNonceAndMeta(ctx context.Context, getMetaAtBlock func(blockNum *big.Int) (Meta, error)) (uint64, Meta, error) {
	var emptyMeta Meta
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.updateState(ctx); err != nil {
		return 0, emptyMeta, err
	}
	lastQueueItem, err := s.queue.GetLast(ctx)
	if err != nil {
		return 0, emptyMeta, err
	}
	if lastQueueItem != nil {
		return lastQueueItem.Data.Nonce + 1, lastQueueItem.Meta, nil
	}
	meta, err := getMetaAtBlock(s.lastBlock)
	return s.nonce, meta, err
}

const minRbfIncrease arbmath.Bips = arbmath.OneInBips * 11 / 10

// the mutex must be held by the caller
func (s *Submitter[Meta]) getFeeAndTipCaps(ctx context.Context, lastTipCap *big.Int, dataCreatedAt time.Time) (*big.Int, *big.Int, error) {
	latestHeader, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	newTipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}
	if lastTipCap != nil {
		newTipCap = arbmath.BigMax(newTipCap, arbmath.BigMulByBips(lastTipCap, minRbfIncrease))
	}
	newFeeCap := new(big.Int).Mul(latestHeader.BaseFee, big.NewInt(2))
	newFeeCap.Add(newFeeCap, newTipCap)

	elapsed := time.Since(dataCreatedAt)
	maxFeeCap := new(big.Int).SetUint64(uint64(s.config.MaxFeeCapGwei * params.GWei))
	maxFeeCapDoublings := int64(elapsed / s.config.MaxFeeCapDoubling)
	multiplier := new(big.Int).Exp(big.NewInt(2), big.NewInt(maxFeeCapDoublings), nil)
	maxFeeCap.Mul(maxFeeCap, multiplier)
	if arbmath.BigGreaterThan(newFeeCap, maxFeeCap) {
		logLevel := log.Info
		if maxFeeCapDoublings >= 3 {
			logLevel = log.Error
		} else if maxFeeCapDoublings >= 1 {
			logLevel = log.Warn
		}
		logLevel(
			"reducing proposed fee cap to current maximum",
			"proposedFeeCap", newFeeCap,
			"maxFeeCap", maxFeeCap,
			"elapsed", elapsed,
		)
		newFeeCap = maxFeeCap
	}

	return newFeeCap, newTipCap, nil
}

// Post signs a transaction for the next free nonce, enqueues it, and
// broadcasts it. A broadcast failure is not an error: the transaction is in
// the queue and the maintenance loop keeps resending it.
func (s *Submitter[Meta]) Post(ctx context.Context, meta Meta, to common.Address, calldata []byte, gasLimit uint64, value *big.Int) (*types.Transaction, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.updateState(ctx); err != nil {
		return nil, err
	}
	nonce, err := s.nextNonce(ctx)
	if err != nil {
		return nil, err
	}
	created := time.Now()
	feeCap, tipCap, err := s.getFeeAndTipCaps(ctx, nil, created)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}
	cost := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit))
	cost.Add(cost, value)
	if s.balance != nil && arbmath.BigGreaterThan(cost, s.balance) {
		return nil, fmt.Errorf("worst-case transaction cost %v exceeds balance %v of %v", cost, s.balance, s.auth.From)
	}
	inner := types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     new(big.Int).Set(value),
		Data:      calldata,
	}
	fullTx, err := s.auth.Signer(s.auth.From, types.NewTx(&inner))
	if err != nil {
		return nil, err
	}
	queuedTx := storage.QueuedTransaction[Meta]{
		FullTx:          fullTx,
		Data:            inner,
		Meta:            meta,
		Sent:            false,
		Created:         storage.RlpTime(created),
		NextReplacement: storage.RlpTime(time.Now().Add(s.replacementTimes[0])),
	}
	if err := s.sendTx(ctx, nil, &queuedTx); err != nil {
		return nil, err
	}
	return fullTx, nil
}

// the mutex must be held by the caller
func (s *Submitter[Meta]) nextNonce(ctx context.Context) (uint64, error) {
	lastQueueItem, err := s.queue.GetLast(ctx)
	if err != nil {
		return 0, err
	}
	if lastQueueItem != nil {
		return lastQueueItem.Data.Nonce + 1, nil
	}
	return s.nonce, nil
}

// sendTx stores newTx in the queue before broadcasting it, so a crash
// between the two leaves a queued transaction rather than a lost one. Only
// storage failures are returned; broadcast failures are retried by the
// maintenance loop.
//
// the mutex must be held by the caller
func (s *Submitter[Meta]) sendTx(ctx context.Context, prevTx *storage.QueuedTransaction[Meta], newTx *storage.QueuedTransaction[Meta]) error {
	if prevTx != nil && prevTx.Data.Nonce != newTx.Data.Nonce {
		return fmt.Errorf("prevTx nonce %v doesn't match newTx nonce %v", prevTx.Data.Nonce, newTx.Data.Nonce)
	}
	if err := s.queue.Put(ctx, newTx.Data.Nonce, prevTx, newTx); err != nil {
		return err
	}
	if err := s.client.SendTransaction(ctx, newTx.FullTx); err != nil {
		log.Warn("failed to send transaction, will retry", "err", err, "nonce", newTx.FullTx.Nonce(), "feeCap", newTx.FullTx.GasFeeCap())
		return nil
	}
	log.Info("submitter sent transaction", "nonce", newTx.FullTx.Nonce(), "hash", newTx.FullTx.Hash(), "feeCap", newTx.FullTx.GasFeeCap())
	txSentCounter.Inc(1)
	unsent := *newTx
	newTx.Sent = true
	if err := s.queue.Put(ctx, newTx.Data.Nonce, &unsent, newTx); err != nil {
		// The broadcast went out; losing the sent flag only costs a
		// redundant resend later.
		log.Error("failed to record transaction as sent", "err", err, "nonce", newTx.Data.Nonce)
		return err
	}
	return nil
}

// the mutex must be held by the caller
func (s *Submitter[Meta]) replaceTx(ctx context.Context, tx *storage.QueuedTransaction[Meta]) error {
	newFeeCap, newTipCap, err := s.getFeeAndTipCaps(ctx, tx.Data.GasTipCap, time.Time(tx.Created))
	if err != nil {
		return err
	}

	// The fee cap is bounded by what the account can still spend on this
	// transaction after its attached value.
	spendable := new(big.Int).Sub(s.balance, tx.Data.Value)
	if spendable.Sign() < 0 {
		spendable.SetInt64(0)
	}
	desiredFeeCap := newFeeCap
	maxFeeCap := new(big.Int).Div(spendable, new(big.Int).SetUint64(tx.Data.Gas))
	newFeeCap = arbmath.BigMin(newFeeCap, maxFeeCap)
	minNewFeeCap := arbmath.BigMulByBips(tx.Data.GasFeeCap, minRbfIncrease)
	if newFeeCap.Cmp(minNewFeeCap) < 0 {
		if desiredFeeCap.Cmp(minNewFeeCap) >= 0 {
			log.Error(
				"lack of balance prevents replacing transaction with a higher fee cap",
				"balance", s.balance,
				"gasLimit", tx.Data.Gas,
				"desiredFeeCap", desiredFeeCap,
				"maxFeeCap", maxFeeCap,
			)
		}
		nextReplacement := time.Now().Add(time.Minute)
		newTx := *tx
		newTx.NextReplacement = storage.RlpTime(nextReplacement)
		return s.queue.Put(ctx, tx.Data.Nonce, tx, &newTx)
	}

	newTx := *tx
	elapsed := time.Since(time.Time(tx.Created))
	for _, replacement := range s.replacementTimes {
		if elapsed >= replacement {
			continue
		}
		newTx.NextReplacement = storage.RlpTime(time.Time(tx.Created).Add(replacement))
		break
	}
	newTx.Sent = false
	newTx.Data.GasFeeCap = newFeeCap
	newTx.Data.GasTipCap = newTipCap
	newTx.FullTx, err = s.auth.Signer(s.auth.From, types.NewTx(&newTx.Data))
	if err != nil {
		return err
	}

	txReplacedCounter.Inc(1)
	return s.sendTx(ctx, tx, &newTx)
}

// updateState reads chain state at the configured look-behind depth, prunes
// transactions the chain nonce has passed, and refreshes the balance.
//
// the mutex must be held by the caller
func (s *Submitter[Meta]) updateState(ctx context.Context) error {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	s.lastBlock = arbmath.BigSub(header.Number, new(big.Int).SetUint64(s.config.L1LookBehind))
	if s.lastBlock.Sign() < 0 {
		s.lastBlock.SetInt64(0)
	}
	nonce, err := s.client.NonceAt(ctx, s.auth.From, s.lastBlock)
	if err != nil {
		return err
	}
	if nonce > s.nonce {
		txConfirmedCounter.Inc(int64(nonce - s.nonce))
		if err := s.queue.Prune(ctx, nonce); err != nil {
			return err
		}
		s.nonce = nonce
	}
	balance, err := s.client.BalanceAt(ctx, s.auth.From, s.lastBlock)
	if err != nil {
		return err
	}
	s.balance = balance
	balanceGwei := new(big.Int).Div(balance, big.NewInt(params.GWei))
	if balanceGwei.IsInt64() {
		balanceGauge.Update(balanceGwei.Int64())
	}
	if depth, err := s.queue.Length(ctx); err == nil {
		queueDepthGauge.Update(int64(depth))
	}
	return nil
}

const minWait = time.Second * 10

// Pending transactions beyond this window wait for earlier nonces to
// confirm before the loop manages them.
const maxQueueFetch = 1024

func (s *Submitter[Meta]) Start(ctxIn context.Context) {
	s.StopWaiter.Start(ctxIn, s)
	s.CallIteratively(s.maintainQueue)
}

// maintainQueue is one pass of the background loop: refresh chain state,
// replace overdue transactions, and resend any that never made it out.
func (s *Submitter[Meta]) maintainQueue(ctx context.Context) time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.updateState(ctx); err != nil {
		log.Warn("failed to update submitter chain state", "err", err)
		return minWait
	}
	now := time.Now()
	nextCheck := now.Add(s.replacementTimes[0])
	queueContents, err := s.queue.GetContents(ctx, s.nonce, maxQueueFetch)
	if err != nil {
		log.Warn("failed to get transaction queue contents", "err", err)
		return minWait
	}
	for _, tx := range queueContents {
		replacing := false
		if now.After(time.Time(tx.NextReplacement)) {
			replacing = true
			if err := s.replaceTx(ctx, tx); err != nil {
				log.Error("failed to replace-by-fee transaction", "err", err, "nonce", tx.Data.Nonce)
			}
		}
		if nextCheck.After(time.Time(tx.NextReplacement)) {
			nextCheck = time.Time(tx.NextReplacement)
		}
		if !replacing && !tx.Sent {
			if err := s.client.SendTransaction(ctx, tx.FullTx); err != nil {
				log.Warn("failed to re-send transaction", "err", err, "nonce", tx.Data.Nonce)
				nextSend := time.Now().Add(time.Minute)
				if nextCheck.After(nextSend) {
					nextCheck = nextSend
				}
				continue
			}
			txSentCounter.Inc(1)
			unsent := *tx
			tx.Sent = true
			if err := s.queue.Put(ctx, tx.Data.Nonce, &unsent, tx); err != nil {
				log.Error("failed to record transaction as sent", "err", err, "nonce", tx.Data.Nonce)
			}
		}
	}
	wait := time.Until(nextCheck)
	if wait < minWait {
		wait = minWait
	}
	return wait
}
