// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/containers/events"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/ephemeralerror"
	"github.com/tesseralabs/arbiter/util/headerreader"
	"github.com/tesseralabs/arbiter/util/readymarker"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

type WatcherConfig struct {
	Enable          bool          `koanf:"enable"`
	PollInterval    time.Duration `koanf:"poll-interval" reload:"hot"`
	MaxGetLogBlocks uint64        `koanf:"max-get-log-blocks" reload:"hot"`
	Confirmations   uint64        `koanf:"confirmations" reload:"hot"`
	ReorgDepthLimit uint64        `koanf:"reorg-depth-limit"`
	StartBlock      uint64        `koanf:"start-block"`
}

type WatcherConfigFetcher func() *WatcherConfig

var DefaultWatcherConfig = WatcherConfig{
	Enable:          true,
	PollInterval:    15 * time.Second,
	MaxGetLogBlocks: 2000,
	Confirmations:   1,
	ReorgDepthLimit: 512,
	StartBlock:      0,
}

var TestWatcherConfig = WatcherConfig{
	Enable:          true,
	PollInterval:    10 * time.Millisecond,
	MaxGetLogBlocks: 128,
	Confirmations:   0,
	ReorgDepthLimit: 64,
	StartBlock:      0,
}

func WatcherConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultWatcherConfig.Enable, "enable the ledger chain watcher")
	f.Duration(prefix+".poll-interval", DefaultWatcherConfig.PollInterval, "how often to scan the parent chain for new factory logs")
	f.Uint64(prefix+".max-get-log-blocks", DefaultWatcherConfig.MaxGetLogBlocks, "maximum block range per eth_getLogs call")
	f.Uint64(prefix+".confirmations", DefaultWatcherConfig.Confirmations, "number of blocks behind the head to ingest at")
	f.Uint64(prefix+".reorg-depth-limit", DefaultWatcherConfig.ReorgDepthLimit, "deepest reorg the watcher will unwind before giving up")
	f.Uint64(prefix+".start-block", DefaultWatcherConfig.StartBlock, "block to begin scanning from when the ledger is empty")
}

// Update announces one ingested block along with the ledger version it
// produced. Updates are wakeups: a subscriber that misses some re-reads the
// ledger and loses nothing.
type Update struct {
	Block   protocol.BlockRef
	Version uint64
}

// errRescanScheduled ends the current scan cycle after the cursor was
// rewound; the next cycle picks up from the rewound position.
var errRescanScheduled = errors.New("ledger rescan scheduled")

// Watcher drives ledger ingestion from the parent chain. One instance owns
// all writes to its ledger: it scans factory logs in confirmed-block order,
// detects reorgs by re-fetching headers at ingested heights, and unwinds the
// ledger before following a replacement branch.
type Watcher struct {
	stopwaiter.StopWaiter
	config   WatcherConfigFetcher
	ledger   *Ledger
	filterer *bindings.Filterer
	l1Reader *headerreader.HeaderReader

	updates  *events.Producer[Update]
	caughtUp readymarker.ReadyMarker

	// scanned trails the last block checked for logs, which may be past the
	// last ingested block when the tail of the range was empty.
	scanned     protocol.BlockRef
	haveScanned bool

	rescanFrom     uint64
	haveRescanFrom bool

	backoff      time.Duration
	scanErrorLog ephemeralerror.EphemeralErrorLogger
	fatalErrChan chan<- error
}

func NewWatcher(ledger *Ledger, filterer *bindings.Filterer, l1Reader *headerreader.HeaderReader, config WatcherConfigFetcher) *Watcher {
	return &Watcher{
		config:       config,
		ledger:       ledger,
		filterer:     filterer,
		l1Reader:     l1Reader,
		updates:      events.NewProducer[Update](),
		caughtUp:     readymarker.NewReadyMarker(),
		scanErrorLog: ephemeralerror.NewCountEphemeralErrorLogger(log.Warn, log.Error, 10),
	}
}

// SetFatalErrChan wires the channel unrecoverable failures are reported on.
// Must be called before Start.
func (w *Watcher) SetFatalErrChan(fatalErrChan chan<- error) {
	w.fatalErrChan = fatalErrChan
}

func (w *Watcher) Start(ctxIn context.Context) {
	w.StopWaiter.Start(ctxIn, w)
	w.LaunchThread(w.updates.Start)
	w.backoff = w.config().PollInterval
	w.CallIteratively(w.scan)
}

func (w *Watcher) StopAndWait() {
	w.StopWaiter.StopAndWait()
}

// Ledger returns the ledger this watcher feeds.
func (w *Watcher) Ledger() *Ledger {
	return w.ledger
}

// SubscribeUpdates returns a subscription delivering one Update per ingested
// block. Slow subscribers drop updates rather than blocking ingestion.
func (w *Watcher) SubscribeUpdates() *events.Subscription[Update] {
	return w.updates.Subscribe()
}

// WaitCaughtUp blocks until the watcher has scanned to the confirmed head at
// least once, or returns the fatal error that parked it.
func (w *Watcher) WaitCaughtUp(ctx context.Context) error {
	return w.caughtUp.WaitReady(ctx)
}

func (w *Watcher) CaughtUp() bool {
	return w.caughtUp.Ready()
}

func (w *Watcher) scan(ctx context.Context) time.Duration {
	cfg := w.config()
	err := w.scanOnce(ctx, cfg)
	if err == nil {
		w.scanErrorLog.Reset()
		w.backoff = cfg.PollInterval
		return cfg.PollInterval
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return cfg.PollInterval
	}
	if protocol.IsFatal(err) {
		// Never absorbed: park the watcher and fail anyone still waiting on
		// the first catch-up.
		log.Error("ledger watcher halting on unrecoverable failure", "err", err)
		if !w.caughtUp.Ready() {
			w.caughtUp.SignalReady(err)
		}
		if w.fatalErrChan != nil {
			select {
			case w.fatalErrChan <- fmt.Errorf("ledger watcher: %w", err):
			default:
			}
		}
		return time.Hour
	}
	w.scanErrorLog.Error("ledger scan failed", "err", err)
	w.backoff = arbmath.MinInt(w.backoff*2, time.Minute)
	return w.backoff
}

func (w *Watcher) scanOnce(ctx context.Context, cfg *WatcherConfig) error {
	head, err := w.l1Reader.LastHeader(ctx)
	if err != nil {
		return protocol.Transient("LastHeader", err)
	}
	target := head.Number.Uint64()
	if target < cfg.Confirmations {
		return nil
	}
	target -= cfg.Confirmations

	if err := w.checkReorg(ctx, cfg); err != nil {
		return err
	}

	from := cfg.StartBlock
	if w.haveScanned {
		from = w.scanned.Number + 1
	} else if last, ok := w.ledger.LastIngested(); ok {
		from = last.Number + 1
	} else if w.haveRescanFrom {
		from = w.rescanFrom
	}

	for from <= target {
		to := target
		if cfg.MaxGetLogBlocks > 0 && to-from+1 > cfg.MaxGetLogBlocks {
			to = from + cfg.MaxGetLogBlocks - 1
		}
		if err := w.scanRange(ctx, from, to); err != nil {
			if errors.Is(err, errRescanScheduled) {
				return nil
			}
			return err
		}
		from = to + 1
	}
	if !w.caughtUp.Ready() {
		w.caughtUp.SignalReady(nil)
	}
	return nil
}

// checkReorg verifies the ingested tail and the scan cursor are still on the
// canonical chain, unwinding the ledger when they are not.
func (w *Watcher) checkReorg(ctx context.Context, cfg *WatcherConfig) error {
	last, ingested := w.ledger.LastIngested()
	if ingested {
		header, err := w.l1Reader.HeaderByNumber(ctx, last.Number)
		if err != nil {
			return protocol.Transient("HeaderByNumber", err)
		}
		if header.Hash() != last.Hash {
			return w.unwind(ctx, cfg)
		}
	}
	if w.haveScanned && (!ingested || w.scanned.Number > last.Number) {
		header, err := w.l1Reader.HeaderByNumber(ctx, w.scanned.Number)
		if err != nil {
			return protocol.Transient("HeaderByNumber", err)
		}
		if header.Hash() != w.scanned.Hash {
			// The blocks past the ingested tail were empty on the old branch
			// but may not be on the new one. Rescan them.
			log.Warn("scan cursor left the canonical chain, rescanning", "scanned", w.scanned)
			w.haveScanned = false
		}
	}
	return nil
}

// unwind rolls the ledger back to the deepest ingested block still on the
// canonical chain and rewinds the scan cursor to it.
func (w *Watcher) unwind(ctx context.Context, cfg *WatcherConfig) error {
	w.haveScanned = false
	limit := int(cfg.ReorgDepthLimit)
	blocks := w.ledger.IngestedBlocks(limit)
	for depth, block := range blocks {
		header, err := w.l1Reader.HeaderByNumber(ctx, block.Number)
		if err != nil {
			return protocol.Transient("HeaderByNumber", err)
		}
		if header.Hash() == block.Hash {
			w.ledger.RollbackTo(block.Number)
			w.scanned = block
			w.haveScanned = true
			log.Warn("chain reorg unwound ledger", "to", block, "droppedBlocks", depth)
			return nil
		}
	}
	if len(blocks) == limit {
		return fmt.Errorf("reorg deeper than %d ingested blocks, refusing to unwind", limit)
	}
	// Every ingested block is off the canonical chain. Start over.
	log.Warn("entire ledger off the canonical chain, rescanning from scratch", "blocks", len(blocks))
	w.ledger.RollbackTo(0)
	return nil
}

func (w *Watcher) scanRange(ctx context.Context, from, to uint64) error {
	evs, err := w.filterer.FilterGameEvents(ctx, from, to)
	if err != nil {
		return err
	}
	// FilterLogs returns logs ordered by block then log index, so consecutive
	// runs of one block hash are that block's full batch.
	for start := 0; start < len(evs); {
		block := evs[start].Header().Block
		end := start + 1
		for end < len(evs) && evs[end].Header().Block.Hash == block.Hash {
			end++
		}
		parent := common.Hash{}
		if last, ok := w.ledger.LastIngested(); ok {
			parent = last.Hash
		}
		if err := w.ledger.IngestBlock(block, parent, evs[start:end]); err != nil {
			var inconsistency *protocol.LedgerInconsistencyError
			if errors.As(err, &inconsistency) && inconsistency.MissingParent != protocol.NoParent {
				return w.backfill(ctx, inconsistency.MissingParent, to)
			}
			return err
		}
		w.updates.Broadcast(ctx, Update{Block: block, Version: w.ledger.Version()})
		start = end
	}
	header, err := w.l1Reader.HeaderByNumber(ctx, to)
	if err != nil {
		return protocol.Transient("HeaderByNumber", err)
	}
	w.scanned = protocol.BlockRef{Number: to, Hash: header.Hash()}
	w.haveScanned = true
	w.haveRescanFrom = false
	return nil
}

// backfill handles a creation referencing a game below the configured scan
// start. It chases the ancestry on chain to the earliest missing creation,
// rewinds the ledger, and schedules a rescan from that block so ancestors are
// ingested in order.
func (w *Watcher) backfill(ctx context.Context, missing protocol.GameID, head uint64) error {
	lowest := uint64(0)
	for id := missing; ; {
		creation, err := w.filterer.LookupGameCreation(ctx, id, 0, head)
		if err != nil {
			return err
		}
		lowest = creation.Block.Number
		if creation.ParentID == protocol.NoParent || w.ledger.Game(creation.ParentID) != nil {
			break
		}
		id = creation.ParentID
	}
	log.Warn("scan started past game ancestry, rescanning", "missingGame", missing, "fromBlock", lowest)
	w.ledger.RollbackTo(0)
	w.scanned = protocol.BlockRef{}
	w.haveScanned = false
	w.rescanFrom = lowest
	w.haveRescanFrom = true
	return errRescanScheduled
}
