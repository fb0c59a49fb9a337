// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package proposer extends the canonical proposal chain. A state machine
// Idle -> Submitting -> AwaitingConfirmation picks the next claimable L2
// height, derives its output root from the rollup node, posts a createGame
// transaction through the settlement submitter with the required bond
// attached, and treats the proposal as complete only once the ledger
// ingests its creation event. Nothing local is trusted over the chain: a
// submission return value is a hint, the ingested event is the fact.
package proposer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/oracle"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/submitter"
	"github.com/tesseralabs/arbiter/util"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/ephemeralerror"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

var (
	proposalsSubmittedCounter = metrics.NewRegisteredCounter("arbiter/proposer/proposals/submitted", nil)
	proposalsConfirmedCounter = metrics.NewRegisteredCounter("arbiter/proposer/proposals/confirmed", nil)
	proposalsAbandonedCounter = metrics.NewRegisteredCounter("arbiter/proposer/proposals/abandoned", nil)
)

// TxSubmitter is the slice of the settlement submitter the proposer uses.
// *submitter.Submitter[protocol.TxMeta] satisfies it.
type TxSubmitter interface {
	From() common.Address
	Balance() *big.Int
	GetNextNonceAndMeta(ctx context.Context, getMetaAtBlock func(blockNum *big.Int) (protocol.TxMeta, error)) (uint64, protocol.TxMeta, error)
	SubmitAndAwait(ctx context.Context, req submitter.Request[protocol.TxMeta]) (*submitter.SubmissionResult, error)
}

// FactoryCaller is the read side of the dispute-game factory the proposer
// needs. *bindings.Factory satisfies it.
type FactoryCaller interface {
	Address() common.Address
	RequiredBond(ctx context.Context) (*big.Int, error)
}

type Config struct {
	Enable                 bool          `koanf:"enable"`
	Interval               time.Duration `koanf:"interval" reload:"hot"`
	ProposalIntervalBlocks uint64        `koanf:"proposal-interval-blocks"`
	GasLimit               uint64        `koanf:"gas-limit" reload:"hot"`
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	Enable:                 false,
	Interval:               30 * time.Second,
	ProposalIntervalBlocks: 300,
	GasLimit:               1_000_000,
}

var TestConfig = Config{
	Enable:                 true,
	Interval:               10 * time.Millisecond,
	ProposalIntervalBlocks: 64,
	GasLimit:               1_000_000,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultConfig.Enable, "enable the proposer engine")
	f.Duration(prefix+".interval", DefaultConfig.Interval, "how often the proposer looks for the next claimable height")
	f.Uint64(prefix+".proposal-interval-blocks", DefaultConfig.ProposalIntervalBlocks, "number of L2 blocks each proposal advances the canonical chain by")
	f.Uint64(prefix+".gas-limit", DefaultConfig.GasLimit, "gas limit for createGame transactions")
}

// pendingProposal is the claim the machine is shepherding. The submission
// thread reports through finish; the act loop polls through outcome.
type pendingProposal struct {
	parent  protocol.GameID
	l2Block uint64
	root    common.Hash
	bond    *big.Int

	// adopted proposals were found in the submission queue at startup;
	// they have no submission thread, so the queue itself is polled.
	adopted bool

	mu     sync.Mutex
	done   bool
	result *submitter.SubmissionResult
	err    error
}

func (p *pendingProposal) finish(result *submitter.SubmissionResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.result = result
	p.err = err
}

func (p *pendingProposal) outcome() (bool, *submitter.SubmissionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.result, p.err
}

// Proposer is the claim-producing engine. All state transitions happen on
// the single act loop; only the submission thread runs beside it, and it
// communicates through the pending proposal's mutex.
type Proposer struct {
	stopwaiter.StopWaiter
	config    ConfigFetcher
	ledger    *ledger.Ledger
	oracle    oracle.OutputProvider
	factory   FactoryCaller
	submitter TxSubmitter

	fsm     *util.Fsm[proposerAction, State]
	pending *pendingProposal

	backoff     time.Duration
	actErrorLog ephemeralerror.EphemeralErrorLogger
}

func New(l *ledger.Ledger, provider oracle.OutputProvider, factory FactoryCaller, txSubmitter TxSubmitter, config ConfigFetcher) (*Proposer, error) {
	fsm, err := newProposerFsm(Idle)
	if err != nil {
		return nil, err
	}
	return &Proposer{
		config:      config,
		ledger:      l,
		oracle:      provider,
		factory:     factory,
		submitter:   txSubmitter,
		fsm:         fsm,
		actErrorLog: ephemeralerror.NewCountEphemeralErrorLogger(log.Warn, log.Error, 10),
	}, nil
}

func (p *Proposer) Start(ctxIn context.Context) {
	p.StopWaiter.Start(ctxIn, p)
	p.backoff = p.config().Interval
	p.CallIteratively(p.act)
}

func (p *Proposer) StopAndWait() {
	p.StopWaiter.StopAndWait()
}

// CurrentState is the machine's position, for status surfaces and tests.
func (p *Proposer) CurrentState() State {
	return p.fsm.Current().State
}

func (p *Proposer) act(ctx context.Context) time.Duration {
	cfg := p.config()
	err := p.Act(ctx)
	if err == nil {
		p.actErrorLog.Reset()
		p.backoff = cfg.Interval
		return cfg.Interval
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return cfg.Interval
	}
	if protocol.IsFatal(err) {
		log.Error("proposer halting on unrecoverable failure", "err", err)
		return time.Hour
	}
	p.actErrorLog.Error("proposer cycle failed", "err", err, "state", p.fsm.Current().State)
	p.backoff = arbmath.MinInt(p.backoff*2, time.Minute)
	return p.backoff
}

// Act runs one cycle of the machine from its current state.
func (p *Proposer) Act(ctx context.Context) error {
	current := p.fsm.Current()
	switch current.State {
	case Idle:
		return p.actIdle(ctx)
	case Submitting:
		return p.actSubmit(ctx)
	case AwaitingConfirmation:
		return p.actAwait(ctx)
	}
	return protocol.Fatalf("invalid proposer state %s", current.State)
}

func emptyMeta(*big.Int) (protocol.TxMeta, error) {
	return protocol.TxMeta{}, nil
}

// actIdle selects the next candidate claim, or adopts one a previous run
// left in the submission queue.
func (p *Proposer) actIdle(ctx context.Context) error {
	// Reading the queue also refreshes the submitter's chain state, so the
	// bond check below sees a current balance.
	_, queuedMeta, err := p.submitter.GetNextNonceAndMeta(ctx, emptyMeta)
	if err != nil {
		return err
	}
	view := p.ledger.CanonicalView()
	tip := view.Tip()
	if tip == nil {
		log.Debug("no anchor game ingested yet, nothing to extend")
		return nil
	}
	if queuedMeta.Kind == protocol.TxCreateGame && !view.ClaimedAtHeight(queuedMeta.ParentID, queuedMeta.L2BlockNumber) {
		log.Info("adopting in-flight proposal from the submission queue",
			"parent", queuedMeta.ParentID, "l2Block", queuedMeta.L2BlockNumber, "outputRoot", queuedMeta.OutputRoot)
		p.pending = &pendingProposal{
			parent:  queuedMeta.ParentID,
			l2Block: queuedMeta.L2BlockNumber,
			root:    queuedMeta.OutputRoot,
			adopted: true,
		}
		if err := p.fsm.Do(proposeClaim{}); err != nil {
			return err
		}
		return p.fsm.Do(awaitConfirmation{})
	}

	cfg := p.config()
	target := tip.L2BlockNumber + cfg.ProposalIntervalBlocks
	status, err := p.oracle.SyncStatus(ctx)
	if err != nil {
		return err
	}
	if status.SafeL2.Number < target {
		log.Debug("rollup safe head below next proposal height", "safe", status.SafeL2.Number, "target", target)
		return nil
	}
	if view.ClaimedAtHeight(tip.ID, target) {
		log.Debug("target height already claimed on the canonical tip", "parent", tip.ID, "l2Block", target)
		return nil
	}
	root, err := p.oracle.OutputAtBlock(ctx, target)
	if err != nil {
		return err
	}
	bond, err := p.factory.RequiredBond(ctx)
	if err != nil {
		return err
	}
	if balance := p.submitter.Balance(); balance != nil && arbmath.BigGreaterThan(bond, balance) {
		log.Error("wallet balance below required bond, skipping proposal",
			"wallet", p.submitter.From(), "balance", balance, "bond", bond)
		return nil
	}
	p.pending = &pendingProposal{
		parent:  tip.ID,
		l2Block: target,
		root:    root,
		bond:    bond,
	}
	return p.fsm.Do(proposeClaim{})
}

// actSubmit re-validates the candidate against a fresh view and hands it to
// the submitter on a thread of its own, so confirmation waiting never
// blocks the act loop.
func (p *Proposer) actSubmit(ctx context.Context) error {
	pending := p.pending
	if pending == nil {
		return p.fsm.Do(backToIdle{})
	}
	view := p.ledger.CanonicalView()
	tip := view.Tip()
	if tip == nil || tip.ID != pending.parent || view.ClaimedAtHeight(pending.parent, pending.l2Block) {
		log.Warn("candidate went stale before submission, abandoning",
			"parent", pending.parent, "l2Block", pending.l2Block)
		proposalsAbandonedCounter.Inc(1)
		p.pending = nil
		return p.fsm.Do(abandonProposal{})
	}
	calldata, err := bindings.PackCreateGame(pending.parent, pending.root, pending.l2Block)
	if err != nil {
		return err
	}
	req := submitter.Request[protocol.TxMeta]{
		Meta: protocol.TxMeta{
			Kind:          protocol.TxCreateGame,
			ParentID:      pending.parent,
			L2BlockNumber: pending.l2Block,
			OutputRoot:    pending.root,
		},
		To:       p.factory.Address(),
		Calldata: calldata,
		GasLimit: p.config().GasLimit,
		Value:    pending.bond,
	}
	p.LaunchThread(func(ctx context.Context) {
		result, err := p.submitter.SubmitAndAwait(ctx, req)
		pending.finish(result, err)
	})
	proposalsSubmittedCounter.Inc(1)
	log.Info("submitted proposal",
		"parent", pending.parent, "l2Block", pending.l2Block, "outputRoot", pending.root, "bond", pending.bond)
	return p.fsm.Do(awaitConfirmation{})
}

// actAwait waits for the ledger to ingest the claim. The ledger is the only
// authority on completion; the submission outcome merely decides whether
// the machine keeps waiting or re-derives.
func (p *Proposer) actAwait(ctx context.Context) error {
	pending := p.pending
	if pending == nil {
		return p.fsm.Do(backToIdle{})
	}
	view := p.ledger.CanonicalView()
	if game := view.ClaimAtHeight(pending.parent, pending.l2Block); game != nil {
		p.pending = nil
		if game.OutputRoot == pending.root && game.Proposer == p.submitter.From() {
			proposalsConfirmedCounter.Inc(1)
			log.Info("proposal confirmed on chain",
				"game", game.ID, "l2Block", game.L2BlockNumber, "outputRoot", game.OutputRoot)
			return p.fsm.Do(confirmProposal{})
		}
		proposalsAbandonedCounter.Inc(1)
		log.Warn("competing claim landed at our target height, abandoning",
			"game", game.ID, "proposer", game.Proposer, "outputRoot", game.OutputRoot)
		return p.fsm.Do(abandonProposal{})
	}

	if pending.adopted {
		// No submission thread to ask; the queue stands in for it.
		_, queuedMeta, err := p.submitter.GetNextNonceAndMeta(ctx, emptyMeta)
		if err != nil {
			return err
		}
		stillQueued := queuedMeta.Kind == protocol.TxCreateGame &&
			queuedMeta.ParentID == pending.parent &&
			queuedMeta.L2BlockNumber == pending.l2Block
		if stillQueued {
			return nil
		}
		log.Warn("adopted proposal left the queue without a creation event, re-deriving",
			"parent", pending.parent, "l2Block", pending.l2Block)
		p.pending = nil
		return p.fsm.Do(backToIdle{})
	}

	done, _, err := pending.outcome()
	if !done {
		return nil
	}
	if err == nil {
		// Included on chain; completion still waits for ledger ingestion.
		return nil
	}
	var rejected *protocol.SubmissionRejectedError
	switch {
	case errors.As(err, &rejected):
		proposalsAbandonedCounter.Inc(1)
		log.Error("proposal transaction reverted", "tx", rejected.TxHash, "reason", rejected.Reason)
		p.pending = nil
		return p.fsm.Do(abandonProposal{})
	case errors.Is(err, submitter.ErrConfirmationTimeout):
		// No competitor appeared at the height (checked above), so a fresh
		// derivation may resubmit.
		log.Warn("proposal confirmation timed out, re-deriving",
			"parent", pending.parent, "l2Block", pending.l2Block)
		p.pending = nil
		return p.fsm.Do(backToIdle{})
	default:
		p.pending = nil
		if doErr := p.fsm.Do(backToIdle{}); doErr != nil {
			return doErr
		}
		return err
	}
}
