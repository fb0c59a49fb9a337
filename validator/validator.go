// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package validator watches the dispute-game tree for faulty claims and
// drives them to resolution. A scan loop recomputes every active claim's
// output root against the rollup node's derivation and hands mismatches to
// a bounded proof scheduler; finished proofs come back through the shared
// settlement submitter as resolution transactions. Three strategies:
// watchtower logs faults and never transacts, defensive challenges and
// disproves faults, resolve additionally confirms correct claims that the
// chain's timeout policy would not settle on its own.
package validator

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/oracle"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/submitter"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/ephemeralerror"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

var (
	faultsDetectedCounter       = metrics.NewRegisteredCounter("arbiter/validator/faults/detected", nil)
	challengesSubmittedCounter  = metrics.NewRegisteredCounter("arbiter/validator/challenges/submitted", nil)
	resolutionsSubmittedCounter = metrics.NewRegisteredCounter("arbiter/validator/resolutions/submitted", nil)
)

type Strategy uint8

const (
	// Watchtower: don't do anything on chain, but log if there's a faulty claim
	WatchtowerStrategy Strategy = iota
	// Defensive: challenge and disprove faulty claims
	DefensiveStrategy
	// Resolve: defensive, plus confirm correct claims under deadline pressure
	ResolveStrategy
)

func strategyFromString(s string) (Strategy, error) {
	if strings.ToLower(s) == "watchtower" {
		return WatchtowerStrategy, nil
	} else if strings.ToLower(s) == "defensive" {
		return DefensiveStrategy, nil
	} else if strings.ToLower(s) == "resolve" {
		return ResolveStrategy, nil
	} else {
		return WatchtowerStrategy, fmt.Errorf("unknown validator strategy \"%v\"", s)
	}
}

type Config struct {
	Enable              bool          `koanf:"enable"`
	Mode                string        `koanf:"mode"`
	ScanInterval        time.Duration `koanf:"scan-interval" reload:"hot"`
	ConfirmationWindow  uint64        `koanf:"confirmation-window"`
	RequireChallenge    bool          `koanf:"require-challenge"`
	AssumeDeadlineValid bool          `koanf:"assume-deadline-valid"`
	ProofWorkers        int           `koanf:"proof-workers"`
	ProofAttempts       uint64        `koanf:"proof-attempts"`
	ProofPollInterval   time.Duration `koanf:"proof-poll-interval" reload:"hot"`
	ProofRetryInterval  time.Duration `koanf:"proof-retry-interval" reload:"hot"`
	GasLimit            uint64        `koanf:"gas-limit" reload:"hot"`
}

func (c *Config) Validate() error {
	if _, err := strategyFromString(c.Mode); err != nil {
		return err
	}
	if c.ProofWorkers < 1 {
		return errors.New("validator needs at least one proof worker")
	}
	return nil
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	Enable:              false,
	Mode:                "defensive",
	ScanInterval:        30 * time.Second,
	ConfirmationWindow:  45,
	RequireChallenge:    true,
	AssumeDeadlineValid: true,
	ProofWorkers:        4,
	ProofAttempts:       3,
	ProofPollInterval:   15 * time.Second,
	ProofRetryInterval:  10 * time.Second,
	GasLimit:            2_000_000,
}

var TestConfig = Config{
	Enable:              true,
	Mode:                "defensive",
	ScanInterval:        10 * time.Millisecond,
	ConfirmationWindow:  45,
	RequireChallenge:    true,
	AssumeDeadlineValid: true,
	ProofWorkers:        4,
	ProofAttempts:       3,
	ProofPollInterval:   time.Millisecond,
	ProofRetryInterval:  time.Millisecond,
	GasLimit:            2_000_000,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultConfig.Enable, "enable the validator engine")
	f.String(prefix+".mode", DefaultConfig.Mode, "validator strategy, either watchtower, defensive, or resolve")
	f.Duration(prefix+".scan-interval", DefaultConfig.ScanInterval, "how often to rescan active games")
	f.Uint64(prefix+".confirmation-window", DefaultConfig.ConfirmationWindow, "how close (in L1 blocks) a deadline must be before a correct claim is confirmed explicitly")
	f.Bool(prefix+".require-challenge", DefaultConfig.RequireChallenge, "challenge a faulty claim before submitting its fault resolution")
	f.Bool(prefix+".assume-deadline-valid", DefaultConfig.AssumeDeadlineValid, "treat untouched pending games past their deadline as defaulting to valid per chain rules")
	f.Int(prefix+".proof-workers", DefaultConfig.ProofWorkers, "number of concurrent proof workers")
	f.Uint64(prefix+".proof-attempts", DefaultConfig.ProofAttempts, "proof attempts per task before it is marked failed")
	f.Duration(prefix+".proof-poll-interval", DefaultConfig.ProofPollInterval, "how often to poll the proof backend for a pending proof")
	f.Duration(prefix+".proof-retry-interval", DefaultConfig.ProofRetryInterval, "initial backoff between failed proof attempts")
	f.Uint64(prefix+".gas-limit", DefaultConfig.GasLimit, "gas limit for challenge and resolution transactions")
}

// TxSubmitter is the slice of the settlement submitter the validator uses.
// Challenges are fire-and-forget posts (the queue shepherds them and the
// ledger confirms them); resolutions are awaited so reverts surface.
// *submitter.Submitter[protocol.TxMeta] satisfies it.
type TxSubmitter interface {
	Post(ctx context.Context, meta protocol.TxMeta, to common.Address, calldata []byte, gasLimit uint64, value *big.Int) (*types.Transaction, error)
	SubmitAndAwait(ctx context.Context, req submitter.Request[protocol.TxMeta]) (*submitter.SubmissionResult, error)
}

// FactoryCaller names the dispute-game factory contract.
// *bindings.Factory satisfies it.
type FactoryCaller interface {
	Address() common.Address
}

// Validator is the claim-checking engine. The scan loop runs alone; the
// scheduler's workers run beside it and report through the completion sink.
type Validator struct {
	stopwaiter.StopWaiter
	config    ConfigFetcher
	strategy  Strategy
	ledger    *ledger.Ledger
	oracle    oracle.OutputProvider
	factory   FactoryCaller
	submitter TxSubmitter
	scheduler *Scheduler

	trackMu sync.Mutex
	// faults are locally detected, not yet resolved mismatches; their
	// subtrees are skipped so no proof effort lands below a doomed root.
	faults map[protocol.GameID]struct{}
	// pendingChallenges dedupes challenge posts until the ledger reflects
	// the challenged status.
	pendingChallenges map[protocol.GameID]struct{}

	backoff      time.Duration
	scanErrorLog ephemeralerror.EphemeralErrorLogger
}

func New(l *ledger.Ledger, provider oracle.OutputProvider, factory FactoryCaller, txSubmitter TxSubmitter, backend proving.Backend, artifacts *proving.ArtifactStore, config ConfigFetcher) (*Validator, error) {
	strategy, err := strategyFromString(config().Mode)
	if err != nil {
		return nil, err
	}
	v := &Validator{
		config:            config,
		strategy:          strategy,
		ledger:            l,
		oracle:            provider,
		factory:           factory,
		submitter:         txSubmitter,
		faults:            make(map[protocol.GameID]struct{}),
		pendingChallenges: make(map[protocol.GameID]struct{}),
		scanErrorLog:      ephemeralerror.NewCountEphemeralErrorLogger(log.Warn, log.Error, 10),
	}
	v.scheduler = NewScheduler(l, backend, artifacts, v.resolveWithProof, config)
	return v, nil
}

func (v *Validator) Start(ctxIn context.Context) {
	v.StopWaiter.Start(ctxIn, v)
	v.backoff = v.config().ScanInterval
	v.scheduler.Start(ctxIn)
	if v.strategy == WatchtowerStrategy {
		log.Info("running in watchtower mode, faults are logged but never acted on")
	}
	v.CallIteratively(v.scanIteration)
}

func (v *Validator) StopAndWait() {
	v.scheduler.StopAndWait()
	v.StopWaiter.StopAndWait()
}

// Strategy returns the parsed strategy the validator runs under.
func (v *Validator) Strategy() Strategy {
	return v.strategy
}

// KnownFaults lists locally detected, still unresolved faulty games.
func (v *Validator) KnownFaults() []protocol.GameID {
	v.trackMu.Lock()
	defer v.trackMu.Unlock()
	ids := make([]protocol.GameID, 0, len(v.faults))
	for id := range v.faults {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ProofTask returns the live proving task for a game, if any.
func (v *Validator) ProofTask(gameID protocol.GameID) (ProofTask, bool) {
	return v.scheduler.Task(gameID)
}

func (v *Validator) scanIteration(ctx context.Context) time.Duration {
	cfg := v.config()
	err := v.Scan(ctx)
	if err == nil {
		v.scanErrorLog.Reset()
		v.backoff = cfg.ScanInterval
		return cfg.ScanInterval
	}
	if ctx.Err() != nil {
		return cfg.ScanInterval
	}
	if protocol.IsFatal(err) {
		log.Error("validator halting on unrecoverable failure", "err", err)
		return time.Hour
	}
	v.scanErrorLog.Error("validator scan failed", "err", err)
	v.backoff = arbmath.MinInt(v.backoff*2, time.Minute)
	return v.backoff
}

// Scan runs one pass over the active games, oldest first so a fault is
// found before any proof effort lands on its descendants.
func (v *Validator) Scan(ctx context.Context) error {
	games := v.ledger.ActiveGames()
	head, ingested := v.ledger.LastIngested()
	if len(games) == 0 || !ingested {
		return nil
	}
	status, err := v.oracle.SyncStatus(ctx)
	if err != nil {
		return err
	}
	var scanErr error
	for _, game := range games {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if game.ParentID == protocol.NoParent {
			// The anchor is the trusted starting point, never disputed.
			continue
		}
		if v.ancestorKnownFaulty(game) {
			continue
		}
		if status.SafeL2.Number < game.L2BlockNumber {
			log.Debug("claim beyond derived safe head, cannot verify yet",
				"game", game.ID, "l2Block", game.L2BlockNumber, "safe", status.SafeL2.Number)
			continue
		}
		expected, err := v.oracle.OutputAtBlock(ctx, game.L2BlockNumber)
		if err != nil {
			// One underivable claim must not stall the rest of the scan.
			log.Warn("output derivation failed during scan", "game", game.ID, "l2Block", game.L2BlockNumber, "err", err)
			scanErr = err
			continue
		}
		if expected == game.OutputRoot {
			v.maybeConfirm(game, head.Number)
			continue
		}
		v.handleFault(ctx, game, expected)
	}
	v.pruneTracking()
	return scanErr
}

func (v *Validator) ancestorKnownFaulty(game *protocol.GameInstance) bool {
	v.trackMu.Lock()
	defer v.trackMu.Unlock()
	for id := game.ParentID; id != protocol.NoParent; {
		if _, faulty := v.faults[id]; faulty {
			return true
		}
		parent := v.ledger.Game(id)
		if parent == nil {
			return false
		}
		id = parent.ParentID
	}
	return false
}

// maybeConfirm decides whether a correct claim needs an explicit validity
// proof. Challenged games never time out on their own, so under the resolve
// strategy they are always defended; pending games are confirmed only when
// the chain's default would not settle them in time.
func (v *Validator) maybeConfirm(game *protocol.GameInstance, currentL1 uint64) {
	if v.strategy != ResolveStrategy {
		return
	}
	cfg := v.config()
	switch game.Status {
	case protocol.GameChallenged:
	case protocol.GamePending:
		if game.Deadline <= currentL1 {
			log.Debug("confirmation window passed, leaving the game to chain policy",
				"game", game.ID, "deadline", game.Deadline, "l1", currentL1)
			return
		}
		if cfg.AssumeDeadlineValid && game.Deadline > currentL1+cfg.ConfirmationWindow {
			return
		}
	default:
		return
	}
	if _, fresh := v.scheduler.Enqueue(game.ID, proving.ProveValidity); fresh {
		log.Info("scheduled validity proof", "game", game.ID, "status", game.Status,
			"deadline", game.Deadline, "l1", currentL1)
	}
}

func (v *Validator) handleFault(ctx context.Context, game *protocol.GameInstance, expected common.Hash) {
	v.trackMu.Lock()
	_, known := v.faults[game.ID]
	if !known {
		v.faults[game.ID] = struct{}{}
	}
	v.trackMu.Unlock()
	if !known {
		faultsDetectedCounter.Inc(1)
		log.Warn("faulty claim detected", "game", game.ID, "proposer", game.Proposer,
			"l2Block", game.L2BlockNumber, "claimed", game.OutputRoot, "expected", expected)
	}
	if v.strategy == WatchtowerStrategy {
		return
	}
	if v.config().RequireChallenge && game.Status == protocol.GamePending {
		v.submitChallenge(ctx, game)
	}
	// The proof can run while the challenge confirms; resolution waits for
	// the challenged status.
	if _, fresh := v.scheduler.Enqueue(game.ID, proving.ProveFault); fresh {
		log.Info("scheduled fault proof", "game", game.ID)
	}
}

func (v *Validator) submitChallenge(ctx context.Context, game *protocol.GameInstance) {
	v.trackMu.Lock()
	_, pending := v.pendingChallenges[game.ID]
	v.trackMu.Unlock()
	if pending {
		return
	}
	calldata, err := bindings.PackChallengeGame(game.ID)
	if err != nil {
		log.Error("packing challenge transaction failed", "game", game.ID, "err", err)
		return
	}
	meta := protocol.TxMeta{
		Kind:          protocol.TxChallengeGame,
		GameID:        game.ID,
		ParentID:      game.ParentID,
		L2BlockNumber: game.L2BlockNumber,
		OutputRoot:    game.OutputRoot,
	}
	tx, err := v.submitter.Post(ctx, meta, v.factory.Address(), calldata, v.config().GasLimit, nil)
	if err != nil {
		log.Error("posting challenge failed", "game", game.ID, "err", err)
		return
	}
	v.trackMu.Lock()
	v.pendingChallenges[game.ID] = struct{}{}
	v.trackMu.Unlock()
	challengesSubmittedCounter.Inc(1)
	log.Info("challenged faulty claim", "game", game.ID, "tx", tx.Hash())
}

// resolveWithProof is the scheduler's completion sink. It re-reads the
// ledger so a proof for a game that resolved independently is discarded,
// then posts the resolution and waits for its confirmation.
func (v *Validator) resolveWithProof(ctx context.Context, task ProofTask, artifact []byte) error {
	game := v.ledger.Game(task.TargetGameID)
	if game == nil {
		return fmt.Errorf("game %v missing from ledger", task.TargetGameID)
	}
	if game.Status.IsTerminal() {
		tasksCancelledCounter.Inc(1)
		log.Info("game resolved independently, discarding proof", "game", game.ID, "status", game.Status)
		return nil
	}
	valid := task.Kind == proving.ProveValidity
	cfg := v.config()
	if !valid && cfg.RequireChallenge && game.Status != protocol.GameChallenged {
		// The artifact is persisted; the next scan retries resolution once
		// the challenge lands.
		log.Info("holding fault resolution until the challenge confirms", "game", game.ID, "status", game.Status)
		return nil
	}
	calldata, err := bindings.PackResolveGame(game.ID, valid, artifact)
	if err != nil {
		return err
	}
	req := submitter.Request[protocol.TxMeta]{
		Meta: protocol.TxMeta{
			Kind:          protocol.TxResolveGame,
			GameID:        game.ID,
			ParentID:      game.ParentID,
			L2BlockNumber: game.L2BlockNumber,
			OutputRoot:    game.OutputRoot,
		},
		To:       v.factory.Address(),
		Calldata: calldata,
		GasLimit: cfg.GasLimit,
	}
	resolutionsSubmittedCounter.Inc(1)
	log.Info("submitting resolution", "game", game.ID, "valid", valid)
	result, err := v.submitter.SubmitAndAwait(ctx, req)
	if err != nil {
		var rejected *protocol.SubmissionRejectedError
		if errors.As(err, &rejected) {
			log.Warn("resolution reverted, re-deriving next scan",
				"game", game.ID, "tx", rejected.TxHash, "reason", rejected.Reason)
		}
		return err
	}
	log.Info("resolution confirmed", "game", game.ID, "valid", valid, "tx", result.Tx.Hash())
	return nil
}

func (v *Validator) pruneTracking() {
	v.trackMu.Lock()
	defer v.trackMu.Unlock()
	for id := range v.faults {
		if game := v.ledger.Game(id); game == nil || game.Status.IsTerminal() {
			delete(v.faults, id)
		}
	}
	for id := range v.pendingChallenges {
		if game := v.ledger.Game(id); game == nil || game.Status != protocol.GamePending {
			delete(v.pendingChallenges, id)
		}
	}
}
