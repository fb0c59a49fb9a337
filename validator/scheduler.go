// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

var (
	tasksQueuedCounter       = metrics.NewRegisteredCounter("arbiter/validator/scheduler/tasks/queued", nil)
	tasksSucceededCounter    = metrics.NewRegisteredCounter("arbiter/validator/scheduler/tasks/succeeded", nil)
	tasksFailedCounter       = metrics.NewRegisteredCounter("arbiter/validator/scheduler/tasks/failed", nil)
	tasksCancelledCounter    = metrics.NewRegisteredCounter("arbiter/validator/scheduler/tasks/cancelled", nil)
	tasksInFlightGauge       = metrics.NewRegisteredGauge("arbiter/validator/scheduler/tasks/inflight", nil)
	provingDurationHistogram = metrics.NewRegisteredHistogram("arbiter/validator/scheduler/proving/duration", nil, metrics.NewExpDecaySample(1028, 0.015))
)

var errProofCancelled = errors.New("target game resolved while proving")

// CompleteFunc consumes a finished proof. It runs on a worker thread and may
// block on transaction confirmation; returning an error marks the task failed.
type CompleteFunc func(ctx context.Context, task ProofTask, artifact []byte) error

// Scheduler runs proof work on a bounded pool. Tasks are consumed FIFO with
// at most one live task per game: enqueueing a game that is already queued
// or in flight returns the existing task untouched. Workers poll the backend
// until terminal, abandon tasks whose game resolves out from under them, and
// persist succeeded artifacts before handing them to the completion sink.
type Scheduler struct {
	stopwaiter.StopWaiter
	config    ConfigFetcher
	ledger    *ledger.Ledger
	backend   proving.Backend
	artifacts *proving.ArtifactStore
	complete  CompleteFunc

	mutex sync.Mutex
	tasks map[protocol.GameID]*ProofTask
	queue []protocol.GameID
	wake  chan struct{}
}

func NewScheduler(l *ledger.Ledger, backend proving.Backend, artifacts *proving.ArtifactStore, complete CompleteFunc, config ConfigFetcher) *Scheduler {
	return &Scheduler{
		config:    config,
		ledger:    l,
		backend:   backend,
		artifacts: artifacts,
		complete:  complete,
		tasks:     make(map[protocol.GameID]*ProofTask),
		wake:      make(chan struct{}, 1),
	}
}

func (s *Scheduler) Start(ctxIn context.Context) {
	s.StopWaiter.Start(ctxIn, s)
	workers := s.config().ProofWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.LaunchThread(s.worker)
	}
}

// Enqueue adds proving work for a game, returning the task and whether it is
// new. A game already queued or in flight coalesces: the existing task comes
// back unchanged, whatever Kind it was requested with.
func (s *Scheduler) Enqueue(gameID protocol.GameID, kind proving.Kind) (ProofTask, bool) {
	s.mutex.Lock()
	if existing, ok := s.tasks[gameID]; ok {
		snapshot := *existing
		s.mutex.Unlock()
		return snapshot, false
	}
	task := &ProofTask{
		TargetGameID: gameID,
		Kind:         kind,
		RequestedAt:  time.Now(),
		State:        TaskQueued,
	}
	s.tasks[gameID] = task
	s.queue = append(s.queue, gameID)
	snapshot := *task
	s.mutex.Unlock()
	tasksQueuedCounter.Inc(1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return snapshot, true
}

// Task returns a copy of the live task for a game, if any. Terminal tasks
// are dropped on completion, so a false return means idle, done, or unknown.
func (s *Scheduler) Task(gameID protocol.GameID) (ProofTask, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	task, ok := s.tasks[gameID]
	if !ok {
		return ProofTask{}, false
	}
	return *task, true
}

// Backlog reports how many tasks are queued and in flight.
func (s *Scheduler) Backlog() (queued, inFlight int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, task := range s.tasks {
		switch task.State {
		case TaskQueued:
			queued++
		case TaskInFlight:
			inFlight++
		}
	}
	return queued, inFlight
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		task := s.next()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		s.run(ctx, task)
	}
}

func (s *Scheduler) next() *ProofTask {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		task, ok := s.tasks[id]
		if !ok || task.State != TaskQueued {
			continue
		}
		task.State = TaskInFlight
		tasksInFlightGauge.Inc(1)
		return task
	}
	return nil
}

func (s *Scheduler) finish(task *ProofTask, state TaskState) {
	s.mutex.Lock()
	task.State = state
	delete(s.tasks, task.TargetGameID)
	s.mutex.Unlock()
	tasksInFlightGauge.Dec(1)
}

func (s *Scheduler) run(ctx context.Context, task *ProofTask) {
	start := time.Now()
	artifact, claim, err := s.prove(ctx, task)
	if ctx.Err() != nil {
		s.finish(task, TaskFailed)
		return
	}
	if errors.Is(err, errProofCancelled) {
		tasksCancelledCounter.Inc(1)
		log.Info("proof task cancelled, game resolved independently",
			"game", task.TargetGameID, "kind", task.Kind)
		s.finish(task, TaskFailed)
		return
	}
	if err != nil {
		tasksFailedCounter.Inc(1)
		log.Error("proof task failed", "game", task.TargetGameID, "kind", task.Kind, "attempts", task.Attempt, "err", err)
		s.finish(task, TaskFailed)
		return
	}
	provingDurationHistogram.Update(time.Since(start).Nanoseconds())
	// Persisted before any resolution goes out, so a crash between the two
	// never re-proves a finished game.
	if err := s.artifacts.Save(ctx, task.TargetGameID, claim, artifact); err != nil {
		tasksFailedCounter.Inc(1)
		log.Error("persisting proof artifact failed", "game", task.TargetGameID, "err", err)
		s.finish(task, TaskFailed)
		return
	}
	s.mutex.Lock()
	snapshot := *task
	s.mutex.Unlock()
	if err := s.complete(ctx, snapshot, artifact); err != nil {
		tasksFailedCounter.Inc(1)
		log.Error("acting on proof failed", "game", task.TargetGameID, "kind", task.Kind, "err", err)
		s.finish(task, TaskFailed)
		return
	}
	tasksSucceededCounter.Inc(1)
	s.finish(task, TaskSucceeded)
}

// prove produces the artifact for a task, reusing a persisted one when the
// claim was already proven. It returns the claimed root the artifact is
// keyed under.
func (s *Scheduler) prove(ctx context.Context, task *ProofTask) ([]byte, common.Hash, error) {
	game := s.ledger.Game(task.TargetGameID)
	if game == nil {
		return nil, common.Hash{}, fmt.Errorf("game %v missing from ledger", task.TargetGameID)
	}
	if game.Status.IsTerminal() {
		return nil, common.Hash{}, errProofCancelled
	}
	if cached, err := s.artifacts.Load(ctx, game.ID, game.OutputRoot); err == nil && len(cached) > 0 {
		log.Debug("reusing persisted proof artifact", "game", game.ID)
		return cached, game.OutputRoot, nil
	}

	cfg := s.config()
	attempts := cfg.ProofAttempts
	if attempts == 0 {
		attempts = 1
	}
	backoff := cfg.ProofRetryInterval
	var lastErr error
	for attempt := uint64(1); attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, common.Hash{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = arbmath.MinInt(backoff*2, time.Minute)
		}
		s.mutex.Lock()
		task.Attempt = attempt
		s.mutex.Unlock()

		// Rebuilt every attempt: the L1 head moves, so the retry gets a new
		// request ID and a shared backend's cached failure cannot pin it.
		req, err := s.buildRequest(task)
		if err != nil {
			if errors.Is(err, errProofCancelled) {
				return nil, common.Hash{}, err
			}
			lastErr = err
			continue
		}
		artifact, err := s.requestAndPoll(ctx, task, req)
		if err != nil {
			if errors.Is(err, errProofCancelled) || ctx.Err() != nil {
				return nil, common.Hash{}, err
			}
			lastErr = err
			log.Warn("proof attempt failed", "game", task.TargetGameID, "attempt", attempt, "err", err)
			continue
		}
		return artifact, req.ClaimedOutputRoot, nil
	}
	return nil, common.Hash{}, fmt.Errorf("gave up proving game %v after %d attempts: %w", task.TargetGameID, attempts, lastErr)
}

// buildRequest assembles the witness from the current ledger: the parent's
// root as the agreed state, the target's claim, and the last ingested L1
// block as the anchor.
func (s *Scheduler) buildRequest(task *ProofTask) (proving.Request, error) {
	game := s.ledger.Game(task.TargetGameID)
	if game == nil {
		return proving.Request{}, fmt.Errorf("game %v missing from ledger", task.TargetGameID)
	}
	if game.Status.IsTerminal() {
		return proving.Request{}, errProofCancelled
	}
	parent := s.ledger.Game(game.ParentID)
	if parent == nil {
		return proving.Request{}, fmt.Errorf("parent %v of game %v missing from ledger", game.ParentID, game.ID)
	}
	head, ok := s.ledger.LastIngested()
	if !ok {
		return proving.Request{}, errors.New("no L1 block ingested to anchor the proof request")
	}
	return proving.Request{
		GameID:               game.ID,
		AgreedOutputRoot:     parent.OutputRoot,
		AgreedL2BlockNumber:  parent.L2BlockNumber,
		ClaimedOutputRoot:    game.OutputRoot,
		ClaimedL2BlockNumber: game.L2BlockNumber,
		L1Head:               head.Hash,
		Kind:                 task.Kind,
	}, nil
}

func (s *Scheduler) requestAndPoll(ctx context.Context, task *ProofTask, req proving.Request) ([]byte, error) {
	handle, err := s.backend.RequestProof(ctx, req)
	if err != nil {
		return nil, err
	}
	for {
		// A game resolved by someone else makes the proof worthless.
		if game := s.ledger.Game(task.TargetGameID); game == nil || game.Status.IsTerminal() {
			return nil, errProofCancelled
		}
		status, err := s.backend.PollProof(ctx, handle)
		if err != nil {
			return nil, err
		}
		switch status.State {
		case proving.ProofSucceeded:
			return status.Artifact, nil
		case proving.ProofFailed:
			return nil, fmt.Errorf("prover reported failure for game %v: %s", task.TargetGameID, status.Reason)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config().ProofPollInterval):
		}
	}
}
