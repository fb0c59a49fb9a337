// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package proposer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/oracle"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/submitter"
	"github.com/tesseralabs/arbiter/util"
)

type fakeOracle struct {
	mu     sync.Mutex
	roots  map[uint64]common.Hash
	status oracle.SyncStatus
}

func (f *fakeOracle) OutputAtBlock(ctx context.Context, l2Block uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	root, ok := f.roots[l2Block]
	if !ok {
		return common.Hash{}, fmt.Errorf("no output derived for block %d", l2Block)
	}
	return root, nil
}

func (f *fakeOracle) SyncStatus(ctx context.Context) (*oracle.SyncStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status
	return &status, nil
}

func (f *fakeOracle) setSafeL2(number uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.SafeL2.Number = number
}

func (f *fakeOracle) setRoot(l2Block uint64, root common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots[l2Block] = root
}

type fakeFactory struct {
	addr common.Address
	bond *big.Int
}

func (f *fakeFactory) Address() common.Address { return f.addr }

func (f *fakeFactory) RequiredBond(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.bond), nil
}

// fakeSubmitter scripts the settlement queue: recorded requests come back
// with the configured result or error, optionally after a hold so a test can
// keep a submission in flight.
type fakeSubmitter struct {
	mu       sync.Mutex
	from     common.Address
	balance  *big.Int
	queued   protocol.TxMeta
	requests []submitter.Request[protocol.TxMeta]
	result   *submitter.SubmissionResult
	err      error
	hold     chan struct{}
}

func (f *fakeSubmitter) From() common.Address { return f.from }

func (f *fakeSubmitter) Balance() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == nil {
		return nil
	}
	return new(big.Int).Set(f.balance)
}

func (f *fakeSubmitter) GetNextNonceAndMeta(ctx context.Context, getMetaAtBlock func(*big.Int) (protocol.TxMeta, error)) (uint64, protocol.TxMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued.Kind != protocol.TxNone {
		return 1, f.queued, nil
	}
	meta, err := getMetaAtBlock(big.NewInt(10))
	return 0, meta, err
}

func (f *fakeSubmitter) SubmitAndAwait(ctx context.Context, req submitter.Request[protocol.TxMeta]) (*submitter.SubmissionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeSubmitter) setOutcome(result *submitter.SubmissionResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
	f.err = err
}

func (f *fakeSubmitter) setQueued(meta protocol.TxMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = meta
}

func (f *fakeSubmitter) setBalance(balance *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = balance
}

func (f *fakeSubmitter) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeSubmitter) request(i int) submitter.Request[protocol.TxMeta] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

const (
	anchorID     protocol.GameID = 0
	anchorHeight uint64          = 1000
)

type proposerEnv struct {
	t       *testing.T
	ctx     context.Context
	ledger  *ledger.Ledger
	oracle  *fakeOracle
	factory *fakeFactory
	sub     *fakeSubmitter
	p       *Proposer
}

func newProposerEnv(t *testing.T) *proposerEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env := &proposerEnv{
		t:       t,
		ctx:     ctx,
		ledger:  ledger.New(),
		oracle:  &fakeOracle{roots: make(map[uint64]common.Hash)},
		factory: &fakeFactory{addr: common.Address{0xfa}, bond: big.NewInt(1_000_000)},
		sub:     &fakeSubmitter{from: common.Address{0xaa}, balance: big.NewInt(params.Ether)},
	}
	cfg := TestConfig
	p, err := New(env.ledger, env.oracle, env.factory, env.sub, func() *Config { return &cfg })
	require.NoError(t, err)
	// The act loop stays off so tests can step the machine themselves;
	// starting the StopWaiter alone still lets actSubmit launch threads.
	p.StopWaiter.Start(ctx, p)
	t.Cleanup(p.StopAndWait)
	env.p = p

	env.oracle.setSafeL2(anchorHeight + TestConfig.ProposalIntervalBlocks + 100)
	env.oracle.setRoot(anchorHeight+TestConfig.ProposalIntervalBlocks, common.Hash{0x01})
	env.ingest(testBlock(100), &protocol.GameCreatedEvent{
		EventHeader:   protocol.EventHeader{Block: testBlock(100)},
		ID:            anchorID,
		ParentID:      protocol.NoParent,
		Proposer:      common.Address{0xee},
		OutputRoot:    common.Hash{0xaa},
		L2BlockNumber: anchorHeight,
		Bond:          big.NewInt(1_000_000),
		Deadline:      9000,
	})
	return env
}

func testBlock(number uint64) protocol.BlockRef {
	var hash common.Hash
	binary.BigEndian.PutUint64(hash[24:], number)
	return protocol.BlockRef{Number: number, Hash: hash}
}

func (env *proposerEnv) ingest(block protocol.BlockRef, events ...protocol.GameEvent) {
	env.t.Helper()
	parent := common.Hash{}
	if last, ok := env.ledger.LastIngested(); ok {
		parent = last.Hash
	}
	require.NoError(env.t, env.ledger.IngestBlock(block, parent, events))
}

func (env *proposerEnv) createdEvent(block protocol.BlockRef, id, parent protocol.GameID, l2Block uint64, proposer common.Address, root common.Hash) *protocol.GameCreatedEvent {
	return &protocol.GameCreatedEvent{
		EventHeader:   protocol.EventHeader{Block: block},
		ID:            id,
		ParentID:      parent,
		Proposer:      proposer,
		OutputRoot:    root,
		L2BlockNumber: l2Block,
		Bond:          big.NewInt(1_000_000),
		Deadline:      9000 + uint64(id),
	}
}

func (env *proposerEnv) act() {
	env.t.Helper()
	require.NoError(env.t, env.p.Act(env.ctx))
}

// actUntil steps the machine until it reaches the wanted state, tolerating
// cycles that are still waiting on the submission thread.
func (env *proposerEnv) actUntil(want State) {
	env.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env.act()
		if env.p.CurrentState() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	env.t.Fatalf("machine never reached %s, still %s", want, env.p.CurrentState())
}

func TestProposeHappyPath(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks

	env.act()
	require.Equal(t, Submitting, env.p.CurrentState())
	env.act()
	require.Equal(t, AwaitingConfirmation, env.p.CurrentState())

	require.Equal(t, 1, env.sub.requestCount())
	req := env.sub.request(0)
	require.Equal(t, protocol.TxCreateGame, req.Meta.Kind)
	require.Equal(t, anchorID, req.Meta.ParentID)
	require.Equal(t, target, req.Meta.L2BlockNumber)
	require.Equal(t, common.Hash{0x01}, req.Meta.OutputRoot)
	require.Equal(t, env.factory.addr, req.To)
	require.Equal(t, TestConfig.GasLimit, req.GasLimit)
	require.Zero(t, req.Value.Cmp(env.factory.bond))

	wantCalldata, err := bindings.PackCreateGame(anchorID, common.Hash{0x01}, target)
	require.NoError(t, err)
	require.Equal(t, wantCalldata, req.Calldata)
}

func TestNoAnchorNothingToExtend(t *testing.T) {
	t.Parallel()
	env := &proposerEnv{
		t:       t,
		ledger:  ledger.New(),
		oracle:  &fakeOracle{roots: make(map[uint64]common.Hash)},
		factory: &fakeFactory{addr: common.Address{0xfa}, bond: big.NewInt(1)},
		sub:     &fakeSubmitter{from: common.Address{0xaa}, balance: big.NewInt(1)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.ctx = ctx
	cfg := TestConfig
	p, err := New(env.ledger, env.oracle, env.factory, env.sub, func() *Config { return &cfg })
	require.NoError(t, err)
	p.StopWaiter.Start(ctx, p)
	t.Cleanup(p.StopAndWait)
	env.p = p

	env.act()
	require.Equal(t, Idle, p.CurrentState())
	require.Zero(t, env.sub.requestCount())
}

func TestWaitsForSafeHead(t *testing.T) {
	env := newProposerEnv(t)
	env.oracle.setSafeL2(anchorHeight + TestConfig.ProposalIntervalBlocks - 1)

	env.act()
	require.Equal(t, Idle, env.p.CurrentState())
	require.Zero(t, env.sub.requestCount())

	// Derivation catching up unblocks the same candidate.
	env.oracle.setSafeL2(anchorHeight + TestConfig.ProposalIntervalBlocks)
	env.act()
	require.Equal(t, Submitting, env.p.CurrentState())
}

func TestBondExceedsBalance(t *testing.T) {
	env := newProposerEnv(t)
	env.sub.setBalance(big.NewInt(100))

	env.act()
	require.Equal(t, Idle, env.p.CurrentState())
	require.Zero(t, env.sub.requestCount())

	env.sub.setBalance(big.NewInt(params.Ether))
	env.act()
	require.Equal(t, Submitting, env.p.CurrentState())
}

func TestStaleCandidateAbandonedBeforeSubmission(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks

	env.act()
	require.Equal(t, Submitting, env.p.CurrentState())

	// A competitor's claim lands at the candidate height before our
	// transaction goes out.
	env.ingest(testBlock(101), env.createdEvent(testBlock(101), 1, anchorID, target, common.Address{0xbb}, common.Hash{0xb0}))

	env.act()
	require.Equal(t, Idle, env.p.CurrentState())
	require.Zero(t, env.sub.requestCount())
}

func TestProposalConfirmedByIngestion(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks
	// Keep the submission in flight so confirmation can only come from the
	// ledger.
	env.sub.hold = make(chan struct{})

	env.actUntil(AwaitingConfirmation)
	env.act()
	require.Equal(t, AwaitingConfirmation, env.p.CurrentState())

	env.ingest(testBlock(101), env.createdEvent(testBlock(101), 1, anchorID, target, env.sub.from, common.Hash{0x01}))
	env.act()
	require.Equal(t, Idle, env.p.CurrentState())

	// The next cycle extends from the new tip.
	next := target + TestConfig.ProposalIntervalBlocks
	env.oracle.setRoot(next, common.Hash{0x02})
	env.oracle.setSafeL2(next + 10)
	env.actUntil(AwaitingConfirmation)
	require.Equal(t, 2, env.sub.requestCount())
	req := env.sub.request(1)
	require.Equal(t, protocol.GameID(1), req.Meta.ParentID)
	require.Equal(t, next, req.Meta.L2BlockNumber)
}

func TestCompetitorAtTargetHeight(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks
	env.sub.hold = make(chan struct{})

	env.actUntil(AwaitingConfirmation)
	env.ingest(testBlock(101), env.createdEvent(testBlock(101), 1, anchorID, target, common.Address{0xbb}, common.Hash{0xb0}))
	env.act()
	require.Equal(t, Idle, env.p.CurrentState())
	require.Equal(t, 1, env.sub.requestCount())
}

func TestSubmissionReverted(t *testing.T) {
	env := newProposerEnv(t)
	env.sub.setOutcome(nil, &protocol.SubmissionRejectedError{
		TxHash: common.Hash{0xde, 0xad},
		Reason: "execution reverted",
	})

	env.actUntil(AwaitingConfirmation)
	env.actUntil(Idle)
	require.Equal(t, 1, env.sub.requestCount())
}

func TestConfirmationTimeoutResubmits(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks
	env.sub.setOutcome(nil, fmt.Errorf("%w: nonce 0", submitter.ErrConfirmationTimeout))

	env.actUntil(AwaitingConfirmation)
	env.actUntil(Idle)

	// Nothing landed at the height, so a fresh derivation posts again.
	env.actUntil(AwaitingConfirmation)
	require.Equal(t, 2, env.sub.requestCount())
	require.Equal(t, target, env.sub.request(0).Meta.L2BlockNumber)
	require.Equal(t, target, env.sub.request(1).Meta.L2BlockNumber)
}

func TestSubmitterFailureSurfacesError(t *testing.T) {
	env := newProposerEnv(t)
	env.sub.setOutcome(nil, errors.New("rpc connection lost"))

	env.actUntil(AwaitingConfirmation)
	var actErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && actErr == nil {
		actErr = env.p.Act(env.ctx)
		time.Sleep(time.Millisecond)
	}
	require.ErrorContains(t, actErr, "rpc connection lost")
	require.Equal(t, Idle, env.p.CurrentState())
}

func TestAdoptsQueuedProposal(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks
	env.sub.setQueued(protocol.TxMeta{
		Kind:          protocol.TxCreateGame,
		ParentID:      anchorID,
		L2BlockNumber: target,
		OutputRoot:    common.Hash{0x01},
	})

	env.act()
	require.Equal(t, AwaitingConfirmation, env.p.CurrentState())
	require.Zero(t, env.sub.requestCount())

	env.ingest(testBlock(101), env.createdEvent(testBlock(101), 1, anchorID, target, env.sub.from, common.Hash{0x01}))
	env.act()
	require.Equal(t, Idle, env.p.CurrentState())
}

func TestAdoptedProposalLeavesQueue(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks
	env.sub.setQueued(protocol.TxMeta{
		Kind:          protocol.TxCreateGame,
		ParentID:      anchorID,
		L2BlockNumber: target,
		OutputRoot:    common.Hash{0x01},
	})

	env.act()
	require.Equal(t, AwaitingConfirmation, env.p.CurrentState())

	env.sub.setQueued(protocol.TxMeta{})
	env.act()
	require.Equal(t, Idle, env.p.CurrentState())

	// With the queue drained and nothing on chain the proposer derives the
	// height from scratch.
	env.act()
	require.Equal(t, Submitting, env.p.CurrentState())
}

func TestQueuedProposalAlreadyLanded(t *testing.T) {
	env := newProposerEnv(t)
	target := anchorHeight + TestConfig.ProposalIntervalBlocks
	env.ingest(testBlock(101), env.createdEvent(testBlock(101), 1, anchorID, target, env.sub.from, common.Hash{0x01}))
	env.sub.setQueued(protocol.TxMeta{
		Kind:          protocol.TxCreateGame,
		ParentID:      anchorID,
		L2BlockNumber: target,
		OutputRoot:    common.Hash{0x01},
	})

	next := target + TestConfig.ProposalIntervalBlocks
	env.oracle.setRoot(next, common.Hash{0x02})
	env.oracle.setSafeL2(next + 10)

	// The queued claim is on chain already, so instead of adopting it the
	// proposer extends past it.
	env.act()
	require.Equal(t, Submitting, env.p.CurrentState())
	env.act()
	require.Equal(t, 1, env.sub.requestCount())
	req := env.sub.request(0)
	require.Equal(t, protocol.GameID(1), req.Meta.ParentID)
	require.Equal(t, next, req.Meta.L2BlockNumber)
}

func TestFsmRejectsInvalidTransitions(t *testing.T) {
	t.Parallel()
	fsm, err := newProposerFsm(Idle)
	require.NoError(t, err)
	require.ErrorIs(t, fsm.Do(confirmProposal{}), util.ErrFsmInvalidTransition)
	require.NoError(t, fsm.Do(proposeClaim{}))
	require.ErrorIs(t, fsm.Do(proposeClaim{}), util.ErrFsmInvalidTransition)
	require.NoError(t, fsm.Do(awaitConfirmation{}))
	require.NoError(t, fsm.Do(confirmProposal{}))
	require.Equal(t, Idle, fsm.Current().State)
}
