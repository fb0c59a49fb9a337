// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package validator

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/oracle"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/submitter"
)

const (
	anchorID     protocol.GameID = 0
	anchorHeight uint64          = 1000
	claimHeight  uint64          = 1064
)

var (
	anchorRoot = common.Hash{0xaa}
	goodRoot   = common.Hash{0x60, 0x0d}
	badRoot    = common.Hash{0xba, 0xd0}
)

type fakeOracle struct {
	mu      sync.Mutex
	roots   map[uint64]common.Hash
	queried []uint64
	status  oracle.SyncStatus
}

func (f *fakeOracle) OutputAtBlock(ctx context.Context, l2Block uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, l2Block)
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

func (f *fakeOracle) setRoot(l2Block uint64, root common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots[l2Block] = root
}

func (f *fakeOracle) setSafeL2(number uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.SafeL2.Number = number
}

func (f *fakeOracle) queriedHeights() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.queried...)
}

type fakeFactory struct {
	addr common.Address
}

func (f *fakeFactory) Address() common.Address { return f.addr }

type postedTx struct {
	meta     protocol.TxMeta
	to       common.Address
	calldata []byte
}

// fakeSubmitter records fire-and-forget posts and awaited submissions, with
// per-game scripted await failures.
type fakeSubmitter struct {
	mu       sync.Mutex
	posted   []postedTx
	awaited  []submitter.Request[protocol.TxMeta]
	awaitErr map[protocol.GameID]error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{awaitErr: make(map[protocol.GameID]error)}
}

func (f *fakeSubmitter) Post(ctx context.Context, meta protocol.TxMeta, to common.Address, calldata []byte, gasLimit uint64, value *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, postedTx{meta: meta, to: to, calldata: calldata})
	inner := &types.DynamicFeeTx{Nonce: uint64(len(f.posted)), Gas: gasLimit, To: &to, Data: calldata}
	return types.NewTx(inner), nil
}

func (f *fakeSubmitter) SubmitAndAwait(ctx context.Context, req submitter.Request[protocol.TxMeta]) (*submitter.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaited = append(f.awaited, req)
	if err := f.awaitErr[req.Meta.GameID]; err != nil {
		return nil, err
	}
	tx := types.NewTx(&types.DynamicFeeTx{Nonce: uint64(len(f.awaited)), Gas: req.GasLimit, To: &req.To, Data: req.Calldata})
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(1)}
	return &submitter.SubmissionResult{Tx: tx, Receipt: receipt}, nil
}

func (f *fakeSubmitter) postedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

func (f *fakeSubmitter) postedAt(i int) postedTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posted[i]
}

func (f *fakeSubmitter) awaitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.awaited)
}

func (f *fakeSubmitter) awaitedAt(i int) submitter.Request[protocol.TxMeta] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.awaited[i]
}

func (f *fakeSubmitter) failAwait(gameID protocol.GameID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaitErr[gameID] = err
}

// fakeBackend scripts proof production per game: request-time failures,
// prover-reported verdict failures, or an endless pending state.
type fakeBackend struct {
	mu        sync.Mutex
	requests  []proving.Request
	handles   map[proving.Handle]proving.Request
	failures  map[protocol.GameID]int
	verdicts  map[protocol.GameID]string
	pending   map[protocol.GameID]bool
	artifacts map[protocol.GameID][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		handles:   make(map[proving.Handle]proving.Request),
		failures:  make(map[protocol.GameID]int),
		verdicts:  make(map[protocol.GameID]string),
		pending:   make(map[protocol.GameID]bool),
		artifacts: make(map[protocol.GameID][]byte),
	}
}

func (b *fakeBackend) RequestProof(ctx context.Context, req proving.Request) (proving.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if n := b.failures[req.GameID]; n > 0 {
		b.failures[req.GameID] = n - 1
		return "", &protocol.ProofBackendError{Reason: "scripted request failure"}
	}
	handle := proving.Handle(req.ID())
	b.handles[handle] = req
	return handle, nil
}

func (b *fakeBackend) PollProof(ctx context.Context, handle proving.Handle) (proving.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.handles[handle]
	if !ok {
		return proving.Status{}, &protocol.ProofBackendError{Handle: string(handle), Reason: "unknown handle"}
	}
	if b.pending[req.GameID] {
		return proving.Status{State: proving.ProofPending}, nil
	}
	if reason, bad := b.verdicts[req.GameID]; bad {
		return proving.Status{State: proving.ProofFailed, Reason: reason}, nil
	}
	artifact := b.artifacts[req.GameID]
	if artifact == nil {
		artifact = []byte(fmt.Sprintf("proof-%d-%s", req.GameID, req.ClaimedOutputRoot.Hex()))
	}
	return proving.Status{State: proving.ProofSucceeded, Artifact: artifact}, nil
}

func (b *fakeBackend) failNext(gameID protocol.GameID, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[gameID] = times
}

func (b *fakeBackend) failVerdict(gameID protocol.GameID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verdicts[gameID] = reason
}

func (b *fakeBackend) holdPending(gameID protocol.GameID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[gameID] = true
}

func (b *fakeBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBackend) requestsFor(gameID protocol.GameID) []proving.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []proving.Request
	for _, req := range b.requests {
		if req.GameID == gameID {
			out = append(out, req)
		}
	}
	return out
}

func testBlock(number uint64) protocol.BlockRef {
	var hash common.Hash
	binary.BigEndian.PutUint64(hash[24:], number)
	return protocol.BlockRef{Number: number, Hash: hash}
}

func created(block protocol.BlockRef, logIndex uint, id, parent protocol.GameID, l2Block uint64, root common.Hash, deadline uint64) *protocol.GameCreatedEvent {
	return &protocol.GameCreatedEvent{
		EventHeader:   protocol.EventHeader{Block: block, LogIndex: logIndex},
		ID:            id,
		ParentID:      parent,
		Proposer:      common.Address{0xcc},
		OutputRoot:    root,
		L2BlockNumber: l2Block,
		Bond:          big.NewInt(1_000_000),
		Deadline:      deadline,
	}
}

func challenged(block protocol.BlockRef, logIndex uint, id protocol.GameID) *protocol.GameChallengedEvent {
	return &protocol.GameChallengedEvent{
		EventHeader: protocol.EventHeader{Block: block, LogIndex: logIndex},
		ID:          id,
		Challenger:  common.Address{0xdd},
	}
}

func resolved(block protocol.BlockRef, logIndex uint, id protocol.GameID, valid bool) *protocol.GameResolvedEvent {
	return &protocol.GameResolvedEvent{
		EventHeader: protocol.EventHeader{Block: block, LogIndex: logIndex},
		ID:          id,
		Valid:       valid,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type validatorEnv struct {
	t       *testing.T
	ctx     context.Context
	ledger  *ledger.Ledger
	oracle  *fakeOracle
	factory *fakeFactory
	sub     *fakeSubmitter
	backend *fakeBackend
	store   *proving.ArtifactStore
	v       *Validator
}

func newValidatorEnv(t *testing.T, mutate func(*Config)) *validatorEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := TestConfig
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := proving.NewArtifactStore(ctx, t.TempDir(), proving.DefaultS3MirrorConfig)
	require.NoError(t, err)
	env := &validatorEnv{
		t:       t,
		ctx:     ctx,
		ledger:  ledger.New(),
		oracle:  &fakeOracle{roots: make(map[uint64]common.Hash)},
		factory: &fakeFactory{addr: common.Address{0xfa}},
		sub:     newFakeSubmitter(),
		backend: newFakeBackend(),
		store:   store,
	}
	v, err := New(env.ledger, env.oracle, env.factory, env.sub, env.backend, store, func() *Config { return &cfg })
	require.NoError(t, err)
	// The scan loop stays off so tests can step it themselves; the
	// scheduler's workers run for real.
	v.StopWaiter.Start(ctx, v)
	v.scheduler.Start(ctx)
	t.Cleanup(v.StopAndWait)
	env.v = v

	env.oracle.setSafeL2(1_000_000)
	env.ingest(testBlock(100), created(testBlock(100), 0, anchorID, protocol.NoParent, anchorHeight, anchorRoot, 5000))
	return env
}

func (env *validatorEnv) ingest(block protocol.BlockRef, events ...protocol.GameEvent) {
	env.t.Helper()
	parent := common.Hash{}
	if last, ok := env.ledger.LastIngested(); ok {
		parent = last.Hash
	}
	require.NoError(env.t, env.ledger.IngestBlock(block, parent, events))
}

func (env *validatorEnv) scan() {
	env.t.Helper()
	require.NoError(env.t, env.v.Scan(env.ctx))
}

func TestCorrectClaimLeftAlone(t *testing.T) {
	env := newValidatorEnv(t, nil)
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, goodRoot, 5000))

	env.scan()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, env.sub.postedCount())
	require.Zero(t, env.sub.awaitedCount())
	require.Zero(t, env.backend.requestCount())
	require.Empty(t, env.v.KnownFaults())
	_, live := env.v.ProofTask(1)
	require.False(t, live)
}

func TestFaultyClaimChallengedProvenResolved(t *testing.T) {
	env := newValidatorEnv(t, nil)
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))

	env.scan()
	require.Equal(t, []protocol.GameID{1}, env.v.KnownFaults())

	// The challenge goes out immediately, fire-and-forget.
	require.Equal(t, 1, env.sub.postedCount())
	post := env.sub.postedAt(0)
	require.Equal(t, protocol.TxChallengeGame, post.meta.Kind)
	require.Equal(t, protocol.GameID(1), post.meta.GameID)
	require.Equal(t, env.factory.addr, post.to)
	wantChallenge, err := bindings.PackChallengeGame(1)
	require.NoError(t, err)
	require.Equal(t, wantChallenge, post.calldata)

	// The proof finishes but resolution holds until the challenge confirms.
	waitFor(t, func() bool {
		_, live := env.v.ProofTask(1)
		return !live
	})
	require.Zero(t, env.sub.awaitedCount())
	artifact, err := env.store.Load(env.ctx, 1, badRoot)
	require.NoError(t, err)
	require.NotEmpty(t, artifact)

	env.ingest(testBlock(102), challenged(testBlock(102), 0, 1))
	env.scan()
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
	req := env.sub.awaitedAt(0)
	require.Equal(t, protocol.TxResolveGame, req.Meta.Kind)
	require.Equal(t, protocol.GameID(1), req.Meta.GameID)
	wantResolve, err := bindings.PackResolveGame(1, false, artifact)
	require.NoError(t, err)
	require.Equal(t, wantResolve, req.Calldata)

	// No second challenge went out for the already challenged game.
	require.Equal(t, 1, env.sub.postedCount())

	env.ingest(testBlock(103), resolved(testBlock(103), 0, 1, false))
	env.scan()
	require.Empty(t, env.v.KnownFaults())
}

func TestChallengeNotReposted(t *testing.T) {
	env := newValidatorEnv(t, nil)
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))

	env.scan()
	env.scan()
	env.scan()
	require.Equal(t, 1, env.sub.postedCount())
}

func TestWatchtowerNeverTransacts(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.Mode = "watchtower" })
	require.Equal(t, WatchtowerStrategy, env.v.Strategy())
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))

	env.scan()
	env.scan()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []protocol.GameID{1}, env.v.KnownFaults())
	require.Zero(t, env.sub.postedCount())
	require.Zero(t, env.sub.awaitedCount())
	require.Zero(t, env.backend.requestCount())
}

func TestFaultySubtreeSkipped(t *testing.T) {
	env := newValidatorEnv(t, nil)
	env.oracle.setRoot(claimHeight, goodRoot)
	env.oracle.setRoot(claimHeight+64, common.Hash{0x02})
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))
	env.ingest(testBlock(102), created(testBlock(102), 0, 2, 1, claimHeight+64, common.Hash{0x02}, 5000))

	env.scan()
	// The child of the faulty claim is never verified or proven, even
	// though its own root would match.
	require.NotContains(t, env.oracle.queriedHeights(), claimHeight+64)
	require.Empty(t, env.backend.requestsFor(2))
	require.Equal(t, []protocol.GameID{1}, env.v.KnownFaults())
}

func TestClaimBeyondSafeHeadSkipped(t *testing.T) {
	env := newValidatorEnv(t, nil)
	env.oracle.setSafeL2(claimHeight - 1)
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))

	env.scan()
	require.Empty(t, env.oracle.queriedHeights())
	require.Empty(t, env.v.KnownFaults())
	require.Zero(t, env.sub.postedCount())

	// Derivation catches up and the fault is found.
	env.oracle.setSafeL2(claimHeight)
	env.scan()
	require.Equal(t, []protocol.GameID{1}, env.v.KnownFaults())
}

func TestRequireChallengeDisabled(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.RequireChallenge = false })
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))

	env.scan()
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
	require.Zero(t, env.sub.postedCount())
	req := env.sub.awaitedAt(0)
	require.Equal(t, protocol.TxResolveGame, req.Meta.Kind)
}

func TestResolveModeConfirmsNearDeadline(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.Mode = "resolve" })
	env.oracle.setRoot(claimHeight, goodRoot)
	// Head is block 101 after this ingest; deadline 130 is inside the
	// 45-block confirmation window.
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, goodRoot, 130))

	env.scan()
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
	req := env.sub.awaitedAt(0)
	require.Equal(t, protocol.TxResolveGame, req.Meta.Kind)
	artifact, err := env.store.Load(env.ctx, 1, goodRoot)
	require.NoError(t, err)
	wantResolve, err := bindings.PackResolveGame(1, true, artifact)
	require.NoError(t, err)
	require.Equal(t, wantResolve, req.Calldata)
	require.Equal(t, proving.ProveValidity, env.backend.requestsFor(1)[0].Kind)
}

func TestResolveModeLeavesDistantDeadline(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.Mode = "resolve" })
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, goodRoot, 5000))

	env.scan()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, env.backend.requestCount())
	require.Zero(t, env.sub.awaitedCount())
}

func TestResolveModeWithoutAssumeConfirmsEverything(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) {
		c.Mode = "resolve"
		c.AssumeDeadlineValid = false
	})
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, goodRoot, 5000))

	env.scan()
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
}

func TestResolveModeDefendsChallengedClaim(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.Mode = "resolve" })
	env.oracle.setRoot(claimHeight, goodRoot)
	// Deadline is far away, but a challenged game never times out on its
	// own, so the correct claim is defended regardless.
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, goodRoot, 5000))
	env.ingest(testBlock(102), challenged(testBlock(102), 0, 1))

	env.scan()
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
	require.Equal(t, proving.ProveValidity, env.backend.requestsFor(1)[0].Kind)
}

func TestDefensiveIgnoresDeadlines(t *testing.T) {
	env := newValidatorEnv(t, nil)
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, goodRoot, 130))

	env.scan()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, env.backend.requestCount())
	require.Zero(t, env.sub.awaitedCount())
}

func TestBackendFailureDoesNotBlockOtherGames(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.RequireChallenge = false })
	env.oracle.setRoot(claimHeight, goodRoot)
	env.oracle.setRoot(claimHeight+64, goodRoot)
	env.ingest(testBlock(101),
		created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000),
		created(testBlock(101), 1, 2, anchorID, claimHeight+64, badRoot, 5000))
	env.backend.failNext(1, 3)

	env.scan()
	// Game 2 resolves while game 1's proving runs out of attempts.
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
	require.Equal(t, protocol.GameID(2), env.sub.awaitedAt(0).Meta.GameID)
	waitFor(t, func() bool {
		_, live := env.v.ProofTask(1)
		return !live
	})
	require.Len(t, env.backend.requestsFor(1), 3)
	require.Equal(t, 1, env.sub.awaitedCount())
}

func TestProofReusedFromStore(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.RequireChallenge = false })
	cached := []byte("previously proven")
	require.NoError(t, env.store.Save(env.ctx, 1, badRoot, cached))
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))

	env.scan()
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
	require.Zero(t, env.backend.requestCount())
	wantResolve, err := bindings.PackResolveGame(1, false, cached)
	require.NoError(t, err)
	require.Equal(t, wantResolve, env.sub.awaitedAt(0).Calldata)
}

func TestInFlightProofCancelledOnIndependentResolution(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.RequireChallenge = false })
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))
	env.backend.holdPending(1)

	env.scan()
	waitFor(t, func() bool { return env.backend.requestCount() == 1 })

	// A competing validator wins the race.
	env.ingest(testBlock(102), challenged(testBlock(102), 0, 1))
	env.ingest(testBlock(103), resolved(testBlock(103), 0, 1, false))
	waitFor(t, func() bool {
		_, live := env.v.ProofTask(1)
		return !live
	})
	require.Zero(t, env.sub.awaitedCount())
}

func TestResolutionRevertSurfaces(t *testing.T) {
	env := newValidatorEnv(t, func(c *Config) { c.RequireChallenge = false })
	env.oracle.setRoot(claimHeight, goodRoot)
	env.ingest(testBlock(101), created(testBlock(101), 0, 1, anchorID, claimHeight, badRoot, 5000))
	env.sub.failAwait(1, &protocol.SubmissionRejectedError{TxHash: common.Hash{0xde}, Reason: "already resolved"})

	env.scan()
	waitFor(t, func() bool { return env.sub.awaitedCount() == 1 })
	waitFor(t, func() bool {
		_, live := env.v.ProofTask(1)
		return !live
	})
	// The fault stays known; the next scan re-derives from the ledger.
	require.Equal(t, []protocol.GameID{1}, env.v.KnownFaults())
}

func TestStrategyParsing(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input string
		want  Strategy
	}{
		{"watchtower", WatchtowerStrategy},
		{"Defensive", DefensiveStrategy},
		{"RESOLVE", ResolveStrategy},
	} {
		got, err := strategyFromString(tc.input)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
	_, err := strategyFromString("aggressive")
	require.Error(t, err)

	badCfg := DefaultConfig
	badCfg.Mode = "aggressive"
	require.Error(t, badCfg.Validate())
	require.NoError(t, DefaultConfig.Validate())
}
