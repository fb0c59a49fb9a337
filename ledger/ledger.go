// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package ledger maintains the record of every dispute game the factory has
// emitted, reconstructed purely from L1 logs. A single writer (the chain
// watcher) ingests blocks; engines read concurrently through snapshot
// queries. Every mutation is journaled per L1 block so a reorg rolls back
// exactly what the abandoned branch contributed.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/util/arbmath"
)

var (
	gamesTrackedGauge     = metrics.NewRegisteredGauge("arbiter/ledger/games", nil)
	activeGamesGauge      = metrics.NewRegisteredGauge("arbiter/ledger/games/active", nil)
	eventsIngestedCounter = metrics.NewRegisteredCounter("arbiter/ledger/events", nil)
	blocksIngestedCounter = metrics.NewRegisteredCounter("arbiter/ledger/blocks", nil)
	reorgsCounter         = metrics.NewRegisteredCounter("arbiter/ledger/reorgs", nil)
)

// ErrReorgRequired reports that an ingested block does not extend the last
// ingested one. The caller rolls back to a still-canonical block and rescans.
var ErrReorgRequired = errors.New("ingested block does not extend ledger")

// journalEntry records everything one L1 block contributed: the games it
// created and the pre-images of every game it modified, including games
// expired by propagation. Popping the entry restores the ledger to the state
// before the block.
type journalEntry struct {
	block     protocol.BlockRef
	created   []protocol.GameID
	touched   map[protocol.GameID]*protocol.GameInstance
	anchorSet bool
}

// touch snapshots game before its first mutation under this entry.
func (entry *journalEntry) touch(game *protocol.GameInstance) {
	if _, done := entry.touched[game.ID]; !done {
		entry.touched[game.ID] = game.Clone()
	}
}

// Ledger is the in-memory game database. Mutators take the write lock,
// queries share the read lock and return clones so callers never alias
// internal records.
type Ledger struct {
	mutex sync.RWMutex

	games    map[protocol.GameID]*protocol.GameInstance
	children map[protocol.GameID][]protocol.GameID
	active   map[protocol.GameID]struct{}

	anchor    protocol.GameID
	hasAnchor bool

	journal  []*journalEntry
	ingested map[common.Hash]uint64

	version uint64
}

func New() *Ledger {
	return &Ledger{
		games:    make(map[protocol.GameID]*protocol.GameInstance),
		children: make(map[protocol.GameID][]protocol.GameID),
		active:   make(map[protocol.GameID]struct{}),
		ingested: make(map[common.Hash]uint64),
	}
}

// IngestBlock applies all of one L1 block's game events atomically. parent is
// the hash the caller observed at the previously ingested height: a mismatch,
// like a non-ascending block number, fails with ErrReorgRequired before any
// state changes. Replaying a block already ingested (same hash) is a no-op,
// as is a repeated log index within the batch. When any event fails, the
// block's partial effects are undone before the error is returned.
func (l *Ledger) IngestBlock(ref protocol.BlockRef, parent common.Hash, events []protocol.GameEvent) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, done := l.ingested[ref.Hash]; done {
		return nil
	}
	if last, ok := l.lastIngestedLocked(); ok {
		if parent != last.Hash || ref.Number <= last.Number {
			return fmt.Errorf("%w: ingesting %v atop %v, last ingested %v", ErrReorgRequired, ref, parent, last)
		}
	}

	entry := &journalEntry{
		block:   ref,
		touched: make(map[protocol.GameID]*protocol.GameInstance),
	}
	seen := make(map[uint]struct{}, len(events))
	applied := int64(0)
	for _, event := range events {
		header := event.Header()
		if header.Block.Hash != ref.Hash {
			l.revert(entry)
			return protocol.Fatalf("event for game %v observed at %v, ingesting %v", event.Game(), header.Block, ref)
		}
		if _, dup := seen[header.LogIndex]; dup {
			continue
		}
		seen[header.LogIndex] = struct{}{}

		var err error
		switch ev := event.(type) {
		case *protocol.GameCreatedEvent:
			err = l.applyCreated(entry, ev)
		case *protocol.GameChallengedEvent:
			err = l.applyChallenged(entry, ev)
		case *protocol.GameResolvedEvent:
			err = l.applyResolved(entry, ev)
		case *protocol.GameExpiredEvent:
			err = l.applyExpired(entry, ev)
		default:
			err = protocol.Fatalf("unknown game event %T for game %v", event, event.Game())
		}
		if err != nil {
			l.revert(entry)
			return err
		}
		applied++
	}

	l.journal = append(l.journal, entry)
	l.ingested[ref.Hash] = ref.Number
	if len(entry.created) > 0 || len(entry.touched) > 0 {
		l.version++
	}
	eventsIngestedCounter.Inc(applied)
	blocksIngestedCounter.Inc(1)
	l.updateGauges()
	return nil
}

// sameCreation reports whether ev restates the creation that produced g,
// ignoring where it was observed.
func sameCreation(g *protocol.GameInstance, ev *protocol.GameCreatedEvent) bool {
	return g.ParentID == ev.ParentID &&
		g.Proposer == ev.Proposer &&
		g.OutputRoot == ev.OutputRoot &&
		g.L2BlockNumber == ev.L2BlockNumber &&
		g.Deadline == ev.Deadline &&
		arbmath.BigEquals(g.Bond, ev.Bond)
}

func (l *Ledger) applyCreated(entry *journalEntry, ev *protocol.GameCreatedEvent) error {
	if existing, known := l.games[ev.ID]; known {
		if sameCreation(existing, ev) {
			return nil
		}
		return protocol.Fatalf("game %v created twice with different content (have %v by %v)", ev.ID, existing.OutputRoot, existing.Proposer)
	}
	if ev.ParentID == protocol.NoParent {
		if l.hasAnchor {
			return protocol.Fatalf("second anchor game %v, anchor is %v", ev.ID, l.anchor)
		}
	} else {
		parent, known := l.games[ev.ParentID]
		if !known {
			return &protocol.LedgerInconsistencyError{
				GameID:        ev.ID,
				MissingParent: ev.ParentID,
				Reason:        "creation references a game never ingested",
			}
		}
		if ev.L2BlockNumber <= parent.L2BlockNumber {
			return protocol.Fatalf("game %v claims L2 block %d, not past parent %v at %d",
				ev.ID, ev.L2BlockNumber, parent.ID, parent.L2BlockNumber)
		}
	}

	game := &protocol.GameInstance{
		ID:            ev.ID,
		ParentID:      ev.ParentID,
		OutputRoot:    ev.OutputRoot,
		L2BlockNumber: ev.L2BlockNumber,
		Proposer:      ev.Proposer,
		Status:        protocol.GamePending,
		Bond:          new(big.Int).Set(ev.Bond),
		Deadline:      ev.Deadline,
		CreatedAt:     entry.block,
	}
	l.games[ev.ID] = game
	l.active[ev.ID] = struct{}{}
	if ev.ParentID == protocol.NoParent {
		l.anchor = ev.ID
		l.hasAnchor = true
		entry.anchorSet = true
	} else {
		l.children[ev.ParentID] = append(l.children[ev.ParentID], ev.ID)
	}
	entry.created = append(entry.created, ev.ID)
	return nil
}

func (l *Ledger) applyChallenged(entry *journalEntry, ev *protocol.GameChallengedEvent) error {
	game, known := l.games[ev.ID]
	if !known {
		return &protocol.LedgerInconsistencyError{
			GameID:        ev.ID,
			MissingParent: protocol.NoParent,
			Reason:        "challenge for a game never ingested",
		}
	}
	if !game.Status.CanTransitionTo(protocol.GameChallenged) {
		return protocol.Fatalf("game %v challenged while %v", ev.ID, game.Status)
	}
	entry.touch(game)
	game.Status = protocol.GameChallenged
	game.Challenger = ev.Challenger
	return nil
}

func (l *Ledger) applyResolved(entry *journalEntry, ev *protocol.GameResolvedEvent) error {
	game, known := l.games[ev.ID]
	if !known {
		return &protocol.LedgerInconsistencyError{
			GameID:        ev.ID,
			MissingParent: protocol.NoParent,
			Reason:        "resolution for a game never ingested",
		}
	}
	target := protocol.GameResolvedInvalid
	if ev.Valid {
		target = protocol.GameResolvedValid
	}
	if !game.Status.CanTransitionTo(target) {
		return protocol.Fatalf("game %v resolved %v while %v", ev.ID, target, game.Status)
	}
	entry.touch(game)
	game.Status = target
	delete(l.active, ev.ID)
	if target == protocol.GameResolvedInvalid {
		l.expireDescendants(entry, ev.ID)
	}
	return nil
}

// expireDescendants marks every non-terminal game below id expired, recording
// pre-images in the same entry so a rollback of the resolution restores them.
func (l *Ledger) expireDescendants(entry *journalEntry, id protocol.GameID) {
	for _, child := range l.children[id] {
		if game := l.games[child]; !game.Status.IsTerminal() {
			entry.touch(game)
			game.Status = protocol.GameExpired
			delete(l.active, child)
		}
		l.expireDescendants(entry, child)
	}
}

func (l *Ledger) applyExpired(entry *journalEntry, ev *protocol.GameExpiredEvent) error {
	game, known := l.games[ev.ID]
	if !known {
		return &protocol.LedgerInconsistencyError{
			GameID:        ev.ID,
			MissingParent: protocol.NoParent,
			Reason:        "expiry for a game never ingested",
		}
	}
	if game.Status == protocol.GameExpired {
		// Propagation from an invalid ancestor may precede the chain's own
		// expiry event.
		return nil
	}
	if !game.Status.CanTransitionTo(protocol.GameExpired) {
		return protocol.Fatalf("game %v expired while %v", ev.ID, game.Status)
	}
	entry.touch(game)
	game.Status = protocol.GameExpired
	delete(l.active, ev.ID)
	return nil
}

// revert undoes everything entry recorded. Touched pre-images are restored
// first so a game both created and modified under the entry ends up deleted.
func (l *Ledger) revert(entry *journalEntry) {
	for id, preimage := range entry.touched {
		l.games[id] = preimage
		if preimage.Status.IsTerminal() {
			delete(l.active, id)
		} else {
			l.active[id] = struct{}{}
		}
	}
	for i := len(entry.created) - 1; i >= 0; i-- {
		id := entry.created[i]
		game := l.games[id]
		delete(l.games, id)
		delete(l.active, id)
		delete(l.children, id)
		if game.HasParent() {
			l.children[game.ParentID] = removeChild(l.children[game.ParentID], id)
		}
	}
	if entry.anchorSet {
		l.hasAnchor = false
	}
	l.updateGauges()
}

func removeChild(children []protocol.GameID, id protocol.GameID) []protocol.GameID {
	for i, child := range children {
		if child == id {
			return append(children[:i], children[i+1:]...)
		}
	}
	return children
}

// RollbackTo discards every ingested block above blockNumber, newest first.
// The rollback is complete, and visible to readers, before any replacement
// branch block can be ingested.
func (l *Ledger) RollbackTo(blockNumber uint64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.rollbackLocked(func(block protocol.BlockRef) bool {
		return block.Number > blockNumber
	})
}

// RollbackBlock discards the named block and everything ingested above it.
func (l *Ledger) RollbackBlock(hash common.Hash) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	number, known := l.ingested[hash]
	if !known {
		return fmt.Errorf("cannot roll back block %v: never ingested", hash)
	}
	l.rollbackLocked(func(block protocol.BlockRef) bool {
		return block.Number >= number
	})
	return nil
}

func (l *Ledger) rollbackLocked(drop func(protocol.BlockRef) bool) {
	popped := 0
	for len(l.journal) > 0 {
		entry := l.journal[len(l.journal)-1]
		if !drop(entry.block) {
			break
		}
		l.journal = l.journal[:len(l.journal)-1]
		l.revert(entry)
		delete(l.ingested, entry.block.Hash)
		popped++
	}
	if popped > 0 {
		l.version++
		reorgsCounter.Inc(1)
	}
}

// Game returns a clone of the game record, or nil if the ID is unknown.
func (l *Ledger) Game(id protocol.GameID) *protocol.GameInstance {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.games[id].Clone()
}

// GameCount returns the number of games ever ingested, terminal included.
func (l *Ledger) GameCount() uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return uint64(len(l.games))
}

// Children returns the IDs of id's children in creation order.
func (l *Ledger) Children(id protocol.GameID) []protocol.GameID {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	children := l.children[id]
	if len(children) == 0 {
		return nil
	}
	out := make([]protocol.GameID, len(children))
	copy(out, children)
	return out
}

// ActiveGames returns clones of every non-terminal game, ascending by ID.
func (l *Ledger) ActiveGames() []*protocol.GameInstance {
	return l.ActiveGamesBy(func(*protocol.GameInstance) bool { return true })
}

// ActiveGamesBy returns clones of the non-terminal games accepted by pred,
// ascending by ID. pred runs on the clone.
func (l *Ledger) ActiveGamesBy(pred func(*protocol.GameInstance) bool) []*protocol.GameInstance {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	games := make([]*protocol.GameInstance, 0, len(l.active))
	for id := range l.active {
		if game := l.games[id].Clone(); pred(game) {
			games = append(games, game)
		}
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })
	return games
}

// AnchorID returns the anchor game's ID, or false before one is ingested.
func (l *Ledger) AnchorID() (protocol.GameID, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.anchor, l.hasAnchor
}

// Tip returns a clone of the head of the canonical branch, or nil for an
// empty ledger.
func (l *Ledger) Tip() *protocol.GameInstance {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	canonical := l.canonicalLocked()
	if len(canonical) == 0 {
		return nil
	}
	return canonical[len(canonical)-1]
}

// CanonicalView snapshots the proposal tree: the branch from the anchor
// following viable children, plus every active game off that branch as a
// fork.
func (l *Ledger) CanonicalView() *protocol.ProposalChainView {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	canonical := l.canonicalLocked()
	onBranch := make(map[protocol.GameID]struct{}, len(canonical))
	for _, game := range canonical {
		onBranch[game.ID] = struct{}{}
	}
	var forks []*protocol.GameInstance
	for id := range l.active {
		if _, ok := onBranch[id]; !ok {
			forks = append(forks, l.games[id].Clone())
		}
	}
	sort.Slice(forks, func(i, j int) bool { return forks[i].ID < forks[j].ID })
	return &protocol.ProposalChainView{
		Version:   l.version,
		Canonical: canonical,
		Forks:     forks,
	}
}

// canonicalLocked walks anchor to tip, descending into the viable child with
// the lowest ID at each split. ResolvedInvalid and Expired games never extend
// the branch.
func (l *Ledger) canonicalLocked() []*protocol.GameInstance {
	if !l.hasAnchor {
		return nil
	}
	var branch []*protocol.GameInstance
	cur := l.anchor
	for {
		branch = append(branch, l.games[cur].Clone())
		next, ok := l.viableChild(cur)
		if !ok {
			return branch
		}
		cur = next
	}
}

func (l *Ledger) viableChild(id protocol.GameID) (protocol.GameID, bool) {
	for _, child := range l.children[id] {
		switch l.games[child].Status {
		case protocol.GameResolvedInvalid, protocol.GameExpired:
		default:
			return child, true
		}
	}
	return 0, false
}

// Version returns a counter that changes with every visible mutation. Equal
// versions mean no ingestion or rollback happened in between.
func (l *Ledger) Version() uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.version
}

// LastIngested returns the newest ingested block, or false for an empty or
// fully rolled back ledger.
func (l *Ledger) LastIngested() (protocol.BlockRef, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.lastIngestedLocked()
}

func (l *Ledger) lastIngestedLocked() (protocol.BlockRef, bool) {
	if len(l.journal) == 0 {
		return protocol.BlockRef{}, false
	}
	return l.journal[len(l.journal)-1].block, true
}

// IngestedBlocks returns up to max ingested blocks, newest first. The reorg
// walk-back probes these against the canonical chain.
func (l *Ledger) IngestedBlocks(max int) []protocol.BlockRef {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if max > len(l.journal) {
		max = len(l.journal)
	}
	blocks := make([]protocol.BlockRef, 0, max)
	for i := len(l.journal) - 1; i >= 0 && len(blocks) < max; i-- {
		blocks = append(blocks, l.journal[i].block)
	}
	return blocks
}

func (l *Ledger) updateGauges() {
	gamesTrackedGauge.Update(int64(len(l.games)))
	activeGamesGauge.Update(int64(len(l.active)))
}
