// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package protocol

// ProposalChainView is an immutable snapshot of the proposal tree taken at a
// ledger version: the canonical branch from the anchor to the tip, plus any
// active games off that branch. Engines take a fresh view per cycle and
// never mutate one; a view that survives a reorg is simply stale, detectable
// by comparing Version against the ledger.
type ProposalChainView struct {
	// Version is the ledger version the view was computed at.
	Version uint64
	// Canonical holds the anchor-to-tip branch, ascending by L2 block
	// number. Entries are clones; mutating them has no effect on the ledger.
	Canonical []*GameInstance
	// Forks holds active (non-terminal) games outside the canonical branch,
	// ascending by ID.
	Forks []*GameInstance
}

// Anchor returns the root of the canonical branch, or nil for an empty view.
func (v *ProposalChainView) Anchor() *GameInstance {
	if len(v.Canonical) == 0 {
		return nil
	}
	return v.Canonical[0]
}

// Tip returns the head of the canonical branch, or nil for an empty view.
func (v *ProposalChainView) Tip() *GameInstance {
	if len(v.Canonical) == 0 {
		return nil
	}
	return v.Canonical[len(v.Canonical)-1]
}

// Game returns the canonical-branch game with the given ID, or nil.
func (v *ProposalChainView) Game(id GameID) *GameInstance {
	for _, g := range v.Canonical {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// ClaimAtHeight returns the game (canonical or fork) claiming the given L2
// block number on top of the given parent, or nil when no game does. The
// parent matters: the same height claimed on a different branch is a
// different claim.
func (v *ProposalChainView) ClaimAtHeight(parent GameID, l2Block uint64) *GameInstance {
	for _, g := range v.Canonical {
		if g.ParentID == parent && g.L2BlockNumber == l2Block {
			return g
		}
	}
	for _, g := range v.Forks {
		if g.ParentID == parent && g.L2BlockNumber == l2Block {
			return g
		}
	}
	return nil
}

// ClaimedAtHeight reports whether any game in the view already claims the
// given L2 block number on top of the given parent. The proposer checks
// this before submitting to avoid racing a competing claim.
func (v *ProposalChainView) ClaimedAtHeight(parent GameID, l2Block uint64) bool {
	return v.ClaimAtHeight(parent, l2Block) != nil
}
