// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package proposer

import (
	"fmt"

	"github.com/tesseralabs/arbiter/util"
)

// State of the proposer's claim machine.
type State uint8

const (
	// Start state of 0 can never happen to avoid silly mistakes with default Go values.
	_ State = iota
	// Idle means no proposal is in flight; each cycle looks for the next
	// claimable height.
	Idle
	// Submitting means a candidate was selected and is about to be posted.
	Submitting
	// AwaitingConfirmation means the claim was handed to the submitter and
	// the machine is waiting for its creation event to be ingested.
	AwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return "invalid"
	}
}

// Actions that transition the proposer between states.
type proposerAction interface {
	fmt.Stringer
	isProposerAction() bool
}

// A candidate claim was selected for submission.
type proposeClaim struct{}

// The claim went to the submitter; wait for its creation event.
type awaitConfirmation struct{}

// The claim's creation event was ingested.
type confirmProposal struct{}

// The claim was overtaken by a competitor or rejected on chain.
type abandonProposal struct{}

// Nothing to do, or a failure that calls for a fresh derivation.
type backToIdle struct{}

func (proposeClaim) String() string {
	return "propose_claim"
}
func (awaitConfirmation) String() string {
	return "await_confirmation"
}
func (confirmProposal) String() string {
	return "confirm_proposal"
}
func (abandonProposal) String() string {
	return "abandon_proposal"
}
func (backToIdle) String() string {
	return "back_to_idle"
}

func (proposeClaim) isProposerAction() bool {
	return true
}
func (awaitConfirmation) isProposerAction() bool {
	return true
}
func (confirmProposal) isProposerAction() bool {
	return true
}
func (abandonProposal) isProposerAction() bool {
	return true
}
func (backToIdle) isProposerAction() bool {
	return true
}

func newProposerFsm(startState State, opts ...util.FsmOpt[proposerAction, State]) (*util.Fsm[proposerAction, State], error) {
	transitions := []*util.FsmEvent[proposerAction, State]{
		{
			Typ:  proposeClaim{},
			From: []State{Idle},
			To:   Submitting,
		},
		{
			Typ:  awaitConfirmation{},
			From: []State{Submitting, AwaitingConfirmation},
			To:   AwaitingConfirmation,
		},
		{
			Typ:  confirmProposal{},
			From: []State{AwaitingConfirmation},
			To:   Idle,
		},
		{
			Typ:  abandonProposal{},
			From: []State{Submitting, AwaitingConfirmation},
			To:   Idle,
		},
		{
			// Several states can cause this, including stale candidates and
			// submission failures.
			Typ:  backToIdle{},
			From: []State{Idle, Submitting, AwaitingConfirmation},
			To:   Idle,
		},
	}
	return util.NewFsm(startState, transitions, opts...)
}
