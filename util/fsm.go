package util

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrFsmInvalidTransition = errors.New("invalid state transition")
	ErrFsmEventNotFound     = errors.New("event not found")
)

type Stringer interface {
	String() string
}

// FsmEvent defines a transition for a finite state machine: an event type,
// the states it may fire from, and the state it leads to.
type FsmEvent[E Stringer, S fmt.Stringer] struct {
	// Typ is a sample value of the event kind this transition reacts to.
	Typ E
	// From lists the states the event may fire from.
	From []S
	// To is the resulting state.
	To S
}

type CurrentState[E Stringer, S fmt.Stringer] struct {
	SourceEvent E
	State       S
}

type executedTransition[E Stringer, S fmt.Stringer] struct {
	From  S
	To    S
	Event E
}

// Fsm is a generic finite state machine. Events are identified by their
// String() representation, so two event values of the same kind share a
// transition regardless of their payload.
type Fsm[E Stringer, S fmt.Stringer] struct {
	sync.RWMutex
	curr                *CurrentState[E, S]
	transitions         map[string]*FsmEvent[E, S]
	trackTransitions    bool
	transitionsExecuted []*executedTransition[E, S]
}

type FsmOpt[E Stringer, S fmt.Stringer] func(*Fsm[E, S])

// WithTrackedTransitions records every executed transition for debugging.
func WithTrackedTransitions[E Stringer, S fmt.Stringer]() FsmOpt[E, S] {
	return func(f *Fsm[E, S]) {
		f.trackTransitions = true
	}
}

func NewFsm[E Stringer, S fmt.Stringer](startState S, transitions []*FsmEvent[E, S], opts ...FsmOpt[E, S]) (*Fsm[E, S], error) {
	if len(transitions) == 0 {
		return nil, errors.New("no transitions specified")
	}
	table := make(map[string]*FsmEvent[E, S], len(transitions))
	for _, ev := range transitions {
		key := ev.Typ.String()
		if _, ok := table[key]; ok {
			return nil, fmt.Errorf("duplicate event %s in transition table", key)
		}
		table[key] = ev
	}
	fsm := &Fsm[E, S]{
		curr:        &CurrentState[E, S]{State: startState},
		transitions: table,
	}
	for _, opt := range opts {
		opt(fsm)
	}
	return fsm, nil
}

func (f *Fsm[E, S]) Current() *CurrentState[E, S] {
	f.RLock()
	defer f.RUnlock()
	return f.curr
}

// Do fires an event, transitioning the machine if the event is permitted
// from the current state.
func (f *Fsm[E, S]) Do(event E) error {
	f.Lock()
	defer f.Unlock()
	ev, ok := f.transitions[event.String()]
	if !ok {
		return errors.Wrap(ErrFsmEventNotFound, event.String())
	}
	from := f.curr.State
	allowed := false
	for _, src := range ev.From {
		if src.String() == from.String() {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(ErrFsmInvalidTransition, "cannot %s from state %s", event.String(), from.String())
	}
	f.curr = &CurrentState[E, S]{
		SourceEvent: event,
		State:       ev.To,
	}
	if f.trackTransitions {
		f.transitionsExecuted = append(f.transitionsExecuted, &executedTransition[E, S]{
			From:  from,
			To:    ev.To,
			Event: event,
		})
	}
	return nil
}
