// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package validator

import (
	"time"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/proving"
)

type TaskState uint8

const (
	// Start state of 0 can never happen to avoid silly mistakes with default Go values.
	_ TaskState = iota
	TaskQueued
	TaskInFlight
	TaskSucceeded
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskInFlight:
		return "in_flight"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// ProofTask is one unit of proving work. The scheduler owns every task
// exclusively: workers mutate it only under the scheduler's lock, and
// everything handed outside the scheduler is a value copy.
type ProofTask struct {
	TargetGameID protocol.GameID
	Kind         proving.Kind
	RequestedAt  time.Time
	Attempt      uint64
	State        TaskState
}
