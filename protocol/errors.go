// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package protocol

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TransientChainError wraps an RPC or network failure while reading the
// chain. Callers retry with backoff; state is never mutated on this path.
type TransientChainError struct {
	Op  string
	Err error
}

func (e *TransientChainError) Error() string {
	return fmt.Sprintf("transient chain error in %s: %v", e.Op, e.Err)
}

func (e *TransientChainError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientChainError, or returns nil if err is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientChainError{Op: op, Err: err}
}

// IsTransient reports whether err is a retriable chain-read failure.
func IsTransient(err error) bool {
	var t *TransientChainError
	return errors.As(err, &t)
}

// LedgerInconsistencyError reports an event that cannot be applied to the
// ledger yet: typically a child creation whose parent is unknown. It halts
// ingestion for the affected branch only; the watcher backfills the missing
// data and retries.
type LedgerInconsistencyError struct {
	GameID        GameID
	MissingParent GameID
	Reason        string
}

func (e *LedgerInconsistencyError) Error() string {
	if e.MissingParent != NoParent {
		return fmt.Sprintf("ledger inconsistency for game %v: unknown parent %v: %s", e.GameID, e.MissingParent, e.Reason)
	}
	return fmt.Sprintf("ledger inconsistency for game %v: %s", e.GameID, e.Reason)
}

// ProofBackendError is an infrastructure failure of the proving service (not
// a disagreement verdict). Retried to a configured bound; exhaustion marks
// the owning task failed without blocking unrelated work.
type ProofBackendError struct {
	Handle string
	Reason string
	Err    error
}

func (e *ProofBackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proof backend failure (handle %q): %s: %v", e.Handle, e.Reason, e.Err)
	}
	return fmt.Sprintf("proof backend failure (handle %q): %s", e.Handle, e.Reason)
}

func (e *ProofBackendError) Unwrap() error { return e.Err }

// SubmissionRejectedError reports a transaction confirmed as reverted or
// rejected by the chain. The submitting engine must re-derive fresh state
// before any retry.
type SubmissionRejectedError struct {
	TxHash common.Hash
	Reason string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("submission %v rejected: %s", e.TxHash, e.Reason)
}

// FatalError is a configuration or invariant violation the system must not
// run past, e.g. two anchor games. The affected engine halts; this is never
// absorbed.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf builds a FatalError with a formatted reason.
func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err carries an invariant violation that must halt
// the owning engine.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
