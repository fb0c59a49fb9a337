// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package ephemeralerror provides loggers that demote an error to a warning
// until it has persisted past a configured trigger. Useful for conditions
// that routinely self-heal, like an RPC endpoint dropping a request or a
// chain head lagging briefly behind the wall clock.
package ephemeralerror

import (
	"sync"
	"sync/atomic"
	"time"
)

type LogFn func(msg string, ctx ...interface{})

// EphemeralErrorLogger routes a recurring error to a warn-level logger until
// the error proves persistent, then routes it to an error-level logger.
// Reset must be called once the underlying condition clears.
type EphemeralErrorLogger interface {
	Error(msg string, ctx ...interface{})
	Reset()
}

// CountEphemeralErrorLogger promotes to error level after the same condition
// has been reported more than errorCountTrigger times since the last Reset.
type CountEphemeralErrorLogger struct {
	warnFn            LogFn
	errorFn           LogFn
	errorCountTrigger int64
	count             atomic.Int64
}

func NewCountEphemeralErrorLogger(warnFn LogFn, errorFn LogFn, errorCountTrigger int64) *CountEphemeralErrorLogger {
	return &CountEphemeralErrorLogger{
		warnFn:            warnFn,
		errorFn:           errorFn,
		errorCountTrigger: errorCountTrigger,
	}
}

func (l *CountEphemeralErrorLogger) Error(msg string, ctx ...interface{}) {
	if l.count.Add(1) <= l.errorCountTrigger {
		l.warnFn(msg, ctx...)
	} else {
		l.errorFn(msg, ctx...)
	}
}

func (l *CountEphemeralErrorLogger) Reset() {
	l.count.Store(0)
}

// TimeEphemeralErrorLogger promotes to error level once the condition has
// been continuously reported for longer than continuousDurationTrigger.
type TimeEphemeralErrorLogger struct {
	warnFn                    LogFn
	errorFn                   LogFn
	continuousDurationTrigger time.Duration
	mutex                     sync.Mutex
	firstSeen                 time.Time
}

func NewTimeEphemeralErrorLogger(warnFn LogFn, errorFn LogFn, continuousDurationTrigger time.Duration) *TimeEphemeralErrorLogger {
	return &TimeEphemeralErrorLogger{
		warnFn:                    warnFn,
		errorFn:                   errorFn,
		continuousDurationTrigger: continuousDurationTrigger,
	}
}

func (l *TimeEphemeralErrorLogger) Error(msg string, ctx ...interface{}) {
	l.mutex.Lock()
	if l.firstSeen.IsZero() {
		l.firstSeen = time.Now()
	}
	persistent := time.Since(l.firstSeen) >= l.continuousDurationTrigger
	l.mutex.Unlock()
	if persistent {
		l.errorFn(msg, ctx...)
	} else {
		l.warnFn(msg, ctx...)
	}
}

func (l *TimeEphemeralErrorLogger) Reset() {
	l.mutex.Lock()
	l.firstSeen = time.Time{}
	l.mutex.Unlock()
}
