// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package util

import (
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// EphemeralErrorHandler is a convenient intermediary between log levels Warn and Error,
// for errors that are expected to clear up on their own.
//
// For a matching error the handler returns
//   - IgnoredErrLogLevel (default log.Debug) while the error has repeated for less than IgnoreDuration
//   - log.Warn while the error has repeated for less than Duration
//   - log.Error afterwards
//
// A non-matching error resets the handler and returns the caller's level unchanged.
type EphemeralErrorHandler struct {
	Duration        time.Duration
	ErrorString     string
	FirstOccurrence *time.Time

	IgnoreDuration     time.Duration
	IgnoredErrLogLevel func(msg string, ctx ...interface{})
}

func NewEphemeralErrorHandler(duration time.Duration, errorString string, ignoreDuration time.Duration) *EphemeralErrorHandler {
	return &EphemeralErrorHandler{
		Duration:           duration,
		ErrorString:        errorString,
		FirstOccurrence:    &time.Time{},
		IgnoreDuration:     ignoreDuration,
		IgnoredErrLogLevel: log.Debug,
	}
}

func (h *EphemeralErrorHandler) LogLevel(err error, currentLogLevel func(msg string, ctx ...interface{})) func(string, ...interface{}) {
	if h.ErrorString != "" && !strings.Contains(err.Error(), h.ErrorString) {
		h.Reset()
		return currentLogLevel
	}

	if *h.FirstOccurrence == (time.Time{}) {
		*h.FirstOccurrence = time.Now()
	}

	if h.IgnoreDuration != 0 && time.Since(*h.FirstOccurrence) < h.IgnoreDuration {
		if h.IgnoredErrLogLevel != nil {
			return h.IgnoredErrLogLevel
		}
		return log.Debug
	}

	if time.Since(*h.FirstOccurrence) < h.Duration {
		return log.Warn
	}
	return log.Error
}

func (h *EphemeralErrorHandler) Reset() {
	*h.FirstOccurrence = time.Time{}
}

func CompareLogLevels(a, b func(msg string, ctx ...interface{})) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
