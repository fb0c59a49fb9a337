// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package retry

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var retryCounter = metrics.NewRegisteredCounter("arbiter/runtime/retry", nil)

const defaultSleepTime = time.Second * 5

type retryConfig struct {
	sleepTime   time.Duration
	silentUntil int
}

type Opt func(*retryConfig)

// WithInterval changes the wait between attempts.
func WithInterval(d time.Duration) Opt {
	return func(cfg *retryConfig) {
		cfg.sleepTime = d
	}
}

// WithSilentAttempts suppresses error logging for the first n attempts.
func WithSilentAttempts(n int) Opt {
	return func(cfg *retryConfig) {
		cfg.silentUntil = n
	}
}

// UntilSucceeds retries fn until it succeeds or ctx is cancelled. Failures
// are logged and counted; the caller decides what is worth retrying forever
// by what it wraps in fn.
func UntilSucceeds[T any](ctx context.Context, fn func() (T, error), opts ...Opt) (T, error) {
	cfg := retryConfig{sleepTime: defaultSleepTime}
	for _, o := range opts {
		o(&cfg)
	}
	attempt := 0
	for {
		if ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}
		got, err := fn()
		if err != nil {
			attempt++
			retryCounter.Inc(1)
			if attempt > cfg.silentUntil {
				log.Error("Retrying failed call", "attempt", attempt, "err", err)
			}
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-time.After(cfg.sleepTime):
			}
			continue
		}
		return got, nil
	}
}
