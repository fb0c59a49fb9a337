// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package util

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/r3labs/diff/v3"

	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

// Reloadable is implemented by node configurations that support live reloading.
type Reloadable[T any] interface {
	ShallowClone() T
	CanReload(new T) error
	GetReloadInterval() time.Duration
	Validate() error
}

type OnReloadHook[T any] func(old T, new T) error

func noopOnReloadHook[T any](_ T, _ T) error {
	return nil
}

// LiveConfig re-parses the command line and config files on SIGUSR1 or on a
// timer and atomically swaps in the new configuration if CanReload allows it.
type LiveConfig[T Reloadable[T]] struct {
	stopwaiter.StopWaiter

	mutex        sync.RWMutex
	args         []string
	config       T
	parse        func(ctx context.Context, args []string) (T, error)
	onReloadHook OnReloadHook[T]
}

func NewLiveConfig[T Reloadable[T]](args []string, config T, parse func(ctx context.Context, args []string) (T, error)) *LiveConfig[T] {
	return &LiveConfig[T]{
		args:         args,
		config:       config,
		parse:        parse,
		onReloadHook: noopOnReloadHook[T],
	}
}

func (c *LiveConfig[T]) Get() T {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.config
}

func (c *LiveConfig[T]) Set(config T) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.config.CanReload(config); err != nil {
		return err
	}
	if err := c.onReloadHook(c.config, config); err != nil {
		// TODO(magic) panic? return err? only log the error?
		log.Error("Failed to execute onReloadHook", "err", err)
	}
	changelog, err := diff.Diff(c.config, config)
	if err != nil {
		log.Warn("Failed to diff old and new config", "err", err)
	} else {
		for _, change := range changelog {
			log.Info("config value updated", "path", strings.Join(change.Path, "."), "old", change.From, "new", change.To)
		}
	}
	c.config = config
	return nil
}

// SetOnReloadHook is NOT thread-safe and supports setting only one hook
func (c *LiveConfig[T]) SetOnReloadHook(hook OnReloadHook[T]) {
	c.onReloadHook = hook
}

func (c *LiveConfig[T]) Start(ctxIn context.Context) {
	c.StopWaiter.Start(ctxIn, c)

	sigusr1 := make(chan os.Signal, 1)
	signal.Notify(sigusr1, syscall.SIGUSR1)

	c.LaunchThread(func(ctx context.Context) {
		for {
			reloadInterval := c.Get().GetReloadInterval()
			if reloadInterval == 0 {
				select {
				case <-ctx.Done():
					return
				case <-sigusr1:
					log.Info("Configuration reload triggered by SIGUSR1.")
				}
			} else {
				timer := time.NewTimer(reloadInterval)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-sigusr1:
					timer.Stop()
					log.Info("Configuration reload triggered by SIGUSR1.")
				case <-timer.C:
				}
			}
			config, err := c.parse(ctx, c.args)
			if err != nil {
				log.Error("error parsing live config", "error", err.Error())
				continue
			}
			err = c.Set(config)
			if err != nil {
				log.Error("error updating live config", "error", err.Error())
				continue
			}
		}
	})
}
