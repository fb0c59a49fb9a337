// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package containers

import (
	"context"
	"errors"
	"sync"
)

var ErrNotReady = errors.New("not ready")

type PromiseInterface[T any] interface {
	// Await blocks until the promise is produced or ctx ends. A context end
	// cancels the underlying operation.
	Await(ctx context.Context) (T, error)
	// Current returns the result if produced, or ErrNotReady.
	Current() (T, error)
	// Cancel aborts the underlying operation, if one was attached.
	Cancel()
}

// Promise is a single-assignment future. Produce/ProduceError may be called
// once; waiters see the first outcome. The zero value is not usable, create
// with NewPromise.
type Promise[T any] struct {
	mutex     sync.Mutex
	result    T
	err       error
	produced  bool
	cancel    func()
	chanReady chan struct{}
}

func NewPromise[T any](cancel func()) Promise[T] {
	return Promise[T]{
		cancel:    cancel,
		chanReady: make(chan struct{}),
	}
}

// NewReadyPromise returns an already-produced promise, useful for returning
// early failures through promise-shaped APIs.
func NewReadyPromise[T any](val T, err error) PromiseInterface[T] {
	promise := NewPromise[T](nil)
	if err != nil {
		promise.ProduceError(err)
	} else {
		promise.Produce(val)
	}
	return &promise
}

func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.chanReady:
		return p.Current()
	case <-ctx.Done():
		p.Cancel()
		var empty T
		return empty, ctx.Err()
	}
}

func (p *Promise[T]) Current() (T, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.produced {
		var empty T
		return empty, ErrNotReady
	}
	return p.result, p.err
}

func (p *Promise[T]) Produce(value T) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.produced {
		return
	}
	p.result = value
	p.produced = true
	close(p.chanReady)
}

func (p *Promise[T]) ProduceError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.produced {
		return
	}
	p.err = err
	p.produced = true
	close(p.chanReady)
}

// SetCancel attaches a cancel function after construction. Only valid before
// the promise is shared with other goroutines.
func (p *Promise[T]) SetCancel(cancel func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cancel = cancel
}

func (p *Promise[T]) Cancel() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}
