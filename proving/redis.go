// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package proving

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/pubsub"
	"github.com/tesseralabs/arbiter/util/containers"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

var (
	redisRequestsCounter = metrics.NewRegisteredCounter("arbiter/proving/redis/requests", nil)
	redisPendingGauge    = metrics.NewRegisteredGauge("arbiter/proving/redis/pending", nil)
)

// RedisBackend dispatches proof requests onto a redis stream consumed by a
// prover fleet (cmd/prover). The stream producer deduplicates by request ID,
// so competing validators asking for the same witness share one proof, and
// requests survive prover crashes through the stream's pending-entry
// takeover. Results come back as promises resolved by the producer's
// response poller.
type RedisBackend struct {
	stopwaiter.StopWaiter
	producer *pubsub.Producer[Request, Result]

	mutex   sync.Mutex
	pending map[Handle]*containers.Promise[Result]
}

func NewRedisBackend(client redis.UniversalClient, streamName string, cfg *pubsub.ProducerConfig) (*RedisBackend, error) {
	producer, err := pubsub.NewProducer[Request, Result](client, streamName, cfg)
	if err != nil {
		return nil, err
	}
	return &RedisBackend{
		producer: producer,
		pending:  make(map[Handle]*containers.Promise[Result]),
	}, nil
}

func (b *RedisBackend) Start(ctx_in context.Context) {
	b.StopWaiter.Start(ctx_in, b)
	b.producer.Start(b.GetContext())
}

func (b *RedisBackend) RequestProof(ctx context.Context, req Request) (Handle, error) {
	handle := Handle(req.ID())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.pending[handle]; ok {
		return handle, nil
	}
	promise, err := b.producer.Produce(ctx, string(handle), req)
	if err != nil {
		return "", &protocol.ProofBackendError{
			Handle: string(handle),
			Reason: "producing proof request",
			Err:    err,
		}
	}
	b.pending[handle] = promise
	redisRequestsCounter.Inc(1)
	redisPendingGauge.Update(int64(len(b.pending)))
	return handle, nil
}

func (b *RedisBackend) PollProof(ctx context.Context, handle Handle) (Status, error) {
	b.mutex.Lock()
	promise, ok := b.pending[handle]
	b.mutex.Unlock()
	if !ok {
		return Status{}, &protocol.ProofBackendError{Handle: string(handle), Reason: "unknown proof handle"}
	}
	result, err := promise.Current()
	if errors.Is(err, containers.ErrNotReady) {
		return Status{State: ProofPending}, nil
	}
	b.mutex.Lock()
	delete(b.pending, handle)
	redisPendingGauge.Update(int64(len(b.pending)))
	b.mutex.Unlock()
	if err != nil {
		return Status{}, &protocol.ProofBackendError{
			Handle: string(handle),
			Reason: "reading proof result",
			Err:    err,
		}
	}
	if result.Error != "" {
		return Status{State: ProofFailed, Reason: result.Error}, nil
	}
	return Status{State: ProofSucceeded, Artifact: result.Artifact}, nil
}
