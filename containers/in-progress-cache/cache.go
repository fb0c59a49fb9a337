package inprogresscache

import (
	"sync"

	"github.com/ethereum/go-ethereum/metrics"
)

var (
	inFlightRequestsCounter = metrics.NewRegisteredCounter("arbiter/containers/inprogresscache/inflight", nil)
	pendingRequestsCounter  = metrics.NewRegisteredCounter("arbiter/containers/inprogresscache/pending", nil)
)

type result[V any] struct {
	val V
	err error
}

// Cache for expensive computations that ensures only
// one request is in-flight at a time. If a future request comes in with the same request id
// as the ongoing computation, a goroutine is spawned that awaits the computation's completion
// instead of kicking off two expensive computations. The computation's error, if any, is
// delivered to every caller that coalesced onto it.
type Cache[K comparable, V any] struct {
	inProgress         map[K]bool
	awaitingCompletion map[K][]chan result[V]
	lock               sync.Mutex
}

func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		inProgress:         make(map[K]bool),
		awaitingCompletion: make(map[K][]chan result[V]),
	}
}

// Compute an expensive closure. The request must be representable as a string.
func (c *Cache[K, V]) Compute(requestId K, f func() (V, error)) (V, error) {
	c.lock.Lock()
	if c.inProgress[requestId] {
		pendingRequestsCounter.Inc(1)
		responseChan := make(chan result[V], 1)
		c.awaitingCompletion[requestId] = append(c.awaitingCompletion[requestId], responseChan)
		c.lock.Unlock()
		res := <-responseChan
		return res.val, res.err
	}
	c.inProgress[requestId] = true
	inFlightRequestsCounter.Inc(1)
	c.lock.Unlock()

	// Do expensive operation
	val, err := f()

	c.lock.Lock()
	receiversWaiting := c.awaitingCompletion[requestId]
	c.inProgress[requestId] = false
	delete(c.awaitingCompletion, requestId)
	c.lock.Unlock()

	for _, ch := range receiversWaiting {
		ch <- result[V]{val: val, err: err}
	}
	return val, err
}
