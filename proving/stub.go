// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package proving

import (
	"context"
	"sync"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/util"
	"github.com/tesseralabs/arbiter/util/hashing"
)

type StubConfig struct {
	// Latency is how long a requested proof stays pending.
	Latency time.Duration `koanf:"latency"`
}

var DefaultStubConfig = StubConfig{
	Latency: time.Second * 10,
}

var TestStubConfig = StubConfig{
	Latency: 0,
}

func StubConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Duration(prefix+".latency", DefaultStubConfig.Latency, "simulated proving time of the stub backend")
}

// stubArtifact is the deterministic placeholder proof for a request: the
// request digest, domain-separated from the request ID itself.
func stubArtifact(req *Request) []byte {
	return hashing.SoliditySHA3([]byte("stub-proof"), []byte(req.ID())).Bytes()
}

// StubBackend simulates proving locally. Every request succeeds after the
// configured latency with a deterministic digest artifact, unless a script
// installed by FailNext decides otherwise. Useful for tests and for devnets
// whose game contract does not verify resolutions.
type StubBackend struct {
	config StubConfig
	clock  util.TimeReference

	mutex    sync.Mutex
	requests map[Handle]*stubRequest
	failures []string
}

type stubRequest struct {
	req     Request
	readyAt time.Time
	reason  string
}

func NewStubBackend(config StubConfig) *StubBackend {
	return &StubBackend{
		config:   config,
		clock:    util.NewRealTimeReference(),
		requests: make(map[Handle]*stubRequest),
	}
}

// SetTimeReference swaps the clock latency is measured against. Tests use an
// artificial one to step pending requests to readiness.
func (b *StubBackend) SetTimeReference(clock util.TimeReference) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.clock = clock
}

// FailNext scripts the next n accepted requests to fail with the given
// reason. Requests already accepted are unaffected.
func (b *StubBackend) FailNext(n int, reason string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for i := 0; i < n; i++ {
		b.failures = append(b.failures, reason)
	}
}

func (b *StubBackend) RequestProof(ctx context.Context, req Request) (Handle, error) {
	handle := Handle(req.ID())
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.requests[handle]; ok {
		return handle, nil
	}
	pending := &stubRequest{
		req:     req,
		readyAt: b.clock.Get().Add(b.config.Latency),
	}
	if len(b.failures) > 0 {
		pending.reason = b.failures[0]
		b.failures = b.failures[1:]
	}
	b.requests[handle] = pending
	return handle, nil
}

func (b *StubBackend) PollProof(ctx context.Context, handle Handle) (Status, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	pending, ok := b.requests[handle]
	if !ok {
		return Status{}, &protocol.ProofBackendError{Handle: string(handle), Reason: "unknown proof handle"}
	}
	if b.clock.Get().Before(pending.readyAt) {
		return Status{State: ProofPending}, nil
	}
	delete(b.requests, handle)
	if pending.reason != "" {
		return Status{State: ProofFailed, Reason: pending.reason}, nil
	}
	return Status{State: ProofSucceeded, Artifact: stubArtifact(&pending.req)}, nil
}
