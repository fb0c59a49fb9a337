// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package proving is the boundary between the validator and whatever
// machinery actually produces proofs. A Backend accepts a witness request
// and hands back an opaque handle; the caller polls the handle until the
// proof succeeds or fails. The stub backend proves nothing and answers
// with a digest of the request, which is enough for every test and for
// devnets whose game contract accepts unverified resolutions. The redis
// backend fans requests out to a prover fleet over a redis stream.
package proving

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/pubsub"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/hashing"
	"github.com/tesseralabs/arbiter/util/redisutil"
)

// Kind selects what a proof must establish.
type Kind uint8

const (
	// ProveFault proves the claimed transition inconsistent with the agreed
	// starting state.
	ProveFault Kind = iota
	// ProveValidity proves the claimed transition correct. Only requested
	// under deadline pressure; normally the chain timeout resolves honest
	// claims on its own.
	ProveValidity
)

func (k Kind) String() string {
	switch k {
	case ProveFault:
		return "fault"
	case ProveValidity:
		return "validity"
	}
	return fmt.Sprintf("invalid kind %d", uint8(k))
}

// Request carries the witness the prover needs: the agreed starting state,
// the claim under dispute, and the L1 head the derivation is anchored to.
type Request struct {
	GameID               protocol.GameID `json:"gameId"`
	AgreedOutputRoot     common.Hash     `json:"agreedOutputRoot"`
	AgreedL2BlockNumber  uint64          `json:"agreedL2BlockNumber"`
	ClaimedOutputRoot    common.Hash     `json:"claimedOutputRoot"`
	ClaimedL2BlockNumber uint64          `json:"claimedL2BlockNumber"`
	L1Head               common.Hash     `json:"l1Head"`
	Kind                 Kind            `json:"kind"`
}

// ID is the deterministic identifier of a request, stable across processes.
// Validators that build an identical request coalesce on shared backends;
// a request anchored to a different L1 head is a different request.
func (r *Request) ID() string {
	digest := hashing.SoliditySHA3(
		arbmath.UintToBytes(uint64(r.GameID)),
		arbmath.UintToBytes(r.AgreedL2BlockNumber),
		arbmath.UintToBytes(r.ClaimedL2BlockNumber),
		[]byte{byte(r.Kind)},
		r.AgreedOutputRoot.Bytes(),
		r.ClaimedOutputRoot.Bytes(),
		r.L1Head.Bytes(),
	)
	return digest.Hex()
}

// ProofState is where a proof request stands with its backend.
type ProofState uint8

const (
	ProofPending ProofState = iota
	ProofSucceeded
	ProofFailed
)

func (s ProofState) String() string {
	switch s {
	case ProofPending:
		return "pending"
	case ProofSucceeded:
		return "succeeded"
	case ProofFailed:
		return "failed"
	}
	return fmt.Sprintf("invalid proof state %d", uint8(s))
}

// Status reports a request's progress. Artifact is only set when the state
// is ProofSucceeded; Reason only when it is ProofFailed.
type Status struct {
	State    ProofState
	Artifact []byte
	Reason   string
}

// Handle identifies an accepted request with the backend that accepted it.
type Handle string

// Backend produces proof artifacts asynchronously. RequestProof returns as
// soon as the request is accepted; the caller polls until the status is
// terminal. Requesting an already in-flight witness returns the existing
// handle rather than starting a second proof.
type Backend interface {
	RequestProof(ctx context.Context, req Request) (Handle, error)
	PollProof(ctx context.Context, handle Handle) (Status, error)
}

// Result is what provers report back through shared backends.
type Result struct {
	Artifact []byte `json:"artifact,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	StubBackendName  = "stub"
	RedisBackendName = "redis"
)

type Config struct {
	Backend     string                `koanf:"backend"`
	ArtifactDir string                `koanf:"artifact-dir"`
	Stub        StubConfig            `koanf:"stub"`
	RedisURL    string                `koanf:"redis-url"`
	RedisStream string                `koanf:"redis-stream"`
	Producer    pubsub.ProducerConfig `koanf:"producer"`
	S3Mirror    S3MirrorConfig        `koanf:"s3-mirror"`
}

var DefaultConfig = Config{
	Backend:     RedisBackendName,
	ArtifactDir: "proof-artifacts",
	Stub:        DefaultStubConfig,
	RedisStream: "arbiter:proofs",
	Producer:    pubsub.DefaultProducerConfig,
	S3Mirror:    DefaultS3MirrorConfig,
}

var TestConfig = Config{
	Backend:     StubBackendName,
	Stub:        TestStubConfig,
	RedisStream: "arbiter:proofs",
	Producer:    pubsub.TestProducerConfig,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".backend", DefaultConfig.Backend, "proof backend to use (stub, redis)")
	f.String(prefix+".artifact-dir", DefaultConfig.ArtifactDir, "directory to keep succeeded proof artifacts in (relative paths resolve against --persistent.chain)")
	StubConfigAddOptions(prefix+".stub", f)
	f.String(prefix+".redis-url", DefaultConfig.RedisURL, "redis url the proof request stream lives on")
	f.String(prefix+".redis-stream", DefaultConfig.RedisStream, "name of the proof request stream")
	pubsub.ProducerAddConfigAddOptions(prefix+".producer", f)
	S3MirrorConfigAddOptions(prefix+".s3-mirror", f)
}

func (c *Config) Validate() error {
	switch c.Backend {
	case StubBackendName:
	case RedisBackendName:
		if c.RedisURL == "" {
			return fmt.Errorf("backend %q requires --proving.redis-url", c.Backend)
		}
	default:
		return fmt.Errorf("unknown proof backend %q", c.Backend)
	}
	return c.S3Mirror.Validate()
}

// CreateBackend builds the configured backend. Redis backends are returned
// started; the caller owns StopAndWait.
func CreateBackend(ctx context.Context, config *Config) (Backend, error) {
	switch config.Backend {
	case StubBackendName:
		return NewStubBackend(config.Stub), nil
	case RedisBackendName:
		client, err := redisutil.RedisClientFromURL(config.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := pubsub.CreateStream(ctx, config.RedisStream, client); err != nil {
			return nil, err
		}
		backend, err := NewRedisBackend(client, config.RedisStream, &config.Producer)
		if err != nil {
			return nil, err
		}
		backend.Start(ctx)
		return backend, nil
	}
	return nil, fmt.Errorf("unknown proof backend %q", config.Backend)
}
