// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package oracle answers the one question both engines keep asking: what is
// the correct output root for a given L2 block. The answer comes from a
// rollup node over RPC and is cached aggressively, since a derivation query
// is expensive on the node side and every proof worker wants the same few
// roots. The package also carries a thin L1 read surface for the pieces of
// chain state the engines need outside the ledger's event feed.
package oracle

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// OutputProvider derives output roots from a rollup node.
type OutputProvider interface {
	// OutputAtBlock returns the output root the rollup node derives for the
	// given L2 block.
	OutputAtBlock(ctx context.Context, l2Block uint64) (common.Hash, error)
	// SyncStatus reports how far the node's derivation has progressed.
	SyncStatus(ctx context.Context) (*SyncStatus, error)
}

// BlockID names a block in a sync status report. Wire encoding follows the
// rollup RPC: refs carry more fields, the rest are ignored here.
type BlockID struct {
	Hash   common.Hash `json:"hash"`
	Number uint64      `json:"number"`
}

// SyncStatus is the rollup node's snapshot of its derivation progress.
// Values may be zero if the node has not initialized that part of its view.
type SyncStatus struct {
	// CurrentL1 is the L1 block derivation last idled at.
	CurrentL1   BlockID `json:"current_l1"`
	HeadL1      BlockID `json:"head_l1"`
	SafeL1      BlockID `json:"safe_l1"`
	FinalizedL1 BlockID `json:"finalized_l1"`
	// UnsafeL2 is the tip of the L2 chain, possibly not yet submitted to L1.
	UnsafeL2 BlockID `json:"unsafe_l2"`
	// SafeL2 is derived from L1 data but may still reorg with L1.
	SafeL2      BlockID `json:"safe_l2"`
	FinalizedL2 BlockID `json:"finalized_l2"`
}

// outputResponse is the rollup_outputAtBlock wire format.
type outputResponse struct {
	Version    common.Hash `json:"version"`
	OutputRoot common.Hash `json:"outputRoot"`
	BlockRef   BlockID     `json:"blockRef"`
}
