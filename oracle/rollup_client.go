// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package oracle

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/node"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/util/rpcclient"
	"github.com/tesseralabs/arbiter/util/stopwaiter"
)

// RollupClient implements OutputProvider over a rollup node's RPC.
// Timeouts, retries and argument logging come from the underlying rpcclient
// config; failures surface as protocol.TransientChainError.
type RollupClient struct {
	stopwaiter.StopWaiter
	client *rpcclient.RpcClient
}

func NewRollupClient(config rpcclient.ClientConfigFetcher, stack *node.Node) *RollupClient {
	return &RollupClient{
		client: rpcclient.NewRpcClient(config, stack),
	}
}

func (c *RollupClient) Start(ctx_in context.Context) error {
	c.StopWaiter.Start(ctx_in, c)
	return c.client.Start(c.GetContext())
}

func (c *RollupClient) StopAndWait() {
	c.StopWaiter.StopAndWait()
	c.client.Close()
}

func (c *RollupClient) OutputAtBlock(ctx context.Context, l2Block uint64) (common.Hash, error) {
	var result outputResponse
	err := c.client.CallContext(ctx, &result, "rollup_outputAtBlock", hexutil.Uint64(l2Block))
	if err != nil {
		return common.Hash{}, protocol.Transient("rollup_outputAtBlock", err)
	}
	if result.OutputRoot == (common.Hash{}) {
		// A node still deriving toward this block answers with zeroes
		// instead of an error. Treat it as not-yet-available.
		return common.Hash{}, protocol.Transient("rollup_outputAtBlock", errors.Errorf("node returned empty output root for block %d", l2Block))
	}
	return result.OutputRoot, nil
}

func (c *RollupClient) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	var result SyncStatus
	err := c.client.CallContext(ctx, &result, "rollup_syncStatus")
	if err != nil {
		return nil, protocol.Transient("rollup_syncStatus", err)
	}
	return &result, nil
}
