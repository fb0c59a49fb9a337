// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package oracle

import (
	"context"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tesseralabs/arbiter/protocol"
)

// Client is the portion of the L1 RPC surface the reader consumes.
// *ethclient.Client satisfies it.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// L1Reader is the read-only L1 surface outside the ledger's event feed:
// headers for proof requests and reorg probes, receipts for submission
// follow-up. Headers by hash are immutable and cached; lookups by number
// and receipts are not, since both can change under a reorg. All failures
// surface as protocol.TransientChainError.
type L1Reader struct {
	client  Client
	headers *lru.Cache[common.Hash, *types.Header]
}

func NewL1Reader(client Client, headerCacheSize int) (*L1Reader, error) {
	headers, err := lru.New[common.Hash, *types.Header](headerCacheSize)
	if err != nil {
		return nil, err
	}
	return &L1Reader{
		client:  client,
		headers: headers,
	}, nil
}

// HeadRef returns the current chain head as a BlockRef.
func (r *L1Reader) HeadRef(ctx context.Context) (protocol.BlockRef, error) {
	header, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return protocol.BlockRef{}, protocol.Transient("HeaderByNumber", err)
	}
	return protocol.BlockRef{Number: header.Number.Uint64(), Hash: header.Hash()}, nil
}

func (r *L1Reader) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	header, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, protocol.Transient("HeaderByNumber", err)
	}
	return header, nil
}

func (r *L1Reader) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	if header, ok := r.headers.Get(hash); ok {
		return header, nil
	}
	header, err := r.client.HeaderByHash(ctx, hash)
	if err != nil {
		return nil, protocol.Transient("HeaderByHash", err)
	}
	r.headers.Add(hash, header)
	return header, nil
}

func (r *L1Reader) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := r.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, protocol.Transient("TransactionReceipt", err)
	}
	return receipt, nil
}

func (r *L1Reader) Client() Client {
	return r.client
}
