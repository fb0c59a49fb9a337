// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tesseralabs/arbiter/protocol"
)

type fakeL1Client struct {
	headers      map[uint64]*types.Header
	receipts     map[common.Hash]*types.Receipt
	head         uint64
	numberCalls  int
	hashCalls    int
	receiptCalls int
}

func newFakeL1Client(headerCount int) *fakeL1Client {
	c := &fakeL1Client{
		headers:  make(map[uint64]*types.Header),
		receipts: make(map[common.Hash]*types.Receipt),
	}
	for i := 0; i < headerCount; i++ {
		number := uint64(i)
		c.headers[number] = &types.Header{
			Number:     new(big.Int).SetUint64(number),
			Difficulty: common.Big0,
			Time:       number * 12,
		}
		c.head = number
	}
	return c
}

func (c *fakeL1Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.numberCalls++
	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	header, ok := c.headers[n]
	if !ok {
		return nil, errors.Errorf("no header at %d", n)
	}
	return header, nil
}

func (c *fakeL1Client) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	c.hashCalls++
	for _, header := range c.headers {
		if header.Hash() == hash {
			return header, nil
		}
	}
	return nil, errors.Errorf("no header with hash %v", hash)
}

func (c *fakeL1Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.receiptCalls++
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, errors.New("not found")
	}
	return receipt, nil
}

func TestL1ReaderHeaderCaching(t *testing.T) {
	ctx := context.Background()
	client := newFakeL1Client(5)
	reader, err := NewL1Reader(client, 16)
	require.NoError(t, err)

	wantHash := client.headers[3].Hash()
	for i := 0; i < 3; i++ {
		header, err := reader.HeaderByHash(ctx, wantHash)
		require.NoError(t, err)
		require.Equal(t, wantHash, header.Hash())
	}
	require.Equal(t, 1, client.hashCalls)

	// By-number lookups can reorg, so every call goes to the client.
	for i := 0; i < 2; i++ {
		header, err := reader.HeaderByNumber(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, uint64(3), header.Number.Uint64())
	}
	require.Equal(t, 2, client.numberCalls)
}

func TestL1ReaderHeadRef(t *testing.T) {
	ctx := context.Background()
	client := newFakeL1Client(7)
	reader, err := NewL1Reader(client, 16)
	require.NoError(t, err)

	head, err := reader.HeadRef(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(6), head.Number)
	require.Equal(t, client.headers[6].Hash(), head.Hash)
}

func TestL1ReaderClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	client := newFakeL1Client(1)
	reader, err := NewL1Reader(client, 16)
	require.NoError(t, err)

	_, err = reader.HeaderByNumber(ctx, 99)
	require.Error(t, err)
	require.True(t, protocol.IsTransient(err))

	_, err = reader.HeaderByHash(ctx, common.Hash{0xde, 0xad})
	require.Error(t, err)
	require.True(t, protocol.IsTransient(err))

	_, err = reader.TransactionReceipt(ctx, common.Hash{0xbe, 0xef})
	require.Error(t, err)
	require.True(t, protocol.IsTransient(err))
}

func TestL1ReaderReceipts(t *testing.T) {
	ctx := context.Background()
	client := newFakeL1Client(1)
	txHash := common.Hash{0x77}
	client.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(42),
	}
	reader, err := NewL1Reader(client, 16)
	require.NoError(t, err)

	receipt, err := reader.TransactionReceipt(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, int64(42), receipt.BlockNumber.Int64())
}
