// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/submitter/storage"
)

// ErrConfirmationTimeout means the transaction did not reach the configured
// confirmation depth in time. The transaction (or a fee-bumped replacement)
// may still land afterwards: callers must re-derive current chain state
// before acting again rather than assume the submission is gone.
var ErrConfirmationTimeout = errors.New("timed out awaiting transaction confirmation")

// Request describes one transaction to submit.
type Request[Meta any] struct {
	Meta     Meta
	To       common.Address
	Calldata []byte
	GasLimit uint64
	Value    *big.Int
}

type SubmissionResult struct {
	Tx      *types.Transaction
	Receipt *types.Receipt
}

// SubmitAndAwait posts the request and blocks until exactly one of three
// outcomes: the transaction (or a replacement at the same nonce) is
// confirmed at the configured depth, it landed but reverted, or the
// confirmation timeout elapsed.
func (s *Submitter[Meta]) SubmitAndAwait(ctx context.Context, req Request[Meta]) (*SubmissionResult, error) {
	tx, err := s.Post(ctx, req.Meta, req.To, req.Calldata, req.GasLimit, req.Value)
	if err != nil {
		return nil, err
	}
	return s.awaitConfirmation(ctx, tx)
}

func (s *Submitter[Meta]) awaitConfirmation(ctx context.Context, tx *types.Transaction) (*SubmissionResult, error) {
	nonce := tx.Nonce()
	// The queue may replace the transaction with a higher-fee sibling at
	// the same nonce; every hash this nonce has carried is a candidate.
	candidates := map[common.Hash]*types.Transaction{
		tx.Hash(): tx,
	}
	timeout := time.NewTimer(s.config.ConfirmationTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		if queued, err := s.queuedAt(ctx, nonce); err == nil && queued != nil && queued.FullTx != nil {
			candidates[queued.FullTx.Hash()] = queued.FullTx
		}
		for hash, candidate := range candidates {
			receipt, err := s.client.TransactionReceipt(ctx, hash)
			if err != nil || receipt == nil {
				continue
			}
			confirmed, err := s.isConfirmed(ctx, receipt)
			if err != nil || !confirmed {
				continue
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				txRejectedCounter.Inc(1)
				return nil, &protocol.SubmissionRejectedError{TxHash: hash, Reason: "execution reverted"}
			}
			return &SubmissionResult{Tx: candidate, Receipt: receipt}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			txTimeoutCounter.Inc(1)
			return nil, fmt.Errorf("%w: nonce %d, last hash %v", ErrConfirmationTimeout, nonce, tx.Hash())
		case <-ticker.C:
		}
	}
}

func (s *Submitter[Meta]) queuedAt(ctx context.Context, nonce uint64) (*storage.QueuedTransaction[Meta], error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	items, err := s.queue.GetContents(ctx, nonce, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	// After a prune the first stored item may sit at a later nonce.
	if items[0].Data.Nonce != nonce {
		return nil, nil
	}
	return items[0], nil
}

func (s *Submitter[Meta]) isConfirmed(ctx context.Context, receipt *types.Receipt) (bool, error) {
	confirmations := s.config.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, err
	}
	depthTarget := new(big.Int).Add(receipt.BlockNumber, new(big.Int).SetUint64(confirmations-1))
	return header.Number.Cmp(depthTarget) >= 0, nil
}
