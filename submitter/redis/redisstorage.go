// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package redis implements a redis backed submission queue, for submitters
// that fail over between hosts. Entries are HMAC signed so a compromised
// redis instance cannot slip a transaction into the queue.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/redis/go-redis/v9"

	"github.com/tesseralabs/arbiter/submitter/storage"
	"github.com/tesseralabs/arbiter/util/signature"
)

type Storage[Item any] struct {
	client redis.UniversalClient
	signer *signature.SimpleHmac
	key    string
}

func NewStorage[Item any](client redis.UniversalClient, keyPrefix string, signerConf *signature.SimpleHmacConfig) (*Storage[Item], error) {
	signer, err := signature.NewSimpleHmac(signerConf)
	if err != nil {
		return nil, err
	}
	return &Storage[Item]{client, signer, keyPrefix + "submitter.queue"}, nil
}

func (s *Storage[Item]) peelVerifySignature(data []byte) ([]byte, error) {
	if len(data) < 32 {
		return nil, errors.New("data is too short to contain message signature")
	}
	if err := s.signer.VerifySignature(data[:32], data[32:]); err != nil {
		return nil, err
	}
	return data[32:], nil
}

func (s *Storage[Item]) GetContents(ctx context.Context, startingIndex uint64, maxResults uint64) ([]*Item, error) {
	if maxResults == 0 {
		return nil, nil
	}
	query := redis.ZRangeArgs{
		Key:     s.key,
		ByScore: true,
		Start:   float64(startingIndex),
		Stop:    float64(startingIndex + maxResults - 1),
	}
	itemStrings, err := s.client.ZRangeArgs(ctx, query).Result()
	if err != nil {
		return nil, err
	}
	var items []*Item
	for _, itemString := range itemStrings {
		item, err := s.decodeItem([]byte(itemString))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Storage[Item]) GetLast(ctx context.Context) (*Item, error) {
	query := redis.ZRangeArgs{
		Key:   s.key,
		Start: 0,
		Stop:  0,
		Rev:   true,
	}
	itemStrings, err := s.client.ZRangeArgs(ctx, query).Result()
	if err != nil {
		return nil, err
	}
	if len(itemStrings) == 0 {
		return nil, nil
	}
	return s.decodeItem([]byte(itemStrings[0]))
}

func (s *Storage[Item]) decodeItem(data []byte) (*Item, error) {
	verified, err := s.peelVerifySignature(data)
	if err != nil {
		return nil, err
	}
	var item Item
	if err := rlp.DecodeBytes(verified, &item); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return &item, nil
}

func (s *Storage[Item]) Prune(ctx context.Context, keepStartingAt uint64) error {
	if keepStartingAt > 0 {
		return s.client.ZRemRangeByScore(ctx, s.key, "-inf", fmt.Sprintf("%v", keepStartingAt-1)).Err()
	}
	return nil
}

func (s *Storage[Item]) Put(ctx context.Context, index uint64, prev *Item, new *Item) error {
	if new == nil {
		return fmt.Errorf("tried to insert nil item at index %v", index)
	}
	action := func(tx *redis.Tx) error {
		query := redis.ZRangeArgs{
			Key:     s.key,
			ByScore: true,
			Start:   float64(index),
			Stop:    float64(index),
		}
		haveItems, err := tx.ZRangeArgs(ctx, query).Result()
		if err != nil {
			return err
		}
		if len(haveItems) == 0 {
			if prev != nil {
				return fmt.Errorf("%w: tried to replace item at index %v but no item exists there", storage.ErrStorageRace, index)
			}
		} else if len(haveItems) == 1 {
			if prev == nil {
				return fmt.Errorf("%w: tried to insert new item at index %v but an item exists there", storage.ErrStorageRace, index)
			}
			verifiedItem, err := s.peelVerifySignature([]byte(haveItems[0]))
			if err != nil {
				return fmt.Errorf("failed to validate item already in redis at index %v: %w", index, err)
			}
			prevItemEncoded, err := rlp.EncodeToBytes(prev)
			if err != nil {
				return fmt.Errorf("encoding previous item: %w", err)
			}
			if !bytes.Equal(verifiedItem, prevItemEncoded) {
				return fmt.Errorf("%w: replacing different item than expected at index %v", storage.ErrStorageRace, index)
			}
		} else {
			return fmt.Errorf("expected only one queue entry at index %v but got %v", index, len(haveItems))
		}
		newItemEncoded, err := rlp.EncodeToBytes(new)
		if err != nil {
			return fmt.Errorf("encoding new item: %w", err)
		}
		sig, err := s.signer.SignMessage(newItemEncoded)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, s.key, fmt.Sprintf("%v", index), fmt.Sprintf("%v", index))
			pipe.ZAdd(ctx, s.key, redis.Z{
				Score:  float64(index),
				Member: string(append(sig, newItemEncoded...)),
			})
			return nil
		})
		return err
	}
	// WATCH the queue key so a concurrent submitter's write aborts ours.
	return s.client.Watch(ctx, action, s.key)
}

func (s *Storage[Item]) Length(ctx context.Context) (int, error) {
	count, err := s.client.ZCount(ctx, s.key, "-inf", "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Storage[Item]) IsPersistent() bool {
	return true
}
