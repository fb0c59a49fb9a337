// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

// Package leveldb implements a leveldb backed submission queue.
package leveldb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/tesseralabs/arbiter/submitter/storage"
)

type Storage[Item any] struct {
	// Guards iterator and write batch pairs. A single submitter owns the
	// queue, but Put and Prune interleave with the await path's reads.
	lock sync.Mutex
	db   ethdb.Database
}

// Bookkeeping keys sort lexicographically below the smallest index key
// ("0" repeated), so Prune can never delete them by accident.
var (
	lastItemKey  = []byte(".last_item_key")
	lastIndexKey = []byte(".last_index_key")
	countKey     = []byte(".count_key")
)

func New[Item any](db ethdb.Database) *Storage[Item] {
	return &Storage[Item]{db: db}
}

func (s *Storage[Item]) decodeItem(data []byte) (*Item, error) {
	var item Item
	if err := rlp.DecodeBytes(data, &item); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return &item, nil
}

func idxToKey(idx uint64) []byte {
	return []byte(fmt.Sprintf("%019d", idx))
}

func (s *Storage[Item]) GetContents(_ context.Context, startingIndex uint64, maxResults uint64) ([]*Item, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var res []*Item
	it := s.db.NewIterator([]byte(""), idxToKey(startingIndex))
	defer it.Release()
	for i := 0; i < int(maxResults); i++ {
		if !it.Next() {
			break
		}
		item, err := s.decodeItem(it.Value())
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, nil
}

func (s *Storage[Item]) GetLast(ctx context.Context) (*Item, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	val, err := s.db.Get(lastItemKey)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.decodeItem(val)
}

func (s *Storage[Item]) Prune(ctx context.Context, keepStartingAt uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	cnt, err := s.length(ctx)
	if err != nil {
		return err
	}
	end := idxToKey(keepStartingAt)
	it := s.db.NewIterator([]byte(""), idxToKey(0))
	defer it.Release()
	b := s.db.NewBatch()
	for it.Next() {
		if bytes.Compare(it.Key(), end) >= 0 {
			break
		}
		if err := b.Delete(it.Key()); err != nil {
			return fmt.Errorf("deleting key: %w", err)
		}
		cnt--
	}
	if cnt <= 0 {
		cnt = 0
		if err := b.Delete(lastItemKey); err != nil {
			return fmt.Errorf("deleting last item key: %w", err)
		}
		if err := b.Delete(lastIndexKey); err != nil {
			return fmt.Errorf("deleting last index key: %w", err)
		}
	}
	if err := b.Put(countKey, []byte(strconv.Itoa(cnt))); err != nil {
		return fmt.Errorf("updating length counter: %w", err)
	}
	return b.Write()
}

// valueAt returns the value at key, or the encoding of a nil item when the
// key doesn't exist.
func (s *Storage[Item]) valueAt(key []byte) ([]byte, error) {
	val, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return rlp.EncodeToBytes((*Item)(nil))
		}
		return nil, err
	}
	return val, nil
}

func (s *Storage[Item]) Put(ctx context.Context, index uint64, prev *Item, new *Item) error {
	if new == nil {
		return fmt.Errorf("tried to insert nil item at index %v", index)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	key := idxToKey(index)
	stored, err := s.valueAt(key)
	if err != nil {
		return err
	}
	prevEnc, err := rlp.EncodeToBytes(prev)
	if err != nil {
		return fmt.Errorf("encoding previous item: %w", err)
	}
	if !bytes.Equal(stored, prevEnc) {
		return fmt.Errorf("%w: replacing different item than expected at index %v", storage.ErrStorageRace, index)
	}
	newEnc, err := rlp.EncodeToBytes(new)
	if err != nil {
		return fmt.Errorf("encoding new item: %w", err)
	}
	cnt, err := s.length(ctx)
	if err != nil {
		return err
	}
	if prev == nil {
		cnt++
	}
	b := s.db.NewBatch()
	if err := b.Put(key, newEnc); err != nil {
		return fmt.Errorf("updating value at %v: %w", key, err)
	}
	// Replacing an earlier nonce must not clobber the last-item bookkeeping,
	// so the keys only move when this index is at or past the stored one.
	lastIdx, err := s.db.Get(lastIndexKey)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}
	if err != nil || bytes.Compare(key, lastIdx) >= 0 {
		if err := b.Put(lastItemKey, newEnc); err != nil {
			return fmt.Errorf("updating last item: %w", err)
		}
		if err := b.Put(lastIndexKey, key); err != nil {
			return fmt.Errorf("updating last index: %w", err)
		}
	}
	if err := b.Put(countKey, []byte(strconv.Itoa(cnt))); err != nil {
		return fmt.Errorf("updating length counter: %w", err)
	}
	return b.Write()
}

func (s *Storage[Item]) Length(ctx context.Context) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.length(ctx)
}

// the lock must be held by the caller
func (s *Storage[Item]) length(context.Context) (int, error) {
	val, err := s.db.Get(countKey)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.Atoi(string(val))
}

func (s *Storage[Item]) IsPersistent() bool {
	return true
}
