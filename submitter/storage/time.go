// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package storage

import (
	"io"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// time.Time doesn't encode as anything in RLP. RlpTime fixes that by
// encoding the seconds and nanoseconds as a two-element list.
type RlpTime time.Time

type rlpTimeEncoding struct {
	Seconds uint64
	Nanos   uint64
}

func (b *RlpTime) DecodeRLP(s *rlp.Stream) error {
	kind, size, err := s.Kind()
	if err != nil {
		return err
	}
	if kind == rlp.List && size == 0 {
		// An empty list decodes as the zero time.
		return s.Decode(&time.Time{})
	}
	var enc rlpTimeEncoding
	err = s.Decode(&enc)
	if err != nil {
		return err
	}
	*b = RlpTime(time.Unix(int64(enc.Seconds), int64(enc.Nanos)))
	return nil
}

func (b RlpTime) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, rlpTimeEncoding{
		Seconds: uint64(time.Time(b).Unix()),
		Nanos:   uint64(time.Time(b).Nanosecond()),
	})
}

func (b RlpTime) String() string {
	return time.Time(b).String()
}
