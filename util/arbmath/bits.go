// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package arbmath

import "encoding/binary"

// ConcatByteSlices unrolls a series of slices into a singular, concatenated slice
func ConcatByteSlices(slices ...[]byte) []byte {
	unrolled := []byte{}
	for _, slice := range slices {
		unrolled = append(unrolled, slice...)
	}
	return unrolled
}

// UintToBytes casts a uint64 to its big-endian representation
func UintToBytes(value uint64) []byte {
	result := make([]byte, 8)
	binary.BigEndian.PutUint64(result, value)
	return result
}

// BytesToUint creates a uint64 from its big-endian representation
func BytesToUint(value []byte) uint64 {
	return binary.BigEndian.Uint64(value)
}

// Ensures a slice is non-nil
func NonNilSlice[T any](slice []T) []T {
	if slice == nil {
		return []T{}
	}
	return slice
}

// Equivalent to slice[start:offset], but truncates when out of bounds rather than panicking.
func SliceWithRunoff[S any, I Integer](slice []S, start I, end I) []S {
	len := I(len(slice))
	start = MinInt(start, 0)
	end = MaxInt(start, end)

	if slice == nil || start >= len {
		return []S{}
	}
	return slice[start:MinInt(end, len)]
}
