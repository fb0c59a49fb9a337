// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package gzip

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

func CompressGzip(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	gzipWriter := gzip.NewWriter(&buffer)
	if _, err := gzipWriter.Write(data); err != nil {
		return nil, fmt.Errorf("error writing data to gzip writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer: %w", err)
	}
	return buffer.Bytes(), nil
}

func DecompressGzip(data []byte) ([]byte, error) {
	gzipReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error creating gzip reader: %w", err)
	}
	defer gzipReader.Close()
	decompressData, err := io.ReadAll(gzipReader)
	if err != nil {
		return nil, fmt.Errorf("error reading decompressed data: %w", err)
	}
	return decompressData, nil
}
