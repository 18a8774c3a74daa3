// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package wire

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

// maxBatchLine bounds a single decoded line inside a batch.
const maxBatchLine = 4096

// EncodeBatch gzips the samples, one encoded sample per line.
func EncodeBatch(c Codec, samples []sample.Sample) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)

	for _, s := range samples {
		line, err := c.Encode(s)
		if err != nil {
			zw.Close()
			return nil, err
		}
		if _, err := zw.Write(append(line, '\n')); err != nil {
			zw.Close()
			return nil, fmt.Errorf("gzip write: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// IsBatch reports whether payload starts with the gzip magic number.
func IsBatch(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b
}

// DecodeDatagram returns the samples carried by one datagram. It accepts a
// single text, JSON or per-channel record, or a gzip batch of them. A
// per-channel record decodes to a sample whose Channel is set and whose
// other channel reads as zero; merging is up to the caller.
func DecodeDatagram(payload []byte) ([]sample.Sample, error) {
	if !IsBatch(payload) {
		s, err := decodeOne(payload)
		if err != nil {
			return nil, err
		}
		return []sample.Sample{s}, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()

	return decodeLines(zr)
}

func decodeLines(r io.Reader) ([]sample.Sample, error) {
	var out []sample.Sample

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256), maxBatchLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s, err := decodeOne(line)
		if err != nil {
			return nil, fmt.Errorf("batch line %d: %w", len(out)+1, err)
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return out, nil
}

func decodeOne(b []byte) (sample.Sample, error) {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) > 0 && b[0] == '{':
		return DecodeJSON(b)
	case isChannelRecord(b):
		ch, v, err := DecodeChannel(string(b))
		if err != nil {
			return sample.Sample{}, err
		}
		return partial(ch, v), nil
	default:
		return DecodeText(string(b))
	}
}
