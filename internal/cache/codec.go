package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

// Stored values carry a one-byte envelope marker so reads never have
// to guess the payload encoding.
const (
	codecRaw  byte = 0x00
	codecGzip byte = 0x01
)

// maybeCompress wraps the value in an envelope, gzipping values at or
// above minBytes when that actually shrinks them.
func maybeCompress(value []byte, minBytes int) ([]byte, error) {
	if minBytes <= 0 || len(value) < minBytes {
		return rawEnvelope(value), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(codecGzip)
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, fmt.Errorf("compress value: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close compressor: %w", err)
	}
	if buf.Len() >= len(value)+1 {
		return rawEnvelope(value), nil
	}
	metrics.AddCompressionSavings(len(value) + 1 - buf.Len())
	return buf.Bytes(), nil
}

// maybeDecompress reverses maybeCompress based on the envelope marker.
func maybeDecompress(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("decode value: empty envelope")
	}
	payload := value[1:]
	switch value[0] {
	case codecRaw:
		return payload, nil
	case codecGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("open decompressor: %w", err)
		}
		defer func() { _ = r.Close() }()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decompress value: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode value: unknown envelope marker %#x", value[0])
	}
}

func rawEnvelope(value []byte) []byte {
	out := make([]byte, 0, len(value)+1)
	out = append(out, codecRaw)
	return append(out, value...)
}
