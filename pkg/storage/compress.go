package storage

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// Region payloads favor write latency over ratio; the bit-packed sections are
// already dense, so higher levels buy little.
const compressionLevel = zlib.BestSpeed

var zlibWriters = sync.Pool{
	New: func() any {
		w, err := zlib.NewWriterLevel(io.Discard, compressionLevel)
		if err != nil {
			panic(err)
		}
		return w
	},
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	zw := zlibWriters.Get().(*zlib.Writer)
	defer zlibWriters.Put(zw)

	zw.Reset(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress chunk payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish chunk payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open compressed chunk payload: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk payload: %w", err)
	}
	return out, nil
}
