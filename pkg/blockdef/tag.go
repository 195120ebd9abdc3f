package blockdef

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxTagBytes bounds a single tag payload so corrupt length prefixes cannot
// trigger huge allocations.
const maxTagBytes = 1 << 20

// RawTagCodec stores structured payloads as opaque length-prefixed byte
// blobs. Hosts with a richer tag model supply their own codec; the tools and
// tests here only need the bytes to survive a round trip.
type RawTagCodec struct{}

// Write writes a 4-byte big-endian length followed by the payload.
func (RawTagCodec) Write(tag []byte, w io.Writer) error {
	if len(tag) > maxTagBytes {
		return fmt.Errorf("tag of %d bytes exceeds limit %d", len(tag), maxTagBytes)
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(tag)))
	if _, err := w.Write(b[:]); err != nil {
		return err
	}
	_, err := w.Write(tag)
	return err
}

// Read reads one length-prefixed payload.
func (RawTagCodec) Read(r io.Reader) ([]byte, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}
	n := int(int32(binary.BigEndian.Uint32(b[:])))
	if n < 0 || n > maxTagBytes {
		return nil, fmt.Errorf("tag length %d out of range", n)
	}
	tag := make([]byte, n)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, err
	}
	return tag, nil
}
