// Package bitpack provides MSB-first bit-level reading and writing over byte
// buffers, plus ZigZag mapping for signed integers. Writers and readers are
// designed for reuse so hot encode/decode paths stay allocation-free.
package bitpack

// EncodeZigZag maps a signed integer to an unsigned one so small magnitudes
// stay small: 0,-1,1,-2,2 -> 0,1,2,3,4.
func EncodeZigZag(n int32) uint32 {
	return uint32((n << 1) ^ (n >> 31))
}

// DecodeZigZag inverts EncodeZigZag.
func DecodeZigZag(n uint32) int32 {
	return int32(n>>1) ^ -int32(n&1)
}

// Writer accumulates bits MSB-first into a growable byte buffer.
// Not safe for concurrent use. Reset allows reuse without reallocating.
type Writer struct {
	buf      []byte
	index    int
	bitIndex int
}

// NewWriter returns a Writer with the given initial capacity in bytes.
func NewWriter(initialCapacity int) *Writer {
	return &Writer{buf: make([]byte, initialCapacity)}
}

// Reset rewinds the writer for reuse, keeping the underlying buffer.
func (w *Writer) Reset() {
	w.index = 0
	w.bitIndex = 0
}

func (w *Writer) ensureCapacity(bytesNeeded int) {
	required := w.index + bytesNeeded
	if required >= len(w.buf) {
		grown := len(w.buf) * 2
		if grown < required+128 {
			grown = required + 128
		}
		next := make([]byte, grown)
		copy(next, w.buf)
		w.buf = next
	}
}

// Write packs the low `bits` bits of value into the stream, most significant
// bit first. bits must be in [0, 64]; 0 bits is a no-op.
func (w *Writer) Write(value uint64, bits int) {
	if bits == 0 {
		return
	}

	w.ensureCapacity((bits >> 3) + 2)

	if bits != 64 {
		value &= (1 << bits) - 1
	}

	for bits > 0 {
		space := 8 - w.bitIndex
		take := bits
		if take > space {
			take = space
		}
		chunk := (value >> (bits - take)) & ((1 << take) - 1)

		if w.bitIndex == 0 {
			w.buf[w.index] = byte(chunk << (space - take))
		} else {
			w.buf[w.index] |= byte(chunk << (space - take))
		}

		w.bitIndex += take
		bits -= take

		if w.bitIndex == 8 {
			w.index++
			w.bitIndex = 0
		}
	}
}

// WriteZigZag ZigZag-encodes value and writes it in the given bit width.
func (w *Writer) WriteZigZag(value int32, bits int) {
	w.Write(uint64(EncodeZigZag(value)), bits)
}

// WriteBool writes a single bit.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.Write(1, 1)
	} else {
		w.Write(0, 1)
	}
}

// Flush pads any partial byte with zero bits, advancing to a byte boundary.
func (w *Writer) Flush() {
	if w.bitIndex > 0 {
		w.index++
		w.bitIndex = 0
	}
}

// Bytes returns a copy of the written data sized exactly to what was written,
// including any partial trailing byte.
func (w *Writer) Bytes() []byte {
	length := w.index
	if w.bitIndex > 0 {
		length++
	}
	out := make([]byte, length)
	copy(out, w.buf[:length])
	return out
}

// Len reports the number of bytes the writer currently holds, counting a
// partial trailing byte.
func (w *Writer) Len() int {
	if w.bitIndex > 0 {
		return w.index + 1
	}
	return w.index
}

// Reader reads bits MSB-first from a byte slice. Reads past the end of the
// slice silently return zero bits; callers that need to detect truncation
// must bound their reads externally. Not safe for concurrent use.
type Reader struct {
	data      []byte
	byteIndex int
	bitIndex  int
	endIndex  int
}

// NewReader returns a Reader over the whole of data.
func NewReader(data []byte) *Reader {
	r := &Reader{}
	r.SetData(data, 0, len(data))
	return r
}

// SetData repositions the reader over a slice of data without copying.
func (r *Reader) SetData(data []byte, offset, length int) {
	r.data = data
	r.byteIndex = offset
	r.bitIndex = 0
	r.endIndex = offset + length
}

// Read returns the next `bits` bits as an unsigned value. Positions beyond
// the underlying slice read as zero.
func (r *Reader) Read(bits int) uint64 {
	if bits == 0 {
		return 0
	}

	var result uint64

	for bits > 0 {
		if r.byteIndex >= r.endIndex {
			return result << bits
		}

		b := uint64(r.data[r.byteIndex])
		remaining := 8 - r.bitIndex
		take := bits
		if take > remaining {
			take = remaining
		}
		chunk := (b >> (remaining - take)) & ((1 << take) - 1)

		result = (result << take) | chunk

		r.bitIndex += take
		bits -= take

		if r.bitIndex == 8 {
			r.byteIndex++
			r.bitIndex = 0
		}
	}

	return result
}

// ReadZigZag reads a ZigZag-encoded signed integer of the given bit width.
func (r *Reader) ReadZigZag(bits int) int32 {
	return DecodeZigZag(uint32(r.Read(bits)))
}

// ReadBool reads a single bit.
func (r *Reader) ReadBool() bool {
	return r.Read(1) != 0
}
