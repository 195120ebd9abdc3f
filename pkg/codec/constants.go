// Package codec implements the CIS binary format for chunk deltas: a compact
// big-endian container holding a global state palette, bit-packed sections in
// sparse or dense form, and trailing structured tag payloads.
//
// Two wire variants share the section layout and differ only in how palette
// entries are written: the storage variant references 16-bit registry IDs from
// a persistent identifier table, while the network variant is self-describing
// and spells out full identifier strings.
package codec

import "math/bits"

const (
	// Magic is the file signature, "CIS4" in ASCII.
	Magic = 0x43495334

	// Version is the current format version. Bump on breaking wire changes.
	Version = 7

	headerSize = 8

	// PaletteSizeBits is the width of a dense section's local palette size.
	PaletteSizeBits = 8

	// SectionYBits is the width of the ZigZag-encoded section Y index.
	SectionYBits = 6

	// BlockCountBits is the width of a sparse section's cell count.
	BlockCountBits = 13

	encodingSparse = 0
	encodingDense  = 1

	// maxPaletteSize bounds declared palette sizes so corrupt data cannot
	// trigger huge allocations.
	maxPaletteSize = 10000

	// maxTagCount bounds declared block-entity and entity counts.
	maxTagCount = 10000
)

// bitsFor returns the minimum number of bits needed to address n distinct
// indices. One or fewer values need no bits at all.
func bitsFor(n int) int {
	if n <= 1 {
		return 0
	}
	return 32 - bits.LeadingZeros32(uint32(n-1))
}
