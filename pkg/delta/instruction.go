package delta

// Geometry of the voxel grid. Sections are 16x16x16 cubes stacked vertically;
// the world spans section Y indices [MinSectionY, MaxSectionY].
const (
	SectionSize = 16
	MinSectionY = -4
	MaxSectionY = 19
	MinY        = MinSectionY * SectionSize
	MaxY        = (MaxSectionY+1)*SectionSize - 1
)

// A block instruction is packed into a single uint64:
//
//	[paletteIndex: 32][y: 20][x: 4][z: 4][reserved: 4]
//
// The low 32 bits double as a position key (PackPos) for map lookups.
// Y is stored as a 20-bit two's-complement value to cover negative heights.

// PackPos packs a chunk-local position into the low 32 bits of a uint64,
// matching the position portion of a packed instruction.
func PackPos(x, y, z int) uint64 {
	return uint64(y&0xFFFFF)<<12 | uint64(x&0xF)<<8 | uint64(z&0xF)<<4
}

// PackInstruction packs a position and palette index into one uint64.
func PackInstruction(x, y, z, paletteIndex int) uint64 {
	return uint64(uint32(paletteIndex))<<32 | PackPos(x, y, z)
}

// UnpackX extracts the chunk-local X coordinate (0-15).
func UnpackX(packed uint64) int {
	return int((packed >> 8) & 0xF)
}

// UnpackY extracts the world Y coordinate, sign-extending the 20-bit field.
func UnpackY(packed uint64) int {
	y := int32((packed >> 12) & 0xFFFFF)
	if y&0x80000 != 0 {
		y |= -0x100000
	}
	return int(y)
}

// UnpackZ extracts the chunk-local Z coordinate (0-15).
func UnpackZ(packed uint64) int {
	return int((packed >> 4) & 0xF)
}

// UnpackPaletteIndex extracts the palette index from a packed instruction.
func UnpackPaletteIndex(packed uint64) int {
	return int(uint32(packed >> 32))
}
