package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/liparakis/chunkis/pkg/delta"
)

// ErrFormat marks unrecoverable structural corruption: bad magic, wrong
// version, or framing that contradicts the buffer size. Decoders wrap it with
// detail; callers test with errors.Is.
var ErrFormat = errors.New("invalid cis data")

// decoderCore holds the logic shared by the storage and network decoders:
// everything except how global palette entries are read.
type decoderCore[B, S comparable, P, N any] struct {
	states BlockStateAdapter[B, S, P]
	tags   TagCodec[N]
	air    S
	log    *slog.Logger
}

type paletteReader[S comparable] func(ctx *DecodeContext[S], data []byte, offset int, palette *delta.Palette[S]) (int, error)

func (d *decoderCore[B, S, P, N]) decode(
	ctx *DecodeContext[S],
	data []byte,
	readPalette paletteReader[S],
) (*delta.ChunkDelta[S, N], error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrFormat, len(data), headerSize)
	}
	if err := validateHeader(data); err != nil {
		return nil, err
	}

	out := delta.NewChunkDelta[S, N]()

	offset, err := readPalette(ctx, data, headerSize, out.BlockPalette())
	if err != nil {
		return nil, err
	}
	offset, err = d.decodeSections(ctx, data, offset, out)
	if err != nil {
		return nil, err
	}
	d.decodeTrailingTags(data, offset, out)

	out.MarkSaved()
	return out, nil
}

func validateHeader(data []byte) error {
	if magic := binary.BigEndian.Uint32(data); magic != Magic {
		return fmt.Errorf("%w: magic 0x%08X, want 0x%08X", ErrFormat, magic, uint32(Magic))
	}
	if version := binary.BigEndian.Uint32(data[4:]); version != Version {
		return fmt.Errorf("%w: version %d, want %d", ErrFormat, version, Version)
	}
	return nil
}

func (d *decoderCore[B, S, P, N]) decodeSections(ctx *DecodeContext[S], data []byte, offset int, out *delta.ChunkDelta[S, N]) (int, error) {
	if offset+6 > len(data) {
		return 0, fmt.Errorf("%w: truncated section header", ErrFormat)
	}

	sectionCount := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	blobLen := int(int32(binary.BigEndian.Uint32(data[offset:])))
	offset += 4

	if blobLen < 0 || offset+blobLen > len(data) {
		return 0, fmt.Errorf("%w: section blob of %d bytes exceeds remaining %d", ErrFormat, blobLen, len(data)-offset)
	}

	ctx.sectionReader.SetData(data, offset, blobLen)
	for i := 0; i < sectionCount; i++ {
		d.decodeSection(ctx, out)
	}

	return offset + blobLen, nil
}

func (d *decoderCore[B, S, P, N]) decodeSection(ctx *DecodeContext[S], out *delta.ChunkDelta[S, N]) {
	r := &ctx.sectionReader
	sectionY := int(r.ReadZigZag(SectionYBits))
	mode := r.Read(1)

	globalBits := bitsFor(len(ctx.globalPalette))

	if mode == encodingSparse {
		d.decodeSparseSection(ctx, out, sectionY, globalBits)
	} else {
		d.decodeDenseSection(ctx, out, sectionY, globalBits)
	}
}

func (d *decoderCore[B, S, P, N]) decodeSparseSection(ctx *DecodeContext[S], out *delta.ChunkDelta[S, N], sectionY, globalBits int) {
	r := &ctx.sectionReader
	count := int(r.Read(BlockCountBits))

	for i := 0; i < count; i++ {
		packed := int(r.Read(12))
		globalIdx := int(r.Read(globalBits))

		x := packed & 0xF
		z := (packed >> 4) & 0xF
		y := (packed >> 8) & 0xF

		state := ctx.stateAt(globalIdx, d.air)
		if !d.states.IsAir(state) {
			out.AddBlockChangeQuiet(x, sectionY<<4+y, z, state, false)
		}
	}
}

func (d *decoderCore[B, S, P, N]) decodeDenseSection(ctx *DecodeContext[S], out *delta.ChunkDelta[S, N], sectionY, globalBits int) {
	r := &ctx.sectionReader
	localSize := int(r.Read(PaletteSizeBits))

	for i := 0; i < localSize; i++ {
		ctx.localPalette[i] = int(r.Read(globalBits))
	}

	bitsPerBlock := bitsFor(localSize)

	for y := 0; y < delta.SectionSize; y++ {
		for z := 0; z < delta.SectionSize; z++ {
			for x := 0; x < delta.SectionSize; x++ {
				localIdx := 0
				if bitsPerBlock > 0 {
					localIdx = int(r.Read(bitsPerBlock))
				}
				if localIdx >= localSize {
					ctx.SoftCorruptions++
					localIdx = 0
				}

				state := ctx.stateAt(ctx.localPalette[localIdx], d.air)
				if !d.states.IsAir(state) {
					out.AddBlockChangeQuiet(x, sectionY<<4+y, z, state, false)
				}
			}
		}
	}
}

// decodeTrailingTags reads the block-entity and entity payloads. The trailing
// sections tolerate truncation: anything unreadable is treated as absent, and
// already-decoded entries are kept.
func (d *decoderCore[B, S, P, N]) decodeTrailingTags(data []byte, offset int, out *delta.ChunkDelta[S, N]) {
	if offset >= len(data) {
		return
	}
	r := bytes.NewReader(data[offset:])

	beCount, err := readI32(r)
	if err != nil {
		return
	}
	if beCount < 0 || beCount > maxTagCount {
		d.log.Warn("implausible block entity count, dropping trailing tag data", "count", beCount)
		return
	}

	for i := int32(0); i < beCount; i++ {
		packed, err := readI32(r)
		if err != nil {
			d.log.Warn("truncated block entity data", "decoded", i, "expected", beCount)
			return
		}
		pos := uint64(uint32(packed))
		x, y, z := delta.UnpackX(pos), delta.UnpackY(pos), delta.UnpackZ(pos)

		tag, err := d.tags.Read(r)
		if err != nil {
			d.log.Warn("failed to decode block entity",
				"index", i, "count", beCount, "x", x, "y", y, "z", z, "error", err)
			return
		}
		out.SetBlockEntity(x, y, z, tag)
	}

	entityCount, err := readI32(r)
	if err != nil {
		// Older files end after the block entities.
		return
	}
	if entityCount <= 0 || entityCount > maxTagCount {
		return
	}

	entities := make([]N, 0, entityCount)
	for i := int32(0); i < entityCount; i++ {
		tag, err := d.tags.Read(r)
		if err != nil {
			d.log.Warn("truncated entity data", "decoded", i, "expected", entityCount, "error", err)
			return
		}
		entities = append(entities, tag)
	}
	out.SetEntities(entities, false)
}

func readI32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// Decoder deserializes the storage wire variant, resolving palette entries
// through a StateCodec backed by the persistent identifier registry.
type Decoder[B, S comparable, P, N any] struct {
	core    decoderCore[B, S, P, N]
	stateIO StateCodec[S]
}

// NewDecoder builds a storage decoder. logger may not be nil.
func NewDecoder[B, S comparable, P, N any](
	states BlockStateAdapter[B, S, P],
	stateIO StateCodec[S],
	tags TagCodec[N],
	air S,
	logger *slog.Logger,
) *Decoder[B, S, P, N] {
	return &Decoder[B, S, P, N]{
		core:    decoderCore[B, S, P, N]{states: states, tags: tags, air: air, log: logger},
		stateIO: stateIO,
	}
}

// Decode deserializes data into a fresh delta using ctx as scratch. A
// returned error always wraps ErrFormat or a palette resolution failure; no
// partially decoded delta is ever returned.
func (d *Decoder[B, S, P, N]) Decode(ctx *DecodeContext[S], data []byte) (*delta.ChunkDelta[S, N], error) {
	return d.core.decode(ctx, data, d.readGlobalPalette)
}

func (d *Decoder[B, S, P, N]) readGlobalPalette(ctx *DecodeContext[S], data []byte, offset int, palette *delta.Palette[S]) (int, error) {
	if offset+4 > len(data) {
		return 0, fmt.Errorf("%w: truncated palette size", ErrFormat)
	}
	size := int(int32(binary.BigEndian.Uint32(data[offset:])))
	offset += 4

	if size < 0 || size > maxPaletteSize {
		return 0, fmt.Errorf("%w: palette size %d", ErrFormat, size)
	}
	if offset+size*2+4 > len(data) {
		return 0, fmt.Errorf("%w: truncated palette entries", ErrFormat)
	}

	blockIDs := make([]int, size)
	for i := range blockIDs {
		blockIDs[i] = int(binary.BigEndian.Uint16(data[offset:]))
		offset += 2
	}

	propLen := int(int32(binary.BigEndian.Uint32(data[offset:])))
	offset += 4
	if propLen < 0 || offset+propLen > len(data) {
		return 0, fmt.Errorf("%w: truncated palette properties", ErrFormat)
	}

	ctx.propertyReader.SetData(data, offset, propLen)
	offset += propLen

	ctx.globalPalette = ctx.globalPalette[:0]
	for i, blockID := range blockIDs {
		state, err := d.stateIO.ReadStateProperties(&ctx.propertyReader, blockID)
		if err != nil {
			return 0, fmt.Errorf("palette entry %d: %w", i, err)
		}
		ctx.globalPalette = append(ctx.globalPalette, state)
		palette.GetOrAdd(state)
	}

	return offset, nil
}
