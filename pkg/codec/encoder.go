package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/liparakis/chunkis/pkg/delta"
)

// encoderCore holds the logic shared by the storage and network encoders:
// everything except how global palette entries are written.
type encoderCore[B, S comparable, P, N any] struct {
	states BlockStateAdapter[B, S, P]
	tags   TagCodec[N]
	air    S
}

type paletteWriter[S comparable] func(buf *bytes.Buffer, ctx *EncodeContext[S], used []S) error

func (e *encoderCore[B, S, P, N]) encode(
	ctx *EncodeContext[S],
	d *delta.ChunkDelta[S, N],
	writePalette paletteWriter[S],
) ([]byte, error) {
	ctx.reset()

	chunk := delta.ChunkFromDelta(d)
	used := e.collectUsedStates(chunk)

	buf := &ctx.main
	writeHeader(buf)
	if err := writePalette(buf, ctx, used); err != nil {
		return nil, err
	}
	e.encodeSections(buf, ctx, chunk)
	if err := e.writeBlockEntities(buf, d); err != nil {
		return nil, err
	}
	if err := e.writeEntities(buf, d); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// collectUsedStates gathers the distinct states the chunk references, air
// first so index 0 always resolves to the background state.
func (e *encoderCore[B, S, P, N]) collectUsedStates(chunk *delta.Chunk[S]) []S {
	used := make([]S, 0, 64)
	seen := make(map[S]struct{}, 64)

	used = append(used, e.air)
	seen[e.air] = struct{}{}

	for _, y := range chunk.SortedSectionYs() {
		chunk.Section(y).ForEach(func(_ uint16, state S) {
			if e.states.IsAir(state) {
				return
			}
			if _, ok := seen[state]; ok {
				return
			}
			seen[state] = struct{}{}
			used = append(used, state)
		})
	}
	return used
}

func writeHeader(buf *bytes.Buffer) {
	putU32(buf, Magic)
	putU32(buf, Version)
}

func (e *encoderCore[B, S, P, N]) encodeSections(buf *bytes.Buffer, ctx *EncodeContext[S], chunk *delta.Chunk[S]) {
	ys := chunk.SortedSectionYs()
	putU16(buf, uint16(len(ys)))

	ctx.bits.Reset()
	for _, y := range ys {
		e.encodeSection(ctx, y, chunk.Section(y))
	}
	ctx.bits.Flush()

	blob := ctx.bits.Bytes()
	putU32(buf, uint32(len(blob)))
	buf.Write(blob)
}

func (e *encoderCore[B, S, P, N]) encodeSection(ctx *EncodeContext[S], sectionY int, sec *delta.Section[S]) {
	ctx.bits.WriteZigZag(int32(sectionY), SectionYBits)

	switch sec.Mode() {
	case delta.ModeDense:
		e.encodeDenseSection(ctx, sec)
	case delta.ModeSparse:
		e.encodeSparseSection(ctx, sec)
	default:
		// An empty section is a sparse section with zero cells.
		ctx.bits.Write(encodingSparse, 1)
		ctx.bits.Write(0, BlockCountBits)
	}
}

func (e *encoderCore[B, S, P, N]) encodeSparseSection(ctx *EncodeContext[S], sec *delta.Section[S]) {
	ctx.bits.Write(encodingSparse, 1)
	ctx.bits.Write(uint64(sec.Count()), BlockCountBits)

	if sec.Count() == 0 {
		return
	}

	globalBits := bitsFor(len(ctx.globalID))
	sec.ForEach(func(key uint16, state S) {
		ctx.bits.Write(uint64(key), 12)

		// States missing from the palette collapse to index 0 (air);
		// lossy but never desyncs the stream.
		idx := ctx.globalID[state]
		ctx.bits.Write(uint64(idx), globalBits)
	})
}

func (e *encoderCore[B, S, P, N]) encodeDenseSection(ctx *EncodeContext[S], sec *delta.Section[S]) {
	ctx.bits.Write(encodingDense, 1)
	ctx.resetLocalPalette()

	for i := 0; i < delta.SectionVolume; i++ {
		state, ok := sec.CellAt(i)
		if !ok || e.states.IsAir(state) {
			continue
		}
		if _, seen := ctx.localIndex[state]; seen {
			continue
		}
		globalIdx, mapped := ctx.globalID[state]
		if !mapped {
			continue
		}
		ctx.localIndex[state] = len(ctx.localPalette)
		ctx.localPalette = append(ctx.localPalette, globalIdx)
	}

	// Air is always present so out-of-range indices decode safely.
	localAir, ok := ctx.localIndex[e.air]
	if !ok {
		localAir = len(ctx.localPalette)
		ctx.localPalette = append(ctx.localPalette, ctx.globalID[e.air])
		ctx.localIndex[e.air] = localAir
	}

	localSize := len(ctx.localPalette)
	ctx.bits.Write(uint64(localSize), PaletteSizeBits)

	globalBits := bitsFor(len(ctx.globalID))
	for _, globalIdx := range ctx.localPalette {
		ctx.bits.Write(uint64(globalIdx), globalBits)
	}

	bitsPerBlock := bitsFor(localSize)
	if bitsPerBlock == 0 {
		return
	}
	for i := 0; i < delta.SectionVolume; i++ {
		localIdx := localAir
		if state, present := sec.CellAt(i); present && !e.states.IsAir(state) {
			if li, found := ctx.localIndex[state]; found {
				localIdx = li
			}
		}
		ctx.bits.Write(uint64(localIdx), bitsPerBlock)
	}
}

func (e *encoderCore[B, S, P, N]) writeBlockEntities(buf *bytes.Buffer, d *delta.ChunkDelta[S, N]) error {
	putU32(buf, uint32(d.BlockEntityCount()))

	var err error
	d.ForEachBlockEntity(func(x, y, z int, tag N) {
		if err != nil {
			return
		}
		putU32(buf, uint32(delta.PackPos(x, y, z)))
		if werr := e.tags.Write(tag, buf); werr != nil {
			err = fmt.Errorf("encode block entity at %d/%d/%d: %w", x, y, z, werr)
		}
	})
	return err
}

func (e *encoderCore[B, S, P, N]) writeEntities(buf *bytes.Buffer, d *delta.ChunkDelta[S, N]) error {
	entities := d.Entities()
	putU32(buf, uint32(len(entities)))

	for i, tag := range entities {
		if err := e.tags.Write(tag, buf); err != nil {
			return fmt.Errorf("encode entity %d: %w", i, err)
		}
	}
	return nil
}

// Encoder serializes chunk deltas in the storage wire variant, where palette
// entries carry 16-bit registry IDs resolved through a StateCodec.
type Encoder[B, S comparable, P, N any] struct {
	core    encoderCore[B, S, P, N]
	stateIO StateCodec[S]
}

// NewEncoder builds a storage encoder. air is the background state written as
// palette index 0.
func NewEncoder[B, S comparable, P, N any](
	states BlockStateAdapter[B, S, P],
	stateIO StateCodec[S],
	tags TagCodec[N],
	air S,
) *Encoder[B, S, P, N] {
	return &Encoder[B, S, P, N]{
		core:    encoderCore[B, S, P, N]{states: states, tags: tags, air: air},
		stateIO: stateIO,
	}
}

// Encode serializes the delta into a fresh byte slice using ctx as scratch.
func (e *Encoder[B, S, P, N]) Encode(ctx *EncodeContext[S], d *delta.ChunkDelta[S, N]) ([]byte, error) {
	return e.core.encode(ctx, d, e.writeGlobalPalette)
}

func (e *Encoder[B, S, P, N]) writeGlobalPalette(buf *bytes.Buffer, ctx *EncodeContext[S], used []S) error {
	putU32(buf, uint32(len(used)))
	ctx.bits.Reset()

	for i, state := range used {
		putU16(buf, uint16(e.stateIO.BlockID(state)))
		e.stateIO.WriteStateProperties(ctx.bits, state)
		ctx.globalID[state] = i
	}

	blob := ctx.bits.Bytes()
	putU32(buf, uint32(len(blob)))
	buf.Write(blob)
	return nil
}

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
