package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/liparakis/chunkis/pkg/delta"
)

// NetworkEncoder serializes chunk deltas in the self-describing network
// variant: palette entries carry full identifier strings instead of registry
// IDs, so the receiver needs no shared identifier table.
type NetworkEncoder[B, S comparable, P, N any] struct {
	core     encoderCore[B, S, P, N]
	registry BlockRegistryAdapter[B]
	packer   *PropertyPacker[B, S, P]
}

// NewNetworkEncoder builds a network encoder. The background state is derived
// from the registry's air block.
func NewNetworkEncoder[B, S comparable, P, N any](
	states BlockStateAdapter[B, S, P],
	registry BlockRegistryAdapter[B],
	packer *PropertyPacker[B, S, P],
	tags TagCodec[N],
) *NetworkEncoder[B, S, P, N] {
	air := states.DefaultState(registry.Air())
	return &NetworkEncoder[B, S, P, N]{
		core:     encoderCore[B, S, P, N]{states: states, tags: tags, air: air},
		registry: registry,
		packer:   packer,
	}
}

// Encode serializes the delta into a fresh byte slice using ctx as scratch.
func (e *NetworkEncoder[B, S, P, N]) Encode(ctx *EncodeContext[S], d *delta.ChunkDelta[S, N]) ([]byte, error) {
	return e.core.encode(ctx, d, e.writeGlobalPalette)
}

func (e *NetworkEncoder[B, S, P, N]) writeGlobalPalette(buf *bytes.Buffer, ctx *EncodeContext[S], used []S) error {
	putU32(buf, uint32(len(used)))
	ctx.bits.Reset()

	for i, state := range used {
		block := e.core.states.Block(state)
		id := e.registry.ID(block)
		if len(id) > 0xFFFF {
			return fmt.Errorf("block identifier %q too long", id)
		}
		putU16(buf, uint16(len(id)))
		buf.WriteString(id)

		e.packer.WriteProperties(ctx.bits, state, e.packer.Metas(block))
		ctx.globalID[state] = i
	}

	blob := ctx.bits.Bytes()
	putU32(buf, uint32(len(blob)))
	buf.Write(blob)
	return nil
}

// NetworkDecoder deserializes the network wire variant. Identifiers that the
// local registry cannot resolve fall back to the air block, dropping those
// cells rather than failing the decode.
type NetworkDecoder[B, S comparable, P, N any] struct {
	core     decoderCore[B, S, P, N]
	registry BlockRegistryAdapter[B]
	packer   *PropertyPacker[B, S, P]
}

// NewNetworkDecoder builds a network decoder. logger may not be nil.
func NewNetworkDecoder[B, S comparable, P, N any](
	states BlockStateAdapter[B, S, P],
	registry BlockRegistryAdapter[B],
	packer *PropertyPacker[B, S, P],
	tags TagCodec[N],
	logger *slog.Logger,
) *NetworkDecoder[B, S, P, N] {
	air := states.DefaultState(registry.Air())
	return &NetworkDecoder[B, S, P, N]{
		core:     decoderCore[B, S, P, N]{states: states, tags: tags, air: air, log: logger},
		registry: registry,
		packer:   packer,
	}
}

// Decode deserializes data into a fresh delta using ctx as scratch.
func (d *NetworkDecoder[B, S, P, N]) Decode(ctx *DecodeContext[S], data []byte) (*delta.ChunkDelta[S, N], error) {
	return d.core.decode(ctx, data, d.readGlobalPalette)
}

func (d *NetworkDecoder[B, S, P, N]) readGlobalPalette(ctx *DecodeContext[S], data []byte, offset int, palette *delta.Palette[S]) (int, error) {
	if offset+4 > len(data) {
		return 0, fmt.Errorf("%w: truncated palette size", ErrFormat)
	}
	size := int(int32(binary.BigEndian.Uint32(data[offset:])))
	offset += 4

	if size < 0 || size > maxPaletteSize {
		return 0, fmt.Errorf("%w: palette size %d", ErrFormat, size)
	}

	blocks := make([]B, 0, size)
	for i := 0; i < size; i++ {
		if offset+2 > len(data) {
			return 0, fmt.Errorf("%w: truncated palette identifier length", ErrFormat)
		}
		idLen := int(binary.BigEndian.Uint16(data[offset:]))
		offset += 2
		if offset+idLen > len(data) {
			return 0, fmt.Errorf("%w: truncated palette identifier", ErrFormat)
		}
		id := string(data[offset : offset+idLen])
		offset += idLen

		block, ok := d.registry.Block(id)
		if !ok {
			d.core.log.Warn("unknown block identifier in palette, substituting air", "id", id, "index", i)
			block = d.registry.Air()
		}
		blocks = append(blocks, block)
	}

	if offset+4 > len(data) {
		return 0, fmt.Errorf("%w: truncated palette property length", ErrFormat)
	}
	propLen := int(int32(binary.BigEndian.Uint32(data[offset:])))
	offset += 4
	if propLen < 0 || offset+propLen > len(data) {
		return 0, fmt.Errorf("%w: truncated palette properties", ErrFormat)
	}

	ctx.propertyReader.SetData(data, offset, propLen)
	offset += propLen

	ctx.globalPalette = ctx.globalPalette[:0]
	for _, block := range blocks {
		state := d.packer.ReadProperties(&ctx.propertyReader, block, d.packer.Metas(block))
		ctx.globalPalette = append(ctx.globalPalette, state)
		palette.GetOrAdd(state)
	}

	return offset, nil
}
