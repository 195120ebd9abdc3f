package codec

import (
	"bytes"

	"github.com/liparakis/chunkis/pkg/bitpack"
)

// EncodeContext holds the reusable scratch state for one encoder. Create one
// per goroutine (or per call) and pass it into every Encode; reuse keeps the
// hot path free of allocations. Not safe for concurrent use.
type EncodeContext[S comparable] struct {
	main bytes.Buffer
	bits *bitpack.Writer

	globalID map[S]int

	localPalette []int
	localIndex   map[S]int
}

// NewEncodeContext returns a context with pre-sized buffers.
func NewEncodeContext[S comparable]() *EncodeContext[S] {
	return &EncodeContext[S]{
		bits:         bitpack.NewWriter(8192),
		globalID:     make(map[S]int, 64),
		localPalette: make([]int, 0, 64),
		localIndex:   make(map[S]int, 64),
	}
}

func (ctx *EncodeContext[S]) reset() {
	ctx.main.Reset()
	clear(ctx.globalID)
}

func (ctx *EncodeContext[S]) resetLocalPalette() {
	ctx.localPalette = ctx.localPalette[:0]
	clear(ctx.localIndex)
}

// DecodeContext holds the reusable scratch state for one decoder, plus soft
// corruption diagnostics. Not safe for concurrent use.
type DecodeContext[S comparable] struct {
	sectionReader  bitpack.Reader
	propertyReader bitpack.Reader

	// Local palette scratch for dense sections; the 8-bit size field caps
	// entries at 255.
	localPalette [1 << PaletteSizeBits]int

	globalPalette []S

	// SoftCorruptions counts cells silently substituted with the
	// background state because a palette index was out of range. It
	// accumulates across decodes until ResetDiagnostics.
	SoftCorruptions int
}

// NewDecodeContext returns an empty decode context.
func NewDecodeContext[S comparable]() *DecodeContext[S] {
	return &DecodeContext[S]{
		globalPalette: make([]S, 0, 64),
	}
}

// ResetDiagnostics clears the accumulated corruption counters.
func (ctx *DecodeContext[S]) ResetDiagnostics() {
	ctx.SoftCorruptions = 0
}

// stateAt resolves a global palette index, substituting air for out-of-range
// indices rather than failing the decode.
func (ctx *DecodeContext[S]) stateAt(index int, air S) S {
	if index >= 0 && index < len(ctx.globalPalette) {
		return ctx.globalPalette[index]
	}
	ctx.SoftCorruptions++
	return air
}
