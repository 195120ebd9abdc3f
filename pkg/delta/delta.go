// Package delta holds the in-memory containers for sparse chunk
// modifications: the palette-deduplicated block instruction list, the
// adaptive per-section storage, and the chunk-level section map the codecs
// operate on.
//
// S is the host's block-state type; N is the host's structured tag type.
// Both are opaque here: the package only stores and enumerates them.
package delta

// ChunkDelta is the set of block changes, block-entity tags, and loose
// entity tags recorded for one chunk column.
//
// Block changes are stored as packed instructions (see instruction.go) with a
// position map for O(1) updates. Not safe for concurrent use.
type ChunkDelta[S comparable, N any] struct {
	instructions []uint64
	positionMap  map[uint64]int

	blockPalette *Palette[S]

	// Lazily allocated; most deltas carry no tags.
	blockEntities map[uint64]N
	entities      []N

	dirty bool
}

const deltaInitialCapacity = 64

// NewChunkDelta returns an empty delta.
func NewChunkDelta[S comparable, N any]() *ChunkDelta[S, N] {
	return &ChunkDelta[S, N]{
		instructions: make([]uint64, 0, deltaInitialCapacity),
		positionMap:  make(map[uint64]int, deltaInitialCapacity),
		blockPalette: NewPalette[S](),
	}
}

// BlockPalette returns the palette deduplicating the states referenced by
// this delta's instructions.
func (d *ChunkDelta[S, N]) BlockPalette() *Palette[S] {
	return d.blockPalette
}

// AddBlockChange records a block change at the chunk-local position,
// replacing any previous change there, and marks the delta dirty.
func (d *ChunkDelta[S, N]) AddBlockChange(x, y, z int, state S) {
	d.AddBlockChangeQuiet(x, y, z, state, true)
}

// AddBlockChangeQuiet is AddBlockChange with explicit dirty control, used
// when replaying already-persisted data.
func (d *ChunkDelta[S, N]) AddBlockChangeQuiet(x, y, z int, state S, markDirty bool) {
	paletteID := d.blockPalette.GetOrAdd(state)
	posKey := PackPos(x, y, z)
	packed := PackInstruction(x, y, z, paletteID)

	if idx, ok := d.positionMap[posKey]; ok {
		if d.instructions[idx] == packed {
			return
		}
		d.instructions[idx] = packed
	} else {
		d.positionMap[posKey] = len(d.instructions)
		d.instructions = append(d.instructions, packed)
	}

	if markDirty {
		d.dirty = true
	}
}

// RemoveBlockChange drops the change at the position, if any, along with any
// block-entity tag stored there. Swap-with-last keeps the instruction slice
// dense.
func (d *ChunkDelta[S, N]) RemoveBlockChange(x, y, z int) {
	posKey := PackPos(x, y, z)
	idx, ok := d.positionMap[posKey]
	if !ok {
		return
	}

	delete(d.positionMap, posKey)
	delete(d.blockEntities, posKey)

	last := len(d.instructions) - 1
	if idx != last {
		moved := d.instructions[last]
		d.instructions[idx] = moved
		d.positionMap[PackPos(UnpackX(moved), UnpackY(moved), UnpackZ(moved))] = idx
	}
	d.instructions = d.instructions[:last]

	d.dirty = true
}

// ForEachInstruction calls fn for every recorded block change. The state is
// resolved through the palette; instructions whose palette index no longer
// resolves are skipped.
func (d *ChunkDelta[S, N]) ForEachInstruction(fn func(x, y, z int, state S)) {
	for _, packed := range d.instructions {
		state, ok := d.blockPalette.Get(UnpackPaletteIndex(packed))
		if !ok {
			continue
		}
		fn(UnpackX(packed), UnpackY(packed), UnpackZ(packed), state)
	}
}

// InstructionCount returns the number of recorded block changes.
func (d *ChunkDelta[S, N]) InstructionCount() int {
	return len(d.instructions)
}

// SetBlockEntity records a structured tag for the block at the position and
// marks the delta dirty.
func (d *ChunkDelta[S, N]) SetBlockEntity(x, y, z int, tag N) {
	if d.blockEntities == nil {
		d.blockEntities = make(map[uint64]N)
	}
	d.blockEntities[PackPos(x, y, z)] = tag
	d.dirty = true
}

// ForEachBlockEntity calls fn for every stored block-entity tag.
func (d *ChunkDelta[S, N]) ForEachBlockEntity(fn func(x, y, z int, tag N)) {
	for posKey, tag := range d.blockEntities {
		fn(UnpackX(posKey), UnpackY(posKey), UnpackZ(posKey), tag)
	}
}

// BlockEntityCount returns the number of stored block-entity tags.
func (d *ChunkDelta[S, N]) BlockEntityCount() int {
	return len(d.blockEntities)
}

// SetEntities replaces the loose entity tag list.
func (d *ChunkDelta[S, N]) SetEntities(entities []N, markDirty bool) {
	d.entities = entities
	if markDirty {
		d.dirty = true
	}
}

// Entities returns the loose entity tag list, which may be nil.
func (d *ChunkDelta[S, N]) Entities() []N {
	return d.entities
}

// IsEmpty reports whether the delta records nothing at all.
func (d *ChunkDelta[S, N]) IsEmpty() bool {
	return len(d.instructions) == 0 && len(d.blockEntities) == 0 && len(d.entities) == 0
}

// IsDirty reports whether the delta has changes not yet persisted.
func (d *ChunkDelta[S, N]) IsDirty() bool {
	return d.dirty
}

// MarkSaved clears the dirty flag after a successful persist.
func (d *ChunkDelta[S, N]) MarkSaved() {
	d.dirty = false
}
