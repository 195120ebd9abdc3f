package delta

import "sort"

// Chunk is a sparse spatial view of one chunk column, holding a Section per
// occupied 16-height slab keyed by signed section Y. It is the intermediate
// form the codecs traverse; build one from a ChunkDelta with ChunkFromDelta.
// Not safe for concurrent use.
type Chunk[S comparable] struct {
	sections map[int]*Section[S]

	// Consecutive writes usually hit the same section; caching the last one
	// skips the map lookup on that path.
	lastSectionY int
	lastSection  *Section[S]
}

// NewChunk returns an empty chunk.
func NewChunk[S comparable]() *Chunk[S] {
	return &Chunk[S]{
		sections:     make(map[int]*Section[S]),
		lastSectionY: int(^uint(0) >> 1), // no section cached yet
	}
}

// AddBlock sets a cell by chunk-local X/Z and world Y, creating the owning
// section as needed.
func (c *Chunk[S]) AddBlock(x, y, z int, state S) {
	sectionY := y >> 4

	section := c.lastSection
	if section == nil || sectionY != c.lastSectionY {
		section = c.sections[sectionY]
		if section == nil {
			section = NewSection[S]()
			c.sections[sectionY] = section
		}
		c.lastSectionY = sectionY
		c.lastSection = section
	}

	section.Set(x&15, y&15, z&15, state)
}

// Section returns the section at the given section Y, or nil.
func (c *Chunk[S]) Section(sectionY int) *Section[S] {
	return c.sections[sectionY]
}

// SectionCount returns the number of occupied sections.
func (c *Chunk[S]) SectionCount() int {
	return len(c.sections)
}

// SortedSectionYs returns the occupied section Y indices in ascending order,
// the order serialization requires.
func (c *Chunk[S]) SortedSectionYs() []int {
	ys := make([]int, 0, len(c.sections))
	for y := range c.sections {
		ys = append(ys, y)
	}
	sort.Ints(ys)
	return ys
}

// ChunkFromDelta rebuilds the spatial chunk view from a delta's instruction
// list. Instructions whose palette index no longer resolves are skipped.
func ChunkFromDelta[S comparable, N any](d *ChunkDelta[S, N]) *Chunk[S] {
	chunk := NewChunk[S]()
	d.ForEachInstruction(func(x, y, z int, state S) {
		chunk.AddBlock(x, y, z, state)
	})
	return chunk
}
