package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackInstructionRoundTrip(t *testing.T) {
	cases := []struct {
		x, y, z, palette int
	}{
		{0, 0, 0, 0},
		{15, 15, 15, 1},
		{1, 64, 2, 7},
		{8, MinY, 8, 123},
		{8, MaxY, 8, 456},
		{0, -1, 0, 1 << 20},
	}
	for _, c := range cases {
		packed := PackInstruction(c.x, c.y, c.z, c.palette)
		require.Equal(t, c.x, UnpackX(packed))
		require.Equal(t, c.y, UnpackY(packed))
		require.Equal(t, c.z, UnpackZ(packed))
		require.Equal(t, c.palette, UnpackPaletteIndex(packed))
	}
}

func TestPackPosMatchesInstructionLowBits(t *testing.T) {
	packed := PackInstruction(3, -40, 9, 55)
	require.Equal(t, PackPos(3, -40, 9), packed&0xFFFFFFFF)
}

func TestPaletteDeduplicates(t *testing.T) {
	p := NewPalette[string]()
	require.Equal(t, 0, p.GetOrAdd("air"))
	require.Equal(t, 1, p.GetOrAdd("stone"))
	require.Equal(t, 0, p.GetOrAdd("air"))
	require.Equal(t, 2, p.Len())

	got, ok := p.Get(1)
	require.True(t, ok)
	require.Equal(t, "stone", got)

	_, ok = p.Get(2)
	require.False(t, ok)
	_, ok = p.Get(-1)
	require.False(t, ok)

	require.Equal(t, []string{"air", "stone"}, p.All())
}

func TestDeltaAddAndUpdate(t *testing.T) {
	d := NewChunkDelta[string, string]()
	require.True(t, d.IsEmpty())
	require.False(t, d.IsDirty())

	d.AddBlockChange(1, 64, 2, "stone")
	require.Equal(t, 1, d.InstructionCount())
	require.True(t, d.IsDirty())

	// Same position replaces in place.
	d.AddBlockChange(1, 64, 2, "dirt")
	require.Equal(t, 1, d.InstructionCount())

	var states []string
	d.ForEachInstruction(func(x, y, z int, state string) {
		require.Equal(t, 1, x)
		require.Equal(t, 64, y)
		require.Equal(t, 2, z)
		states = append(states, state)
	})
	require.Equal(t, []string{"dirt"}, states)
}

func TestDeltaQuietReplayStaysClean(t *testing.T) {
	d := NewChunkDelta[string, string]()
	d.AddBlockChangeQuiet(0, 0, 0, "stone", false)
	d.AddBlockChangeQuiet(0, -60, 0, "deepslate", false)
	require.Equal(t, 2, d.InstructionCount())
	require.False(t, d.IsDirty())

	d.AddBlockChange(0, 0, 0, "dirt")
	require.True(t, d.IsDirty())
	d.MarkSaved()
	require.False(t, d.IsDirty())
}

func TestDeltaRemoveSwapsLast(t *testing.T) {
	d := NewChunkDelta[string, string]()
	d.AddBlockChange(0, 0, 0, "a")
	d.AddBlockChange(1, 0, 0, "b")
	d.AddBlockChange(2, 0, 0, "c")

	d.RemoveBlockChange(0, 0, 0)
	require.Equal(t, 2, d.InstructionCount())

	got := map[int]string{}
	d.ForEachInstruction(func(x, y, z int, state string) {
		got[x] = state
	})
	require.Equal(t, map[int]string{1: "b", 2: "c"}, got)

	// The moved instruction must still be addressable by position.
	d.AddBlockChange(2, 0, 0, "c2")
	require.Equal(t, 2, d.InstructionCount())

	d.RemoveBlockChange(5, 5, 5) // miss, no-op
	require.Equal(t, 2, d.InstructionCount())
}

func TestDeltaBlockEntities(t *testing.T) {
	d := NewChunkDelta[string, string]()
	require.Equal(t, 0, d.BlockEntityCount())

	d.SetBlockEntity(4, 70, 8, "chest-tag")
	require.Equal(t, 1, d.BlockEntityCount())
	require.True(t, d.IsDirty())
	require.False(t, d.IsEmpty())

	var tags []string
	d.ForEachBlockEntity(func(x, y, z int, tag string) {
		require.Equal(t, 4, x)
		require.Equal(t, 70, y)
		require.Equal(t, 8, z)
		tags = append(tags, tag)
	})
	require.Equal(t, []string{"chest-tag"}, tags)

	// Removing the block change drops the tag with it.
	d.AddBlockChange(4, 70, 8, "chest")
	d.RemoveBlockChange(4, 70, 8)
	require.Equal(t, 0, d.BlockEntityCount())
}

func TestDeltaEntities(t *testing.T) {
	d := NewChunkDelta[string, string]()
	d.SetEntities([]string{"zombie", "creeper"}, false)
	require.False(t, d.IsDirty())
	require.False(t, d.IsEmpty())
	require.Equal(t, []string{"zombie", "creeper"}, d.Entities())

	d.SetEntities(nil, true)
	require.True(t, d.IsDirty())
	require.Nil(t, d.Entities())
}

func TestChunkFromDeltaSpansSections(t *testing.T) {
	d := NewChunkDelta[string, string]()
	d.AddBlockChange(0, 64, 0, "a")
	d.AddBlockChange(1, 64, 0, "b")
	d.AddBlockChange(15, 0, 15, "a")
	d.AddBlockChange(3, -60, 3, "c")

	chunk := ChunkFromDelta(d)
	require.Equal(t, 3, chunk.SectionCount())
	require.Equal(t, []int{-4, 0, 4}, chunk.SortedSectionYs())

	sec := chunk.Section(4)
	require.NotNil(t, sec)
	require.Equal(t, 2, sec.Count())
	got, ok := sec.Get(0, 0, 0) // world Y 64 -> local Y 0
	require.True(t, ok)
	require.Equal(t, "a", got)

	sec = chunk.Section(-4)
	require.NotNil(t, sec)
	got, ok = sec.Get(3, 4, 3) // world Y -60 -> local Y 4
	require.True(t, ok)
	require.Equal(t, "c", got)

	require.Nil(t, chunk.Section(7))
}

func TestChunkLastSectionCache(t *testing.T) {
	c := NewChunk[string]()
	// Alternate between two sections; the cache must not leak writes
	// across sections.
	for i := 0; i < 8; i++ {
		c.AddBlock(i, 64, 0, "high")
		c.AddBlock(i, 0, 0, "low")
	}
	require.Equal(t, 2, c.SectionCount())
	require.Equal(t, 8, c.Section(4).Count())
	require.Equal(t, 8, c.Section(0).Count())
}

func TestChunkPosString(t *testing.T) {
	require.Equal(t, "[3, -7]", ChunkPos{X: 3, Z: -7}.String())
}
