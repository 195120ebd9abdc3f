package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSectionEmptyToSparse(t *testing.T) {
	s := NewSection[string]()
	require.True(t, s.IsEmpty())
	require.Equal(t, ModeEmpty, s.Mode())

	s.Set(0, 0, 0, "stone")
	require.Equal(t, ModeSparse, s.Mode())
	require.Equal(t, 1, s.Count())
	require.False(t, s.IsEmpty())

	got, ok := s.Get(0, 0, 0)
	require.True(t, ok)
	require.Equal(t, "stone", got)
}

func TestSectionSparseOverwrite(t *testing.T) {
	s := NewSection[string]()
	s.Set(0, 0, 0, "stone")
	s.Set(0, 0, 0, "dirt")

	require.Equal(t, 1, s.Count())
	got, _ := s.Get(0, 0, 0)
	require.Equal(t, "dirt", got)
}

func TestSectionSparseSwapRemove(t *testing.T) {
	s := NewSection[string]()
	s.Set(0, 0, 0, "dirt")
	s.Set(15, 15, 15, "glass")

	s.Clear(0, 0, 0)
	require.Equal(t, 1, s.Count())
	require.Equal(t, ModeSparse, s.Mode())

	got, ok := s.Get(15, 15, 15)
	require.True(t, ok)
	require.Equal(t, "glass", got)
	_, ok = s.Get(0, 0, 0)
	require.False(t, ok)

	s.Clear(15, 15, 15)
	require.True(t, s.IsEmpty())
	require.Equal(t, 0, s.Count())
}

func TestSectionClearMisses(t *testing.T) {
	s := NewSection[string]()

	// Clearing an empty section does nothing.
	s.Clear(0, 0, 0)
	require.Equal(t, ModeEmpty, s.Mode())

	s.Set(0, 0, 0, "stone")
	s.Clear(1, 1, 1)
	require.Equal(t, 1, s.Count())
	got, _ := s.Get(0, 0, 0)
	require.Equal(t, "stone", got)
}

func TestSectionSparseGrowth(t *testing.T) {
	s := NewSection[string]()
	for i := 0; i < 5; i++ {
		s.Set(i, 0, 0, "block")
	}
	require.Equal(t, 5, s.Count())
	require.Equal(t, ModeSparse, s.Mode())

	for i := 0; i < 5; i++ {
		got, ok := s.Get(i, 0, 0)
		require.True(t, ok, "cell %d", i)
		require.Equal(t, "block", got)
	}
}

func TestSectionDenseRoundTrip(t *testing.T) {
	s := NewSection[int]()

	// Fill the whole volume; occupancy stays within the sparse cap, so
	// force dense mode by converting a fully loaded section.
	for y := 0; y < SectionSize; y++ {
		for z := 0; z < SectionSize; z++ {
			for x := 0; x < SectionSize; x++ {
				s.Set(x, y, z, int(PackCoord(x, y, z))+1)
			}
		}
	}
	require.Equal(t, SectionVolume, s.Count())
	require.Equal(t, ModeSparse, s.Mode())

	s.convertToDense()
	require.Equal(t, ModeDense, s.Mode())
	require.Equal(t, SectionVolume, s.Count())

	for y := 0; y < SectionSize; y++ {
		for z := 0; z < SectionSize; z++ {
			for x := 0; x < SectionSize; x++ {
				got, ok := s.Get(x, y, z)
				require.True(t, ok)
				require.Equal(t, int(PackCoord(x, y, z))+1, got)
			}
		}
	}
}

func TestSectionDenseOverwriteKeepsCount(t *testing.T) {
	s := NewSection[string]()
	s.Set(0, 0, 0, "A")
	s.convertToDense()

	s.Set(0, 0, 0, "B")
	require.Equal(t, 1, s.Count())
	got, _ := s.Get(0, 0, 0)
	require.Equal(t, "B", got)
}

func TestSectionDenseToSparseBelowHalfThreshold(t *testing.T) {
	s := NewSection[int]()

	// Load well above half the conversion threshold, then drain. The
	// section must stay dense until occupancy drops below 2048.
	target := SparseDenseThreshold>>1 + 10
	n := 0
	for key := 0; key < SectionVolume && n < target; key++ {
		x, y, z := UnpackCoord(uint16(key))
		s.Set(x, y, z, key+1)
		n++
	}
	s.convertToDense()
	require.Equal(t, ModeDense, s.Mode())

	for key := 0; key < SectionVolume && s.Count() >= SparseDenseThreshold>>1; key++ {
		x, y, z := UnpackCoord(uint16(key))
		s.Clear(x, y, z)
		if s.Count() >= SparseDenseThreshold>>1 {
			require.Equal(t, ModeDense, s.Mode(), "count %d", s.Count())
		}
	}
	require.Equal(t, ModeSparse, s.Mode())
	require.Equal(t, SparseDenseThreshold>>1-1, s.Count())
}

func TestSectionDenseDrainToEmpty(t *testing.T) {
	s := NewSection[string]()
	s.Set(2, 2, 2, "bedrock")
	s.convertToDense()
	require.Equal(t, ModeDense, s.Mode())
	require.Equal(t, 1, s.Count())

	s.Clear(2, 2, 2)
	require.Equal(t, ModeEmpty, s.Mode())
	require.Nil(t, s.dense)
	require.Nil(t, s.sparseKeys)

	// Usable again after the full cycle.
	s.Set(3, 3, 3, "cobble")
	require.Equal(t, ModeSparse, s.Mode())
}

func TestSectionDenseClearMiss(t *testing.T) {
	s := NewSection[string]()
	// Two cells so the section survives the dense->sparse check after a
	// miss (it should not run at all on a miss).
	s.Set(15, 15, 15, "stone")
	s.convertToDense()

	s.Clear(0, 0, 0)
	require.Equal(t, 1, s.Count())
	require.Equal(t, ModeDense, s.Mode())
}

func TestSectionForEachVisitsAll(t *testing.T) {
	s := NewSection[int]()
	want := map[uint16]int{}
	for i := 0; i < 10; i++ {
		s.Set(i, i, i, i + 100)
		want[PackCoord(i, i, i)] = i + 100
	}

	got := map[uint16]int{}
	s.ForEach(func(key uint16, state int) {
		got[key] = state
	})
	require.Equal(t, want, got)

	s.convertToDense()
	got = map[uint16]int{}
	s.ForEach(func(key uint16, state int) {
		got[key] = state
	})
	require.Equal(t, want, got)
}

func TestPackCoordLayout(t *testing.T) {
	require.Equal(t, uint16(0), PackCoord(0, 0, 0))
	require.Equal(t, uint16(4095), PackCoord(15, 15, 15))
	require.Equal(t, uint16(1<<8|1<<4|1), PackCoord(1, 1, 1))

	for _, key := range []uint16{0, 1, 16, 256, 4095, 0x123} {
		x, y, z := UnpackCoord(key)
		require.Equal(t, key, PackCoord(x, y, z))
	}
}
