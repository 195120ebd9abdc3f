package delta

// SectionMode identifies the internal storage representation of a Section.
type SectionMode uint8

const (
	// ModeEmpty means no cells are set.
	ModeEmpty SectionMode = iota
	// ModeSparse stores cells as unordered (packed coordinate, state) pairs.
	ModeSparse
	// ModeDense stores the full 16x16x16 volume as a flat array.
	ModeDense
)

const (
	// SectionVolume is the number of cells in one section.
	SectionVolume = SectionSize * SectionSize * SectionSize

	// SparseDenseThreshold controls the dense->sparse conversion: a dense
	// section converts back when occupancy drops below half this value.
	// Set above SectionVolume, which disables the overflow-driven
	// sparse->dense conversion within a single section; the exact value is
	// part of the persisted format's observable behavior and must not change.
	SparseDenseThreshold = 4097

	// MaxSparseCapacity caps sparse storage growth before a forced dense
	// conversion.
	MaxSparseCapacity = 4097

	initialSparseCapacity = 4
)

// PackCoord packs section-local coordinates into a 16-bit key: YYYY ZZZZ XXXX.
func PackCoord(x, y, z int) uint16 {
	return uint16(y<<8 | z<<4 | x)
}

// UnpackCoord inverts PackCoord.
func UnpackCoord(key uint16) (x, y, z int) {
	return int(key & 0xF), int(key >> 8), int((key >> 4) & 0xF)
}

// Section stores the modified cells of one 16x16x16 volume, switching
// internal representation as occupancy changes: Empty -> Sparse on the first
// write, Sparse -> Dense when the sparse cap is exceeded, and back down as
// cells are cleared. Not safe for concurrent use.
type Section[S comparable] struct {
	mode SectionMode

	sparseKeys []uint16
	sparseVals []S

	dense        []S
	densePresent []uint64 // occupancy bitset, one bit per cell
	denseCount   int
}

// NewSection returns an empty section.
func NewSection[S comparable]() *Section[S] {
	return &Section[S]{}
}

// Mode returns the section's current storage mode.
func (s *Section[S]) Mode() SectionMode {
	return s.mode
}

// IsEmpty reports whether the section holds no cells.
func (s *Section[S]) IsEmpty() bool {
	return s.mode == ModeEmpty
}

// Count returns the number of occupied cells.
func (s *Section[S]) Count() int {
	switch s.mode {
	case ModeSparse:
		return len(s.sparseKeys)
	case ModeDense:
		return s.denseCount
	default:
		return 0
	}
}

// Set stores a non-background state at the section-local position.
func (s *Section[S]) Set(x, y, z int, state S) {
	key := PackCoord(x, y, z)

	switch s.mode {
	case ModeDense:
		s.setDense(key, state)
	case ModeSparse:
		s.setSparse(key, state)
	default:
		s.initSparse(key, state)
	}
}

// Clear removes the cell at the section-local position, if present.
func (s *Section[S]) Clear(x, y, z int) {
	key := PackCoord(x, y, z)

	switch s.mode {
	case ModeDense:
		s.clearDense(key)
	case ModeSparse:
		if idx := s.findSparse(key); idx >= 0 {
			s.removeSparse(idx)
		}
	}
}

// Get returns the state at the section-local position. The second result is
// false when the cell is unset.
func (s *Section[S]) Get(x, y, z int) (S, bool) {
	key := PackCoord(x, y, z)

	switch s.mode {
	case ModeDense:
		return s.CellAt(int(key))
	case ModeSparse:
		if idx := s.findSparse(key); idx >= 0 {
			return s.sparseVals[idx], true
		}
	}
	var zero S
	return zero, false
}

// CellAt returns the state at the flat cell index (a packed coordinate).
// Only meaningful in dense mode; other modes report unset.
func (s *Section[S]) CellAt(index int) (S, bool) {
	if s.mode != ModeDense || !s.presentAt(index) {
		var zero S
		return zero, false
	}
	return s.dense[index], true
}

// ForEach calls fn for every occupied cell, in storage order.
func (s *Section[S]) ForEach(fn func(key uint16, state S)) {
	switch s.mode {
	case ModeSparse:
		for i, key := range s.sparseKeys {
			fn(key, s.sparseVals[i])
		}
	case ModeDense:
		for i := 0; i < SectionVolume; i++ {
			if s.presentAt(i) {
				fn(uint16(i), s.dense[i])
			}
		}
	}
}

func (s *Section[S]) initSparse(key uint16, state S) {
	s.mode = ModeSparse
	s.sparseKeys = make([]uint16, 0, initialSparseCapacity)
	s.sparseVals = make([]S, 0, initialSparseCapacity)
	s.sparseKeys = append(s.sparseKeys, key)
	s.sparseVals = append(s.sparseVals, state)
}

func (s *Section[S]) findSparse(key uint16) int {
	for i, k := range s.sparseKeys {
		if k == key {
			return i
		}
	}
	return -1
}

func (s *Section[S]) setSparse(key uint16, state S) {
	if idx := s.findSparse(key); idx >= 0 {
		s.sparseVals[idx] = state
		return
	}

	if len(s.sparseKeys) >= MaxSparseCapacity {
		s.convertToDense()
		s.setDense(key, state)
		return
	}

	if len(s.sparseKeys) == cap(s.sparseKeys) {
		s.growSparse()
	}
	s.sparseKeys = append(s.sparseKeys, key)
	s.sparseVals = append(s.sparseVals, state)
}

func (s *Section[S]) growSparse() {
	newCap := cap(s.sparseKeys) * 2
	if newCap > MaxSparseCapacity {
		newCap = MaxSparseCapacity
	}
	keys := make([]uint16, len(s.sparseKeys), newCap)
	vals := make([]S, len(s.sparseVals), newCap)
	copy(keys, s.sparseKeys)
	copy(vals, s.sparseVals)
	s.sparseKeys = keys
	s.sparseVals = vals
}

// removeSparse swap-removes the entry at idx, keeping the arrays dense
// without shifting.
func (s *Section[S]) removeSparse(idx int) {
	last := len(s.sparseKeys) - 1
	if idx < last {
		s.sparseKeys[idx] = s.sparseKeys[last]
		s.sparseVals[idx] = s.sparseVals[last]
	}
	var zero S
	s.sparseVals[last] = zero
	s.sparseKeys = s.sparseKeys[:last]
	s.sparseVals = s.sparseVals[:last]

	if len(s.sparseKeys) == 0 {
		s.mode = ModeEmpty
		s.sparseKeys = nil
		s.sparseVals = nil
	}
}

func (s *Section[S]) presentAt(index int) bool {
	return s.densePresent[index>>6]&(1<<(uint(index)&63)) != 0
}

func (s *Section[S]) setDense(key uint16, state S) {
	idx := int(key)
	s.dense[idx] = state
	if !s.presentAt(idx) {
		s.densePresent[idx>>6] |= 1 << (uint(idx) & 63)
		s.denseCount++
	}
}

func (s *Section[S]) clearDense(key uint16) {
	idx := int(key)
	if !s.presentAt(idx) {
		return
	}
	var zero S
	s.dense[idx] = zero
	s.densePresent[idx>>6] &^= 1 << (uint(idx) & 63)
	s.denseCount--

	if s.denseCount < SparseDenseThreshold>>1 {
		s.convertToSparse()
	}
}

func (s *Section[S]) convertToDense() {
	s.dense = make([]S, SectionVolume)
	s.densePresent = make([]uint64, SectionVolume/64)

	for i, key := range s.sparseKeys {
		idx := int(key)
		s.dense[idx] = s.sparseVals[i]
		s.densePresent[idx>>6] |= 1 << (uint(idx) & 63)
	}

	s.denseCount = len(s.sparseKeys)
	s.sparseKeys = nil
	s.sparseVals = nil
	s.mode = ModeDense
}

func (s *Section[S]) convertToSparse() {
	keys := make([]uint16, 0, SparseDenseThreshold)
	vals := make([]S, 0, SparseDenseThreshold)

	for i := 0; i < SectionVolume; i++ {
		if s.presentAt(i) {
			keys = append(keys, uint16(i))
			vals = append(vals, s.dense[i])
		}
	}

	s.dense = nil
	s.densePresent = nil
	s.denseCount = 0

	if len(keys) == 0 {
		s.mode = ModeEmpty
		s.sparseKeys = nil
		s.sparseVals = nil
		return
	}
	s.sparseKeys = keys
	s.sparseVals = vals
	s.mode = ModeSparse
}
