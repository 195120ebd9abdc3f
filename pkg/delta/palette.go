package delta

// Palette is a bidirectional mapping between values and compact sequential
// integer IDs. Repeated values are represented by small integer references,
// which downstream codecs pack into minimal bit widths.
//
// IDs are assigned sequentially from 0 and are stable for the lifetime of the
// palette. Not safe for concurrent use.
type Palette[T comparable] struct {
	idToEntry []T
	entryToID map[T]int
}

const paletteInitialCapacity = 32

// NewPalette returns an empty palette.
func NewPalette[T comparable]() *Palette[T] {
	return &Palette[T]{
		idToEntry: make([]T, 0, paletteInitialCapacity),
		entryToID: make(map[T]int, paletteInitialCapacity),
	}
}

// GetOrAdd returns the ID for entry, assigning the next sequential ID if the
// entry is not yet present.
func (p *Palette[T]) GetOrAdd(entry T) int {
	if id, ok := p.entryToID[entry]; ok {
		return id
	}
	id := len(p.idToEntry)
	p.idToEntry = append(p.idToEntry, entry)
	p.entryToID[entry] = id
	return id
}

// Get returns the entry for id. The second result is false when id has never
// been assigned.
func (p *Palette[T]) Get(id int) (T, bool) {
	if id < 0 || id >= len(p.idToEntry) {
		var zero T
		return zero, false
	}
	return p.idToEntry[id], true
}

// All returns the palette entries in ID order. The slice is the palette's
// internal storage and must be treated as read-only.
func (p *Palette[T]) All() []T {
	return p.idToEntry
}

// Len returns the number of entries in the palette.
func (p *Palette[T]) Len() int {
	return len(p.idToEntry)
}
