package codec

import (
	"sort"
	"sync"

	"github.com/liparakis/chunkis/pkg/bitpack"
)

// PropertyMeta is the serialization plan for one block property: the property
// itself and the fixed bit width covering all of its values.
type PropertyMeta[P any] struct {
	Property P
	Bits     int
}

// PropertyPacker bit-packs block state property values with deterministic
// ordering and minimal widths. Per-block metadata is cached keyed by the
// block's string identifier, so the cache never depends on the host object
// model's hashing or identity semantics. Safe for concurrent use.
type PropertyPacker[B, S comparable, P any] struct {
	states   BlockStateAdapter[B, S, P]
	registry BlockRegistryAdapter[B]

	mu    sync.RWMutex
	cache map[string][]PropertyMeta[P]
}

// NewPropertyPacker returns a packer with an empty metadata cache.
func NewPropertyPacker[B, S comparable, P any](
	states BlockStateAdapter[B, S, P],
	registry BlockRegistryAdapter[B],
) *PropertyPacker[B, S, P] {
	return &PropertyPacker[B, S, P]{
		states:   states,
		registry: registry,
		cache:    make(map[string][]PropertyMeta[P], 512),
	}
}

// Metas returns the cached serialization plan for a block, computing it once
// per block identifier.
func (p *PropertyPacker[B, S, P]) Metas(block B) []PropertyMeta[P] {
	key := p.registry.ID(block)

	p.mu.RLock()
	metas, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return metas
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if metas, ok = p.cache[key]; ok {
		return metas
	}
	metas = p.createMetas(block)
	p.cache[key] = metas
	return metas
}

func (p *PropertyPacker[B, S, P]) createMetas(block B) []PropertyMeta[P] {
	props := p.states.Properties(block)
	if len(props) == 0 {
		return nil
	}

	// Copy before sorting; the adapter may hand out a shared slice.
	sorted := make([]P, len(props))
	copy(sorted, props)
	sort.Slice(sorted, func(i, j int) bool {
		return p.states.PropertyName(sorted[i]) < p.states.PropertyName(sorted[j])
	})

	metas := make([]PropertyMeta[P], len(sorted))
	for i, prop := range sorted {
		metas[i] = PropertyMeta[P]{
			Property: prop,
			Bits:     bitsForValues(p.states.PropertyValueCount(prop)),
		}
	}
	return metas
}

// WriteProperties appends the state's property value indices to the bit
// stream using the given plan.
func (p *PropertyPacker[B, S, P]) WriteProperties(w *bitpack.Writer, state S, metas []PropertyMeta[P]) {
	for _, meta := range metas {
		w.Write(uint64(p.states.ValueIndex(state, meta.Property)), meta.Bits)
	}
}

// ReadProperties rebuilds a state of the given block from the bit stream.
func (p *PropertyPacker[B, S, P]) ReadProperties(r *bitpack.Reader, block B, metas []PropertyMeta[P]) S {
	state := p.states.DefaultState(block)
	for _, meta := range metas {
		state = p.states.WithValue(state, meta.Property, int(r.Read(meta.Bits)))
	}
	return state
}

// bitsForValues returns the width for a property with n allowed values.
// Unlike palette index widths this never drops to zero: even a single-valued
// property occupies one bit on the wire.
func bitsForValues(n int) int {
	if n <= 1 {
		return 1
	}
	return bitsFor(n)
}
