package codec

import (
	"io"

	"github.com/liparakis/chunkis/pkg/bitpack"
)

// BlockStateAdapter lets the codec inspect and rebuild host block states
// without depending on the host's object model.
//
// B is the block (type) representation, S a concrete state of a block, and P
// one of the block's enumerable properties. State property values are only
// ever addressed by index into the property's value list, so the host keeps
// full control over value ordering as long as it is deterministic.
type BlockStateAdapter[B, S comparable, P any] interface {
	// DefaultState returns the canonical state for a block.
	DefaultState(block B) S

	// Block returns the block a state belongs to.
	Block(state S) B

	// Properties lists the block's properties, in any stable order.
	Properties(block B) []P

	// PropertyName returns the property's name, used to sort properties
	// deterministically on the wire.
	PropertyName(prop P) string

	// PropertyValueCount returns how many distinct values the property
	// allows.
	PropertyValueCount(prop P) int

	// ValueIndex returns the index of the state's current value for the
	// property.
	ValueIndex(state S, prop P) int

	// WithValue returns a state derived from state with the property set
	// to the value at valueIndex.
	WithValue(state S, prop P, valueIndex int) S

	// IsAir reports whether the state is the background/absence state.
	IsAir(state S) bool
}

// BlockRegistryAdapter resolves between host blocks and their string
// identifiers.
type BlockRegistryAdapter[B comparable] interface {
	// ID returns the block's namespaced string identifier.
	ID(block B) string

	// Block resolves an identifier; ok is false for unknown identifiers.
	Block(id string) (block B, ok bool)

	// Air returns the background block singleton.
	Air() B
}

// TagCodec serializes one opaque structured payload (block entity or entity
// data) to or from a byte stream.
type TagCodec[N any] interface {
	Write(tag N, w io.Writer) error
	Read(r io.Reader) (N, error)
}

// StateCodec is the storage-variant palette bridge: it maps states to the
// persistent 16-bit registry IDs kept in the identifier registry and packs
// their property values into the palette's bit blob.
type StateCodec[S comparable] interface {
	// BlockID returns the persistent registry ID for the state's block,
	// assigning one if needed.
	BlockID(state S) int

	// WriteStateProperties appends the state's property values to the
	// palette property stream.
	WriteStateProperties(w *bitpack.Writer, state S)

	// ReadStateProperties rebuilds a state from the property stream given
	// its block's registry ID. Unknown IDs are an error: the property
	// stream has no framing, so a skipped entry would desync every entry
	// after it.
	ReadStateProperties(r *bitpack.Reader, blockID int) (S, error)
}
