// Package blockdef provides a self-contained block model driven by JSON
// definitions. It implements the codec adapter contracts, which makes it the
// block universe for the command-line tools and for tests that need real
// states without a host game attached.
package blockdef

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// AirID is the identifier of the background block, always present in a
// registry.
const AirID = "minecraft:air"

// Definition is the JSON shape of one block.
type Definition struct {
	ID         string        `json:"id"`
	Air        bool          `json:"air,omitempty"`
	Properties []PropertyDef `json:"properties,omitempty"`
}

// PropertyDef is the JSON shape of one block property.
type PropertyDef struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Property is one enumerable property of a block. The shift and width place
// the property's value index inside a State's packed bits.
type Property struct {
	Name   string
	Values []string

	shift int
	width int
}

// Block is an interned block definition. Blocks are compared by pointer; a
// registry never hands out two instances for the same identifier.
type Block struct {
	ID    string
	Air   bool
	Props []*Property
}

// State is one concrete state of a block: the block plus its property value
// indices packed into a single word. The zero State is invalid; obtain states
// through Adapter.DefaultState and Adapter.WithValue.
type State struct {
	Block  *Block
	packed uint64
}

// Registry interns blocks by identifier and implements the codec's registry
// adapter contract.
type Registry struct {
	byID  map[string]*Block
	order []*Block
	air   *Block
}

// NewRegistry interns the given definitions. An air block is synthesized if
// the definitions don't include one.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Block, len(defs)+1)}

	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("block definition with empty id")
		}
		if _, dup := r.byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate block id %q", def.ID)
		}

		block := &Block{ID: def.ID, Air: def.Air || def.ID == AirID}

		shift := 0
		for _, p := range def.Properties {
			if len(p.Values) == 0 {
				return nil, fmt.Errorf("block %q: property %q has no values", def.ID, p.Name)
			}
			width := bitsForCount(len(p.Values))
			if shift+width > 64 {
				return nil, fmt.Errorf("block %q: property bits exceed 64", def.ID)
			}
			block.Props = append(block.Props, &Property{
				Name:   p.Name,
				Values: p.Values,
				shift:  shift,
				width:  width,
			})
			shift += width
		}

		r.byID[def.ID] = block
		r.order = append(r.order, block)
		if block.Air && r.air == nil {
			r.air = block
		}
	}

	if r.air == nil {
		air := &Block{ID: AirID, Air: true}
		r.byID[AirID] = air
		r.order = append(r.order, air)
		r.air = air
	}
	return r, nil
}

// Load reads a JSON array of block definitions from a file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read block definitions: %w", err)
	}
	var defs []Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse block definitions %s: %w", path, err)
	}
	return NewRegistry(defs)
}

// ID returns the block's identifier.
func (r *Registry) ID(block *Block) string {
	return block.ID
}

// Block resolves an identifier to its interned block.
func (r *Registry) Block(id string) (*Block, bool) {
	b, ok := r.byID[id]
	return b, ok
}

// Air returns the background block.
func (r *Registry) Air() *Block {
	return r.air
}

// Blocks returns all blocks sorted by identifier.
func (r *Registry) Blocks() []*Block {
	out := make([]*Block, len(r.order))
	copy(out, r.order)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered blocks.
func (r *Registry) Len() int {
	return len(r.byID)
}

// Adapter implements the codec's block state adapter contract over a
// registry's blocks.
type Adapter struct{}

// NewAdapter returns the state adapter. It is stateless; all information
// lives in the blocks themselves.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// DefaultState returns the state with every property at value index 0.
func (*Adapter) DefaultState(block *Block) State {
	return State{Block: block}
}

// Block returns the block a state belongs to.
func (*Adapter) Block(state State) *Block {
	return state.Block
}

// Properties lists the block's properties in definition order.
func (*Adapter) Properties(block *Block) []*Property {
	return block.Props
}

// PropertyName returns the property's name.
func (*Adapter) PropertyName(prop *Property) string {
	return prop.Name
}

// PropertyValueCount returns the number of allowed values.
func (*Adapter) PropertyValueCount(prop *Property) int {
	return len(prop.Values)
}

// ValueIndex extracts the state's value index for the property.
func (*Adapter) ValueIndex(state State, prop *Property) int {
	return int((state.packed >> prop.shift) & ((1 << prop.width) - 1))
}

// WithValue returns the state with the property set to the value at
// valueIndex. Out-of-range indices clamp to 0.
func (*Adapter) WithValue(state State, prop *Property, valueIndex int) State {
	if valueIndex < 0 || valueIndex >= len(prop.Values) {
		valueIndex = 0
	}
	mask := uint64((1<<prop.width)-1) << prop.shift
	state.packed = state.packed&^mask | uint64(valueIndex)<<prop.shift
	return state
}

// IsAir reports whether the state belongs to a background block.
func (*Adapter) IsAir(state State) bool {
	return state.Block == nil || state.Block.Air
}

// Value returns the state's current value string for the property.
func (a *Adapter) Value(state State, prop *Property) string {
	return prop.Values[a.ValueIndex(state, prop)]
}

// String renders a state as "id[prop=value,...]" for logs and tooling.
func (s State) String() string {
	if s.Block == nil {
		return "<nil>"
	}
	if len(s.Block.Props) == 0 {
		return s.Block.ID
	}
	out := s.Block.ID + "["
	var a Adapter
	for i, prop := range s.Block.Props {
		if i > 0 {
			out += ","
		}
		out += prop.Name + "=" + a.Value(s, prop)
	}
	return out + "]"
}

func bitsForCount(n int) int {
	bits := 1
	for 1<<bits < n {
		bits++
	}
	return bits
}
