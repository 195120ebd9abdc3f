// cisinspect dumps CIS region files: the slot table of a region, and with a
// block-definition file plus a world's mapping table, the full decoded
// contents of a single chunk delta.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/liparakis/chunkis/pkg/bitpack"
	"github.com/liparakis/chunkis/pkg/blockdef"
	"github.com/liparakis/chunkis/pkg/codec"
	"github.com/liparakis/chunkis/pkg/storage"
)

func main() {
	var (
		regionPath  = flag.String("region", "", "path to a r.X.Z.cis region file")
		blocksPath  = flag.String("blocks", "", "path to a block definition JSON file")
		mappingPath = flag.String("mapping", "", "path to the world's mapping.json")
		chunk       = flag.String("chunk", "", "region-local chunk to decode, as x,z")
		verbose     = flag.Bool("v", false, "print every block change")
	)
	flag.Parse()

	if *regionPath == "" {
		fmt.Fprintln(os.Stderr, "usage: cisinspect -region r.X.Z.cis [-blocks blocks.json -mapping mapping.json -chunk x,z]")
		os.Exit(2)
	}

	if *chunk == "" {
		if err := listSlots(*regionPath); err != nil {
			fatal(err)
		}
		return
	}

	var localX, localZ int
	if _, err := fmt.Sscanf(*chunk, "%d,%d", &localX, &localZ); err != nil {
		fatal(fmt.Errorf("bad -chunk %q, want x,z: %w", *chunk, err))
	}

	payload, err := storage.ReadRegionPayload(*regionPath, localX, localZ)
	if err != nil {
		fatal(err)
	}

	if *blocksPath == "" || *mappingPath == "" {
		summarize(payload)
		return
	}

	if err := dumpChunk(payload, *blocksPath, *mappingPath, *verbose); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "cisinspect:", err)
	os.Exit(1)
}

func listSlots(path string) error {
	slots, err := storage.ReadRegionSlots(path)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d chunks\n", path, len(slots))
	for _, slot := range slots {
		fmt.Printf("  %-24s offset=%-8d index=%d\n", slot.String(), slot.Offset, slot.Index)
	}
	return nil
}

// summarize prints what can be read without block definitions: the header and
// the declared palette size.
func summarize(payload []byte) {
	fmt.Printf("payload: %d bytes\n", len(payload))
	if len(payload) < 12 {
		fmt.Println("too short for a CIS header")
		return
	}
	magic := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	version := uint32(payload[4])<<24 | uint32(payload[5])<<16 | uint32(payload[6])<<8 | uint32(payload[7])
	paletteSize := uint32(payload[8])<<24 | uint32(payload[9])<<16 | uint32(payload[10])<<8 | uint32(payload[11])
	fmt.Printf("magic: 0x%08X  version: %d  palette size: %d\n", magic, version, paletteSize)
	fmt.Println("pass -blocks and -mapping to decode the contents")
}

// inspectTable resolves the storage codec's registry IDs from a mapping.json
// snapshot without opening it for writing.
type inspectTable struct {
	packer  *codec.PropertyPacker[*blockdef.Block, blockdef.State, *blockdef.Property]
	idOf    map[*blockdef.Block]int
	blockOf map[int]*blockdef.Block
}

func loadInspectTable(mappingPath string, reg *blockdef.Registry,
	packer *codec.PropertyPacker[*blockdef.Block, blockdef.State, *blockdef.Property]) (*inspectTable, error) {

	raw, err := os.ReadFile(mappingPath)
	if err != nil {
		return nil, fmt.Errorf("read mapping table: %w", err)
	}
	var table map[string]int
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse mapping table %s: %w", mappingPath, err)
	}

	t := &inspectTable{
		packer:  packer,
		idOf:    make(map[*blockdef.Block]int, len(table)),
		blockOf: make(map[int]*blockdef.Block, len(table)),
	}
	for id, blockID := range table {
		block, ok := reg.Block(id)
		if !ok {
			continue
		}
		t.idOf[block] = blockID
		t.blockOf[blockID] = block
	}
	return t, nil
}

func (t *inspectTable) BlockID(state blockdef.State) int {
	return t.idOf[state.Block]
}

func (t *inspectTable) WriteStateProperties(w *bitpack.Writer, state blockdef.State) {
	t.packer.WriteProperties(w, state, t.packer.Metas(state.Block))
}

func (t *inspectTable) ReadStateProperties(r *bitpack.Reader, blockID int) (blockdef.State, error) {
	block, ok := t.blockOf[blockID]
	if !ok {
		return blockdef.State{}, fmt.Errorf("unknown block id %d (not in mapping or block definitions)", blockID)
	}
	return t.packer.ReadProperties(r, block, t.packer.Metas(block)), nil
}

func dumpChunk(payload []byte, blocksPath, mappingPath string, verbose bool) error {
	reg, err := blockdef.Load(blocksPath)
	if err != nil {
		return err
	}
	adapter := blockdef.NewAdapter()
	packer := codec.NewPropertyPacker[*blockdef.Block, blockdef.State, *blockdef.Property](adapter, reg)

	table, err := loadInspectTable(mappingPath, reg, packer)
	if err != nil {
		return err
	}

	dec := codec.NewDecoder[*blockdef.Block, blockdef.State, *blockdef.Property, []byte](
		adapter, table, blockdef.RawTagCodec{},
		adapter.DefaultState(reg.Air()),
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
	)

	ctx := codec.NewDecodeContext[blockdef.State]()
	d, err := dec.Decode(ctx, payload)
	if err != nil {
		return fmt.Errorf("decode chunk: %w", err)
	}

	fmt.Printf("block changes: %d\n", d.InstructionCount())
	fmt.Printf("block entities: %d\n", d.BlockEntityCount())
	fmt.Printf("entities: %d\n", len(d.Entities()))
	if ctx.SoftCorruptions > 0 {
		fmt.Printf("soft corruptions: %d cells substituted with air\n", ctx.SoftCorruptions)
	}

	fmt.Printf("palette: %d states\n", d.BlockPalette().Len())
	for i, state := range d.BlockPalette().All() {
		fmt.Printf("  [%d] %s\n", i, state)
	}

	perSection := make(map[int]int)
	d.ForEachInstruction(func(x, y, z int, state blockdef.State) {
		perSection[y>>4]++
	})
	sectionYs := make([]int, 0, len(perSection))
	for y := range perSection {
		sectionYs = append(sectionYs, y)
	}
	sort.Ints(sectionYs)
	for _, y := range sectionYs {
		fmt.Printf("section y=%d: %d cells\n", y, perSection[y])
	}

	if verbose {
		d.ForEachInstruction(func(x, y, z int, state blockdef.State) {
			fmt.Printf("  %2d %4d %2d  %s\n", x, y, z, state)
		})
		d.ForEachBlockEntity(func(x, y, z int, tag []byte) {
			fmt.Printf("  block entity %2d %4d %2d  %d bytes\n", x, y, z, len(tag))
		})
	}
	return nil
}
