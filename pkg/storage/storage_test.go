package storage

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liparakis/chunkis/pkg/bitpack"
	"github.com/liparakis/chunkis/pkg/blockdef"
	"github.com/liparakis/chunkis/pkg/codec"
	"github.com/liparakis/chunkis/pkg/delta"
)

type storeEnv struct {
	dir     string
	reg     *blockdef.Registry
	adapter *blockdef.Adapter
	packer  *codec.PropertyPacker[*blockdef.Block, blockdef.State, *blockdef.Property]
	mapping *Mapping[*blockdef.Block, blockdef.State, *blockdef.Property]
	store   *Storage[*blockdef.Block, blockdef.State, *blockdef.Property, []byte]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *blockdef.Registry {
	t.Helper()
	reg, err := blockdef.NewRegistry([]blockdef.Definition{
		{ID: "minecraft:air", Air: true},
		{ID: "minecraft:stone"},
		{ID: "minecraft:dirt"},
		{ID: "minecraft:oak_log", Properties: []blockdef.PropertyDef{
			{Name: "axis", Values: []string{"x", "y", "z"}},
		}},
	})
	require.NoError(t, err)
	return reg
}

func newStoreEnv(t *testing.T) *storeEnv {
	t.Helper()

	dir := t.TempDir()
	reg := testRegistry(t)
	adapter := blockdef.NewAdapter()
	packer := codec.NewPropertyPacker[*blockdef.Block, blockdef.State, *blockdef.Property](adapter, reg)

	mapping, err := NewMapping(filepath.Join(dir, "mapping.json"), reg, adapter, packer, discardLogger())
	require.NoError(t, err)

	store, err := NewStorage(
		filepath.Join(dir, "region"),
		mapping,
		adapter,
		codec.TagCodec[[]byte](blockdef.RawTagCodec{}),
		adapter.DefaultState(reg.Air()),
		discardLogger(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &storeEnv{dir: dir, reg: reg, adapter: adapter, packer: packer, mapping: mapping, store: store}
}

func (e *storeEnv) state(t *testing.T, id string) blockdef.State {
	t.Helper()
	block, ok := e.reg.Block(id)
	require.True(t, ok)
	return e.adapter.DefaultState(block)
}

type cell struct {
	x, y, z int
	state   blockdef.State
}

func cellsOf(d *delta.ChunkDelta[blockdef.State, []byte]) map[cell]struct{} {
	out := make(map[cell]struct{})
	d.ForEachInstruction(func(x, y, z int, state blockdef.State) {
		out[cell{x, y, z, state}] = struct{}{}
	})
	return out
}

func TestSaveLoadRoundTrip(t *testing.T) {
	e := newStoreEnv(t)
	stone := e.state(t, "minecraft:stone")
	dirt := e.state(t, "minecraft:dirt")

	d := delta.NewChunkDelta[blockdef.State, []byte]()
	d.AddBlockChange(0, 64, 0, stone)
	d.AddBlockChange(1, 64, 0, dirt)
	d.AddBlockChange(15, -32, 15, stone)
	d.SetBlockEntity(0, 64, 0, []byte("chest"))
	d.SetEntities([][]byte{[]byte("cow")}, true)

	pos := delta.ChunkPos{X: 3, Z: -7}
	require.NoError(t, e.store.Save(pos, d))
	require.False(t, d.IsDirty())

	loaded := e.store.Load(pos)
	require.Equal(t, cellsOf(d), cellsOf(loaded))
	require.Equal(t, 1, loaded.BlockEntityCount())
	require.Len(t, loaded.Entities(), 1)
	require.False(t, loaded.IsDirty())

	// A position never saved loads as empty.
	require.True(t, e.store.Load(delta.ChunkPos{X: 100, Z: 100}).IsEmpty())
}

func TestSaveEmptyDeltaClearsChunk(t *testing.T) {
	e := newStoreEnv(t)
	pos := delta.ChunkPos{X: 0, Z: 0}

	d := delta.NewChunkDelta[blockdef.State, []byte]()
	d.AddBlockChange(5, 5, 5, e.state(t, "minecraft:stone"))
	require.NoError(t, e.store.Save(pos, d))
	require.False(t, e.store.Load(pos).IsEmpty())

	require.NoError(t, e.store.Save(pos, delta.NewChunkDelta[blockdef.State, []byte]()))
	require.True(t, e.store.Load(pos).IsEmpty())
}

func TestLoadSurvivesCorruptedPayload(t *testing.T) {
	e := newStoreEnv(t)
	stone := e.state(t, "minecraft:stone")

	good := delta.ChunkPos{X: 0, Z: 0}
	bad := delta.ChunkPos{X: 1, Z: 0} // same region file

	d := delta.NewChunkDelta[blockdef.State, []byte]()
	d.AddBlockChange(1, 1, 1, stone)
	require.NoError(t, e.store.Save(good, d))

	region, err := e.store.regionFor(bad, true)
	require.NoError(t, err)
	require.NoError(t, region.write(bad, []byte("not a zlib stream")))

	// The corrupted slot reads back empty and is cleared.
	require.True(t, e.store.Load(bad).IsEmpty())
	data, err := region.read(bad)
	require.NoError(t, err)
	require.Nil(t, data)

	// The neighbor in the same region is untouched.
	require.Equal(t, cellsOf(d), cellsOf(e.store.Load(good)))
}

func TestStorageSurvivesReopen(t *testing.T) {
	e := newStoreEnv(t)
	stone := e.state(t, "minecraft:stone")

	logBlock, _ := e.reg.Block("minecraft:oak_log")
	logZ := e.adapter.WithValue(e.adapter.DefaultState(logBlock), logBlock.Props[0], 2)

	pos := delta.ChunkPos{X: -5, Z: 12}
	d := delta.NewChunkDelta[blockdef.State, []byte]()
	d.AddBlockChange(2, 10, 2, stone)
	d.AddBlockChange(3, 10, 2, logZ)
	require.NoError(t, e.store.Save(pos, d))
	require.NoError(t, e.store.Close())

	// A new process: fresh mapping and storage over the same directory.
	mapping, err := NewMapping(filepath.Join(e.dir, "mapping.json"), e.reg, e.adapter, e.packer, discardLogger())
	require.NoError(t, err)
	store, err := NewStorage(
		filepath.Join(e.dir, "region"),
		mapping,
		e.adapter,
		codec.TagCodec[[]byte](blockdef.RawTagCodec{}),
		e.adapter.DefaultState(e.reg.Air()),
		discardLogger(),
	)
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, cellsOf(d), cellsOf(store.Load(pos)))
}

func TestMappingAssignsStableIDs(t *testing.T) {
	e := newStoreEnv(t)
	stone := e.state(t, "minecraft:stone")
	dirt := e.state(t, "minecraft:dirt")

	stoneID := e.mapping.BlockID(stone)
	dirtID := e.mapping.BlockID(dirt)
	require.NotEqual(t, stoneID, dirtID)
	require.Equal(t, stoneID, e.mapping.BlockID(stone))
	require.NoError(t, e.mapping.Flush())

	// Air was assigned at construction.
	airID := e.mapping.BlockID(e.adapter.DefaultState(e.reg.Air()))
	require.Equal(t, 0, airID)

	reopened, err := NewMapping(filepath.Join(e.dir, "mapping.json"), e.reg, e.adapter, e.packer, discardLogger())
	require.NoError(t, err)
	require.Equal(t, stoneID, reopened.BlockID(stone))
	require.Equal(t, dirtID, reopened.BlockID(dirt))
}

func TestMappingReservesUnresolvableIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"minecraft:air":0,"modded:gone":1,"minecraft:stone":2}`), 0o644))

	reg := testRegistry(t)
	adapter := blockdef.NewAdapter()
	packer := codec.NewPropertyPacker[*blockdef.Block, blockdef.State, *blockdef.Property](adapter, reg)

	mapping, err := NewMapping(path, reg, adapter, packer, discardLogger())
	require.NoError(t, err)

	stone, _ := reg.Block("minecraft:stone")
	require.Equal(t, 2, mapping.BlockID(adapter.DefaultState(stone)))

	// ID 1 stays reserved: the next new block gets 3, not 1.
	dirt, _ := reg.Block("minecraft:dirt")
	require.Equal(t, 3, mapping.BlockID(adapter.DefaultState(dirt)))

	// Reading the unresolvable ID is a hard error.
	var r bitpack.Reader
	_, err = mapping.ReadStateProperties(&r, 1)
	require.Error(t, err)
}

func TestMappingConcurrentAssignment(t *testing.T) {
	e := newStoreEnv(t)
	blocks := e.reg.Blocks()

	var wg sync.WaitGroup
	ids := make([][]int, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ids[g] = make([]int, len(blocks))
			for i, block := range blocks {
				ids[g][i] = e.mapping.BlockID(e.adapter.DefaultState(block))
			}
		}(g)
	}
	wg.Wait()

	for g := 1; g < 8; g++ {
		require.Equal(t, ids[0], ids[g])
	}

	seen := make(map[int]struct{})
	for _, id := range ids[0] {
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestRegionFileSlotReuse(t *testing.T) {
	dir := t.TempDir()
	key := regionKey{x: 0, z: 0}
	region, err := openRegionFile(dir, key)
	require.NoError(t, err)
	defer region.close()

	pos := delta.ChunkPos{X: 4, Z: 9}
	index := chunkIndex(pos)

	require.NoError(t, region.write(pos, make([]byte, 100)))
	firstOffset := region.offsets[index]
	require.Equal(t, int32(regionHeaderSize), firstOffset)

	// A smaller payload reuses the slot.
	require.NoError(t, region.write(pos, make([]byte, 40)))
	require.Equal(t, firstOffset, region.offsets[index])
	require.Equal(t, int32(40), region.lengths[index])

	// A bigger one is appended.
	require.NoError(t, region.write(pos, make([]byte, 300)))
	require.Greater(t, region.offsets[index], firstOffset)

	data, err := region.read(pos)
	require.NoError(t, err)
	require.Len(t, data, 300)

	// nil clears the slot.
	require.NoError(t, region.write(pos, nil))
	data, err = region.read(pos)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestRegionFileHeaderSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	key := regionKey{x: -2, z: 3}
	region, err := openRegionFile(dir, key)
	require.NoError(t, err)

	pos := delta.ChunkPos{X: -64 + 7, Z: 96 + 11}
	payload := []byte("chunk payload bytes")
	require.NoError(t, region.write(pos, payload))
	require.NoError(t, region.close())

	region, err = openRegionFile(dir, key)
	require.NoError(t, err)
	defer region.close()

	data, err := region.read(pos)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestRegionFileCompact(t *testing.T) {
	dir := t.TempDir()
	region, err := openRegionFile(dir, regionKey{x: 0, z: 0})
	require.NoError(t, err)
	defer region.close()

	a := delta.ChunkPos{X: 0, Z: 0}
	b := delta.ChunkPos{X: 1, Z: 0}
	c := delta.ChunkPos{X: 2, Z: 0}

	require.NoError(t, region.write(a, make([]byte, 100)))
	require.NoError(t, region.write(b, []byte("keep me around")))
	require.NoError(t, region.write(c, make([]byte, 50)))

	// Relocate a's payload, leaving a 100-byte hole, then drop c.
	require.NoError(t, region.write(a, make([]byte, 200)))
	require.NoError(t, region.write(c, nil))

	require.NoError(t, region.compact())

	info, err := os.Stat(region.path)
	require.NoError(t, err)
	require.Equal(t, int64(regionHeaderSize+200+len("keep me around")), info.Size())

	data, err := region.read(b)
	require.NoError(t, err)
	require.Equal(t, []byte("keep me around"), data)

	data, err = region.read(a)
	require.NoError(t, err)
	require.Len(t, data, 200)

	data, err = region.read(c)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestCompressRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("short"),
		make([]byte, 100_000),
	}
	for _, payload := range payloads {
		compressed, err := compress(payload)
		require.NoError(t, err)
		raw, err := decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, len(payload), len(raw))
		require.Equal(t, payload, []byte(raw))
	}

	_, err := decompress([]byte("definitely not zlib"))
	require.Error(t, err)
}

func TestRegionKeyMapping(t *testing.T) {
	require.Equal(t, regionKey{x: 0, z: 0}, regionKeyFor(delta.ChunkPos{X: 31, Z: 31}))
	require.Equal(t, regionKey{x: 1, z: 0}, regionKeyFor(delta.ChunkPos{X: 32, Z: 0}))
	require.Equal(t, regionKey{x: -1, z: -1}, regionKeyFor(delta.ChunkPos{X: -1, Z: -1}))
	require.Equal(t, "r.-1.-1.cis", regionKey{x: -1, z: -1}.fileName())

	require.Equal(t, 0, chunkIndex(delta.ChunkPos{X: 0, Z: 0}))
	require.Equal(t, 31+31*32, chunkIndex(delta.ChunkPos{X: -1, Z: -1}))
	require.Equal(t, chunkIndex(delta.ChunkPos{X: 5, Z: 9}), chunkIndex(delta.ChunkPos{X: 37, Z: 41}))
}
