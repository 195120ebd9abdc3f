// Package storage persists chunk deltas in region files: 32x32 chunk columns
// per file, zlib-compressed payloads, and a world-global identifier table
// mapping block identifiers to the 16-bit registry IDs the storage codec
// writes.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/liparakis/chunkis/pkg/bitpack"
	"github.com/liparakis/chunkis/pkg/codec"
)

// Mapping assigns stable integer IDs to blocks and persists the table as a
// JSON object of identifier to ID. IDs are never reused; a block keeps its ID
// for the lifetime of the world. Safe for concurrent use.
//
// Mapping implements codec.StateCodec, so it plugs straight into the storage
// encoder and decoder.
type Mapping[B, S comparable, P any] struct {
	path     string
	states   codec.BlockStateAdapter[B, S, P]
	registry codec.BlockRegistryAdapter[B]
	packer   *codec.PropertyPacker[B, S, P]
	log      *slog.Logger

	mu      sync.RWMutex
	idOf    map[B]int
	blockOf map[int]B
	nextID  int

	// flushMu serializes disk writes; savedCount is the table size already
	// on disk, so clean flushes are free.
	flushMu    sync.Mutex
	savedCount int
}

// NewMapping opens the mapping table at path, loading any existing entries.
// Identifiers that the registry can no longer resolve are skipped but their
// IDs stay reserved. The air block is always mapped; a fresh table is flushed
// immediately so the file exists before the first chunk is written.
func NewMapping[B, S comparable, P any](
	path string,
	registry codec.BlockRegistryAdapter[B],
	states codec.BlockStateAdapter[B, S, P],
	packer *codec.PropertyPacker[B, S, P],
	logger *slog.Logger,
) (*Mapping[B, S, P], error) {
	m := &Mapping[B, S, P]{
		path:     path,
		states:   states,
		registry: registry,
		packer:   packer,
		log:      logger,
		idOf:     make(map[B]int, 256),
		blockOf:  make(map[int]B, 256),
	}

	if _, err := os.Stat(path); err == nil {
		if err := m.load(); err != nil {
			return nil, err
		}
	}

	if err := m.ensureAirMapped(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mapping[B, S, P]) load() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read mapping table: %w", err)
	}

	var table map[string]int
	if err := json.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("parse mapping table %s: %w", m.path, err)
	}

	skipped := 0
	for id, blockID := range table {
		if blockID >= m.nextID {
			m.nextID = blockID + 1
		}

		block, ok := m.registry.Block(id)
		if !ok {
			// The provider of this block is gone. Its ID stays
			// reserved for this run so it is never handed to
			// another block.
			m.log.Warn("mapping entry no longer resolvable, reserving id", "identifier", id, "id", blockID)
			skipped++
			continue
		}

		m.idOf[block] = blockID
		m.blockOf[blockID] = block
	}

	// A table with dropped entries is stale on disk; leave savedCount at
	// zero so the next flush rewrites it.
	if skipped == 0 {
		m.savedCount = len(m.idOf)
	}
	return nil
}

func (m *Mapping[B, S, P]) ensureAirMapped() error {
	air := m.registry.Air()
	if _, ok := m.idOf[air]; ok {
		return nil
	}

	id := m.nextID
	m.nextID++
	m.idOf[air] = id
	m.blockOf[id] = air
	return m.Flush()
}

// BlockID returns the persistent ID for the state's block, assigning the next
// free ID on first sight.
func (m *Mapping[B, S, P]) BlockID(state S) int {
	block := m.states.Block(state)

	m.mu.RLock()
	id, ok := m.idOf[block]
	m.mu.RUnlock()
	if ok {
		return id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok = m.idOf[block]; ok {
		return id
	}

	id = m.nextID
	m.nextID++
	m.idOf[block] = id
	m.blockOf[id] = block
	return id
}

// WriteStateProperties appends the state's property values to the bit stream.
func (m *Mapping[B, S, P]) WriteStateProperties(w *bitpack.Writer, state S) {
	block := m.states.Block(state)
	m.packer.WriteProperties(w, state, m.packer.Metas(block))
}

// ReadStateProperties rebuilds a state from the bit stream. An unmapped block
// ID is a hard error: the property stream carries no framing, so decoding
// cannot continue past it.
func (m *Mapping[B, S, P]) ReadStateProperties(r *bitpack.Reader, blockID int) (S, error) {
	m.mu.RLock()
	block, ok := m.blockOf[blockID]
	m.mu.RUnlock()

	if !ok {
		var zero S
		return zero, fmt.Errorf("unknown block id %d, stream desync", blockID)
	}
	return m.packer.ReadProperties(r, block, m.packer.Metas(block)), nil
}

// Len returns the number of resolvable mapped blocks.
func (m *Mapping[B, S, P]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idOf)
}

// Flush writes the table to disk if it grew since the last flush. The file is
// replaced atomically so a crash never leaves a half-written table.
func (m *Mapping[B, S, P]) Flush() error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.RLock()
	if len(m.idOf) <= m.savedCount {
		m.mu.RUnlock()
		return nil
	}
	table := make(map[string]int, len(m.idOf))
	for block, id := range m.idOf {
		table[m.registry.ID(block)] = id
	}
	m.mu.RUnlock()

	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("serialize mapping table: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write mapping table: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace mapping table: %w", err)
	}

	m.savedCount = len(table)
	return nil
}
