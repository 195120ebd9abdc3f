package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/liparakis/chunkis/pkg/codec"
	"github.com/liparakis/chunkis/pkg/delta"
)

// maxCachedRegions bounds how many region files stay open at once. The oldest
// opened region is compacted and closed when the cache is full.
const maxCachedRegions = 64

// Storage persists chunk deltas in region files under a single directory.
// Payloads go through the storage codec and zlib. Safe for concurrent use;
// per-chunk operations on distinct regions proceed in parallel.
type Storage[B, S comparable, P, N any] struct {
	dir     string
	mapping *Mapping[B, S, P]
	enc     *codec.Encoder[B, S, P, N]
	dec     *codec.Decoder[B, S, P, N]
	log     *slog.Logger

	encCtxs sync.Pool
	decCtxs sync.Pool

	// Region cache in open order; eviction closes the oldest.
	cacheMu sync.RWMutex
	cache   map[regionKey]*regionFile
	order   []regionKey
}

// NewStorage opens (creating if needed) the region directory. air is the
// background state the codec writes as palette index zero.
func NewStorage[B, S comparable, P, N any](
	dir string,
	mapping *Mapping[B, S, P],
	states codec.BlockStateAdapter[B, S, P],
	tags codec.TagCodec[N],
	air S,
	logger *slog.Logger,
) (*Storage[B, S, P, N], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create region directory: %w", err)
	}

	return &Storage[B, S, P, N]{
		dir:     dir,
		mapping: mapping,
		enc:     codec.NewEncoder[B, S, P, N](states, mapping, tags, air),
		dec:     codec.NewDecoder[B, S, P, N](states, mapping, tags, air, logger),
		log:     logger,
		encCtxs: sync.Pool{New: func() any { return codec.NewEncodeContext[S]() }},
		decCtxs: sync.Pool{New: func() any { return codec.NewDecodeContext[S]() }},
		cache:   make(map[regionKey]*regionFile, maxCachedRegions),
	}, nil
}

// Save persists the delta for the chunk position and clears its dirty flag.
// An empty delta clears the chunk's slot instead.
func (s *Storage[B, S, P, N]) Save(pos delta.ChunkPos, d *delta.ChunkDelta[S, N]) error {
	if d.IsEmpty() {
		s.Clear(pos)
		d.MarkSaved()
		return nil
	}

	ctx := s.encCtxs.Get().(*codec.EncodeContext[S])
	raw, err := s.enc.Encode(ctx, d)
	s.encCtxs.Put(ctx)
	if err != nil {
		return fmt.Errorf("encode chunk %s: %w", pos, err)
	}

	// The mapping must reach disk before data referencing fresh IDs does,
	// or a crash leaves chunks that can never be decoded again.
	if err := s.mapping.Flush(); err != nil {
		return fmt.Errorf("flush mapping before chunk %s: %w", pos, err)
	}

	compressed, err := compress(raw)
	if err != nil {
		return fmt.Errorf("compress chunk %s: %w", pos, err)
	}

	region, err := s.regionFor(pos, true)
	if err != nil {
		return err
	}
	if err := region.write(pos, compressed); err != nil {
		return err
	}

	d.MarkSaved()
	return nil
}

// Load returns the delta stored for the chunk position, or an empty delta if
// none exists. Corrupted slots are logged, cleared, and reported as empty;
// a damaged chunk never takes the world down with it.
func (s *Storage[B, S, P, N]) Load(pos delta.ChunkPos) *delta.ChunkDelta[S, N] {
	region, err := s.regionFor(pos, false)
	if err != nil {
		s.log.Error("failed to open region for chunk", "pos", pos.String(), "error", err)
		return delta.NewChunkDelta[S, N]()
	}
	if region == nil {
		return delta.NewChunkDelta[S, N]()
	}

	compressed, err := region.read(pos)
	if err != nil {
		s.log.Error("failed to read chunk", "pos", pos.String(), "error", err)
		return delta.NewChunkDelta[S, N]()
	}
	if compressed == nil {
		return delta.NewChunkDelta[S, N]()
	}

	raw, err := decompress(compressed)
	if err != nil {
		s.log.Error("corrupted chunk payload, clearing", "pos", pos.String(), "error", err)
		s.Clear(pos)
		return delta.NewChunkDelta[S, N]()
	}
	if len(raw) < 8 {
		s.log.Warn("chunk payload too small, clearing",
			"pos", pos.String(), "bytes", len(raw), "compressed", len(compressed))
		s.Clear(pos)
		return delta.NewChunkDelta[S, N]()
	}

	ctx := s.decCtxs.Get().(*codec.DecodeContext[S])
	d, err := s.dec.Decode(ctx, raw)
	if soft := ctx.SoftCorruptions; soft > 0 {
		s.log.Warn("chunk decoded with substituted cells", "pos", pos.String(), "cells", soft)
		ctx.ResetDiagnostics()
	}
	s.decCtxs.Put(ctx)
	if err != nil {
		s.log.Error("failed to decode chunk, clearing", "pos", pos.String(), "error", err)
		s.Clear(pos)
		return delta.NewChunkDelta[S, N]()
	}
	return d
}

// Clear removes the chunk's payload from its region file, if present.
func (s *Storage[B, S, P, N]) Clear(pos delta.ChunkPos) {
	region, err := s.regionFor(pos, false)
	if err != nil || region == nil {
		return
	}
	if err := region.write(pos, nil); err != nil {
		s.log.Warn("failed to clear chunk", "pos", pos.String(), "error", err)
	}
}

// Close compacts and closes every cached region file.
func (s *Storage[B, S, P, N]) Close() error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	var firstErr error
	for _, key := range s.order {
		region := s.cache[key]
		if err := region.compact(); err != nil {
			s.log.Warn("failed to compact region on close", "region", key.String(), "error", err)
		}
		if err := region.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.cache = make(map[regionKey]*regionFile, maxCachedRegions)
	s.order = s.order[:0]
	return firstErr
}

// regionFor returns the cached region file for the chunk position, opening it
// if needed. With create false, a region whose file does not exist yet yields
// nil without creating anything.
func (s *Storage[B, S, P, N]) regionFor(pos delta.ChunkPos, create bool) (*regionFile, error) {
	key := regionKeyFor(pos)

	s.cacheMu.RLock()
	region, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok {
		return region, nil
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if region, ok = s.cache[key]; ok {
		return region, nil
	}

	if !create {
		if _, err := os.Stat(filepath.Join(s.dir, key.fileName())); err != nil {
			return nil, nil
		}
	}

	if len(s.cache) >= maxCachedRegions {
		s.evictOldest()
	}

	region, err := openRegionFile(s.dir, key)
	if err != nil {
		return nil, err
	}
	s.cache[key] = region
	s.order = append(s.order, key)
	return region, nil
}

// evictOldest closes the longest-open region. Callers hold the cache write
// lock.
func (s *Storage[B, S, P, N]) evictOldest() {
	key := s.order[0]
	s.order = s.order[1:]

	region := s.cache[key]
	delete(s.cache, key)

	if err := region.compact(); err != nil {
		s.log.Warn("failed to compact region on eviction", "region", key.String(), "error", err)
	}
	if err := region.close(); err != nil {
		s.log.Warn("failed to close evicted region", "region", key.String(), "error", err)
	}
}
