package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/liparakis/chunkis/pkg/delta"
)

const (
	regionShift     = 5
	regionMask      = 31
	chunksPerRegion = 1024

	// The header holds one (offset, length) int32 pair per chunk slot.
	headerEntrySize  = 8
	regionHeaderSize = chunksPerRegion * headerEntrySize
)

// regionKey addresses one region file: a 32x32 block of chunk columns.
type regionKey struct {
	x, z int
}

func regionKeyFor(pos delta.ChunkPos) regionKey {
	return regionKey{x: pos.X >> regionShift, z: pos.Z >> regionShift}
}

func (k regionKey) fileName() string {
	return fmt.Sprintf("r.%d.%d.cis", k.x, k.z)
}

func (k regionKey) String() string {
	return fmt.Sprintf("r.%d.%d", k.x, k.z)
}

// regionFile reads and writes chunk payloads within one region file. Writes
// reuse a chunk's existing slot when the new payload fits, otherwise they
// append; compact reclaims the abandoned space. Offset zero marks an absent
// chunk, which is unambiguous because the header occupies offset zero.
type regionFile struct {
	mu   sync.Mutex
	path string
	f    *os.File

	offsets [chunksPerRegion]int32
	lengths [chunksPerRegion]int32
	dirty   bool
}

func openRegionFile(dir string, key regionKey) (*regionFile, error) {
	path := filepath.Join(dir, key.fileName())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open region %s: %w", key, err)
	}

	r := &regionFile{path: path, f: f}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat region %s: %w", key, err)
	}

	if info.Size() < regionHeaderSize {
		if _, err := f.WriteAt(make([]byte, regionHeaderSize), 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("initialize region %s: %w", key, err)
		}
	} else if err := r.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *regionFile) loadHeader() error {
	header := make([]byte, regionHeaderSize)
	if _, err := r.f.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read region header %s: %w", r.path, err)
	}
	for i := 0; i < chunksPerRegion; i++ {
		r.offsets[i] = int32(binary.BigEndian.Uint32(header[i*headerEntrySize:]))
		r.lengths[i] = int32(binary.BigEndian.Uint32(header[i*headerEntrySize+4:]))
	}
	return nil
}

func chunkIndex(pos delta.ChunkPos) int {
	return (pos.X & regionMask) + (pos.Z & regionMask)*32
}

// read returns the stored payload for the chunk, or nil if the slot is empty.
func (r *regionFile) read(pos delta.ChunkPos) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := chunkIndex(pos)
	if r.offsets[index] == 0 {
		return nil, nil
	}

	buf := make([]byte, r.lengths[index])
	if _, err := r.f.ReadAt(buf, int64(r.offsets[index])); err != nil {
		return nil, fmt.Errorf("read chunk %s in %s: %w", pos, r.path, err)
	}
	return buf, nil
}

// write stores the payload for the chunk; nil or empty clears the slot.
func (r *regionFile) write(pos delta.ChunkPos, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := chunkIndex(pos)

	offset, err := r.writeOffset(index, len(data))
	if err != nil {
		return err
	}

	if len(data) > 0 {
		if _, err := r.f.WriteAt(data, int64(offset)); err != nil {
			return fmt.Errorf("write chunk %s in %s: %w", pos, r.path, err)
		}
	}

	if err := r.updateHeader(index, offset, int32(len(data))); err != nil {
		return err
	}
	r.dirty = true
	return nil
}

// writeOffset reuses the chunk's current slot when the payload fits,
// otherwise appends at the end of the file.
func (r *regionFile) writeOffset(index, dataLen int) (int64, error) {
	if r.offsets[index] != 0 && int32(dataLen) <= r.lengths[index] {
		return int64(r.offsets[index]), nil
	}
	info, err := r.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat region %s: %w", r.path, err)
	}
	return info.Size(), nil
}

func (r *regionFile) updateHeader(index int, offset int64, length int32) error {
	if length == 0 {
		offset = 0
	}
	r.offsets[index] = int32(offset)
	r.lengths[index] = length

	var entry [headerEntrySize]byte
	binary.BigEndian.PutUint32(entry[:], uint32(r.offsets[index]))
	binary.BigEndian.PutUint32(entry[4:], uint32(length))

	if _, err := r.f.WriteAt(entry[:], int64(index*headerEntrySize)); err != nil {
		return fmt.Errorf("update region header %s: %w", r.path, err)
	}
	return nil
}

func (r *regionFile) sync() error {
	if !r.dirty {
		return nil
	}
	if err := r.f.Sync(); err != nil {
		return fmt.Errorf("sync region %s: %w", r.path, err)
	}
	r.dirty = false
	return nil
}

// compact rewrites the file with all live payloads contiguous after the
// header, dropping the holes left by relocated writes. The rewrite goes
// through a temp file swapped in by rename, so an interrupted compaction
// leaves the original intact. Slots whose payload cannot be read back are
// cleared rather than carried over.
func (r *regionFile) compact() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sync(); err != nil {
		return err
	}

	tmpPath := r.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create compaction file for %s: %w", r.path, err)
	}

	header := make([]byte, regionHeaderSize)
	var newOffsets, newLengths [chunksPerRegion]int32
	offset := int64(regionHeaderSize)

	for i := 0; i < chunksPerRegion; i++ {
		if r.offsets[i] == 0 || r.lengths[i] <= 0 {
			continue
		}
		buf := make([]byte, r.lengths[i])
		if _, err := r.f.ReadAt(buf, int64(r.offsets[i])); err != nil {
			continue
		}
		if _, err := tmp.WriteAt(buf, offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write compaction file for %s: %w", r.path, err)
		}

		newOffsets[i] = int32(offset)
		newLengths[i] = r.lengths[i]
		binary.BigEndian.PutUint32(header[i*headerEntrySize:], uint32(offset))
		binary.BigEndian.PutUint32(header[i*headerEntrySize+4:], uint32(r.lengths[i]))
		offset += int64(r.lengths[i])
	}

	if _, err := tmp.WriteAt(header, 0); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write compacted header for %s: %w", r.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync compaction file for %s: %w", r.path, err)
	}
	tmp.Close()

	r.f.Close()
	if err := os.Rename(tmpPath, r.path); err != nil {
		// The original is gone from under us; reopen whatever is there.
		reopenErr := r.reopen()
		if reopenErr != nil {
			return fmt.Errorf("swap compacted region %s: %w (reopen also failed: %v)", r.path, err, reopenErr)
		}
		return fmt.Errorf("swap compacted region %s: %w", r.path, err)
	}

	if err := r.reopen(); err != nil {
		return err
	}
	r.offsets = newOffsets
	r.lengths = newLengths
	return nil
}

func (r *regionFile) reopen() error {
	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("reopen region %s: %w", r.path, err)
	}
	r.f = f
	return nil
}

func (r *regionFile) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	syncErr := r.sync()
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close region %s: %w", r.path, err)
	}
	return syncErr
}
