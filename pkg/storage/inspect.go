package storage

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/liparakis/chunkis/pkg/delta"
)

// RegionSlot describes one occupied chunk slot in a region file.
type RegionSlot struct {
	Index  int
	LocalX int
	LocalZ int
	Offset int32
	Length int32
}

func (s RegionSlot) String() string {
	return fmt.Sprintf("chunk [%d, %d] (%d bytes)", s.LocalX, s.LocalZ, s.Length)
}

// ReadRegionSlots reads a region file's header and returns its occupied
// slots. The file is opened read-only; nothing is modified.
func ReadRegionSlots(path string) ([]RegionSlot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region file: %w", err)
	}
	if len(raw) < regionHeaderSize {
		return nil, fmt.Errorf("region file %s too small for header: %d bytes", path, len(raw))
	}

	var slots []RegionSlot
	for i := 0; i < chunksPerRegion; i++ {
		offset := int32(binary.BigEndian.Uint32(raw[i*headerEntrySize:]))
		length := int32(binary.BigEndian.Uint32(raw[i*headerEntrySize+4:]))
		if offset == 0 || length <= 0 {
			continue
		}
		slots = append(slots, RegionSlot{
			Index:  i,
			LocalX: i % 32,
			LocalZ: i / 32,
			Offset: offset,
			Length: length,
		})
	}
	return slots, nil
}

// ReadRegionPayload reads and decompresses the payload for the chunk at the
// region-local coordinates, returning the raw CIS bytes.
func ReadRegionPayload(path string, localX, localZ int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region file: %w", err)
	}
	if len(raw) < regionHeaderSize {
		return nil, fmt.Errorf("region file %s too small for header: %d bytes", path, len(raw))
	}

	if localX < 0 || localX > regionMask || localZ < 0 || localZ > regionMask {
		return nil, fmt.Errorf("local chunk coordinates [%d, %d] out of range", localX, localZ)
	}
	index := chunkIndex(delta.ChunkPos{X: localX, Z: localZ})

	offset := int(int32(binary.BigEndian.Uint32(raw[index*headerEntrySize:])))
	length := int(int32(binary.BigEndian.Uint32(raw[index*headerEntrySize+4:])))
	if offset == 0 || length <= 0 {
		return nil, fmt.Errorf("no chunk stored at [%d, %d]", localX, localZ)
	}
	if offset+length > len(raw) {
		return nil, fmt.Errorf("chunk at [%d, %d] extends beyond file: offset=%d length=%d", localX, localZ, offset, length)
	}

	return decompress(raw[offset : offset+length])
}
