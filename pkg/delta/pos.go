package delta

import "fmt"

// ChunkPos identifies one chunk-sized column of sections in the world grid.
type ChunkPos struct {
	X, Z int
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("[%d, %d]", p.X, p.Z)
}
