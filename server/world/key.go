package world

import (
	"fmt"
	"regexp"
	"strconv"
)

// ChunkKey identifies a chunk globally: a chunk position bound to a layer.
type ChunkKey struct {
	Layer string
	Pos   ChunkPos
}

// String returns the canonical string form "<layer>:<x>,<y>,<z>". The form
// round-trips bit-exactly through ParseChunkKey.
func (k ChunkKey) String() string {
	return fmt.Sprintf("%s:%d,%d,%d", k.Layer, k.Pos[0], k.Pos[1], k.Pos[2])
}

// chunkKeyPattern governs parsing of the canonical string form.
var chunkKeyPattern = regexp.MustCompile(`^([^:]+):(-?\d+),(-?\d+),(-?\d+)$`)

// ParseChunkKey parses the canonical string form of a ChunkKey.
func ParseChunkKey(s string) (ChunkKey, error) {
	m := chunkKeyPattern.FindStringSubmatch(s)
	if m == nil {
		return ChunkKey{}, fmt.Errorf("world: malformed chunk key %q", s)
	}
	x, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])
	z, _ := strconv.Atoi(m[4])
	return ChunkKey{Layer: m[1], Pos: ChunkPos{x, y, z}}, nil
}
