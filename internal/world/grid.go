package world

import "sort"

// DefaultCellSize is the chunk edge length in world units.
const DefaultCellSize = 16

// DefaultViewRadius is the chunk radius used for visibility queries (3×3 window).
const DefaultViewRadius = 1

// ChunkCoord identifies one chunk of the grid.
type ChunkCoord struct {
	X, Y int
}

// Grid is a chunked area-of-interest index.
//
// It keeps two maps in lock-step: entity → chunk and chunk → entity set.
// After every call each tracked id is in exactly one chunk set and no chunk
// set is empty.
//
// Grid is not safe for concurrent use; the owner serializes access.
type Grid struct {
	cellSize        int
	entityToChunk   map[string]ChunkCoord
	chunkToEntities map[ChunkCoord]map[string]struct{}
}

// NewGrid creates an empty grid. cellSize <= 0 falls back to DefaultCellSize.
func NewGrid(cellSize int) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Grid{
		cellSize:        cellSize,
		entityToChunk:   make(map[string]ChunkCoord, 256),
		chunkToEntities: make(map[ChunkCoord]map[string]struct{}, 64),
	}
}

// CellSize returns chunk edge length.
func (g *Grid) CellSize() int {
	return g.cellSize
}

// ChunkOf converts a world position to its chunk (floor division).
func (g *Grid) ChunkOf(x, y int) ChunkCoord {
	return ChunkCoord{X: floorDiv(x, g.cellSize), Y: floorDiv(y, g.cellSize)}
}

// AddOrMove indexes e at its current position.
func (g *Grid) AddOrMove(e Entity) {
	g.SetEntityCell(e.ID, e.X, e.Y)
}

// SetEntityCell places id in the chunk containing (x, y).
// Repeated calls with a position in the same chunk are no-ops.
func (g *Grid) SetEntityCell(id string, x, y int) {
	next := g.ChunkOf(x, y)
	prev, tracked := g.entityToChunk[id]
	if tracked && prev == next {
		return
	}
	if tracked {
		g.detach(id, prev)
	}

	g.entityToChunk[id] = next
	set, ok := g.chunkToEntities[next]
	if !ok {
		set = make(map[string]struct{}, 4)
		g.chunkToEntities[next] = set
	}
	set[id] = struct{}{}
}

// Remove drops id from the index. Unknown ids are ignored.
func (g *Grid) Remove(id string) {
	chunk, ok := g.entityToChunk[id]
	if !ok {
		return
	}
	delete(g.entityToChunk, id)
	g.detach(id, chunk)
}

// detach removes id from chunk's set and prunes the set if it empties.
func (g *Grid) detach(id string, chunk ChunkCoord) {
	set, ok := g.chunkToEntities[chunk]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(g.chunkToEntities, chunk)
	}
}

// VisibleIDs returns the union of ids across the (2·radius+1)² chunks centered
// on the chunk containing (x, y). Result is sorted.
func (g *Grid) VisibleIDs(x, y, radius int) []string {
	if radius < 0 {
		radius = 0
	}
	center := g.ChunkOf(x, y)

	ids := make([]string, 0, 16)
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			set := g.chunkToEntities[ChunkCoord{X: center.X + dx, Y: center.Y + dy}]
			for id := range set {
				ids = append(ids, id)
			}
		}
	}

	// Chunks are disjoint, so no dedup is needed.
	sort.Strings(ids)
	return ids
}

// NeighborCells returns the chunk coordinates of the (2·radius+1)² window around (x, y).
func (g *Grid) NeighborCells(x, y, radius int) []ChunkCoord {
	if radius < 0 {
		radius = 0
	}
	center := g.ChunkOf(x, y)
	side := 2*radius + 1
	cells := make([]ChunkCoord, 0, side*side)
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			cells = append(cells, ChunkCoord{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return cells
}

// EntityChunk returns the chunk id is indexed under.
func (g *Grid) EntityChunk(id string) (ChunkCoord, bool) {
	c, ok := g.entityToChunk[id]
	return c, ok
}

// ChunkEntities returns a sorted copy of the ids in chunk c.
func (g *Grid) ChunkEntities(c ChunkCoord) []string {
	set := g.chunkToEntities[c]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked entities.
func (g *Grid) Len() int {
	return len(g.entityToChunk)
}

// ChunkCount returns the number of non-empty chunks.
func (g *Grid) ChunkCount() int {
	return len(g.chunkToEntities)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
