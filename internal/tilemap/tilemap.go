// Package tilemap loads static tile maps and answers collision queries.
//
// A MapData is immutable after Load and safe for concurrent reads.
package tilemap

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/leozinhoszg/zerion/internal/protocol"
)

// ErrInvalidMap is returned for structurally broken map sources.
var ErrInvalidMap = errors.New("invalid map")

// Tiled property and layer names the loader understands.
const (
	LayerTypeTiles   = "tilelayer"
	LayerTypeObjects = "objectgroup"

	PropCollision = "collision"
	PropSolid     = "solid"

	SpawnLayer  = "spawns"
	SpawnObject = "player_spawn"
)

// gidFlagsMask strips Tiled's flip/rotation bits from a global tile id.
const gidFlagsMask = 0x1FFFFFFF

// versionLen is the number of hex chars kept from the content hash.
const versionLen = 8

// Point is a pixel position.
type Point struct {
	X, Y int
}

// MapData is the dense solidity grid of one map.
type MapData struct {
	ID      string
	Version string
	Width   int // tiles
	Height  int // tiles
	TileW   int // pixels
	TileH   int // pixels
	Spawn   Point

	solids []bool // row-major, len = Width*Height
}

// New builds a MapData from an explicit solidity grid (solids[y][x]).
// Used by tests and tools that don't go through the Tiled format.
func New(id string, width, height, tileW, tileH int, solids [][]bool, spawn Point) (*MapData, error) {
	if width <= 0 || height <= 0 || tileW <= 0 || tileH <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimensions %dx%d tiles of %dx%d px", ErrInvalidMap, width, height, tileW, tileH)
	}
	m := &MapData{
		ID:     id,
		Width:  width,
		Height: height,
		TileW:  tileW,
		TileH:  tileH,
		Spawn:  spawn,
		solids: make([]bool, width*height),
	}
	for y := 0; y < height && y < len(solids); y++ {
		for x := 0; x < width && x < len(solids[y]); x++ {
			m.solids[y*width+x] = solids[y][x]
		}
	}
	return m, nil
}

// PixelWidth returns the map width in pixels.
func (m *MapData) PixelWidth() int {
	return m.Width * m.TileW
}

// PixelHeight returns the map height in pixels.
func (m *MapData) PixelHeight() int {
	return m.Height * m.TileH
}

// InBoundsPx reports whether pixel (px, py) lies inside the map.
func (m *MapData) InBoundsPx(px, py int) bool {
	return px >= 0 && px < m.PixelWidth() && py >= 0 && py < m.PixelHeight()
}

// IsSolidTile reports whether tile (tx, ty) blocks movement.
// Tiles outside the grid are always solid.
func (m *MapData) IsSolidTile(tx, ty int) bool {
	if tx < 0 || ty < 0 || tx >= m.Width || ty >= m.Height {
		return true
	}
	return m.solids[ty*m.Width+tx]
}

// IsSolidPx reports whether the tile under pixel (px, py) is solid.
func (m *MapData) IsSolidPx(px, py int) bool {
	return m.IsSolidTile(floorDiv(px, m.TileW), floorDiv(py, m.TileH))
}

// SolidCount returns the number of solid tiles.
func (m *MapData) SolidCount() int {
	n := 0
	for _, s := range m.solids {
		if s {
			n++
		}
	}
	return n
}

// Info returns the map description sent in the hello frame.
func (m *MapData) Info() *protocol.MapInfo {
	return &protocol.MapInfo{
		ID:      m.ID,
		Version: m.Version,
		TileW:   m.TileW,
		TileH:   m.TileH,
	}
}

// Tiled JSON subset.
type tiledMap struct {
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	TileWidth  int            `json:"tilewidth"`
	TileHeight int            `json:"tileheight"`
	Layers     []tiledLayer   `json:"layers"`
	Tilesets   []tiledTileset `json:"tilesets"`
}

type tiledLayer struct {
	Type       string          `json:"type"`
	Name       string          `json:"name"`
	Data       []int64         `json:"data"`
	Properties []tiledProperty `json:"properties"`
	Objects    []tiledObject   `json:"objects"`
}

type tiledProperty struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type tiledObject struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type tiledTileset struct {
	FirstGID int         `json:"firstgid"`
	Tiles    []tiledTile `json:"tiles"`
}

type tiledTile struct {
	ID         int             `json:"id"`
	Properties []tiledProperty `json:"properties"`
}

// boolProp reports whether props contains name with boolean value true.
func boolProp(props []tiledProperty, name string) bool {
	for _, p := range props {
		if p.Name != name {
			continue
		}
		if v, ok := p.Value.(bool); ok && v {
			return true
		}
	}
	return false
}

// Load parses a Tiled JSON map into a MapData.
//
// Solid tiles come from tile layers flagged collision=true (any non-zero gid).
// Only when no such layer exists, tiles whose tileset entry has solid=true are
// marked solid across all tile layers. Spawn is the first player_spawn object
// of the spawns object layer, (0,0) otherwise.
func Load(raw []byte, mapID string) (*MapData, error) {
	var src tiledMap
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrInvalidMap, mapID, err)
	}

	m, err := New(mapID, src.Width, src.Height, src.TileWidth, src.TileHeight, nil, Point{})
	if err != nil {
		return nil, err
	}
	m.Version = contentVersion(raw)

	cells := src.Width * src.Height
	var tileLayers, collisionLayers []tiledLayer
	for _, ly := range src.Layers {
		if ly.Type != LayerTypeTiles {
			continue
		}
		if len(ly.Data) != cells {
			return nil, fmt.Errorf("%w: layer %q has %d cells, want %d", ErrInvalidMap, ly.Name, len(ly.Data), cells)
		}
		tileLayers = append(tileLayers, ly)
		if boolProp(ly.Properties, PropCollision) {
			collisionLayers = append(collisionLayers, ly)
		}
	}

	if len(collisionLayers) > 0 {
		for _, ly := range collisionLayers {
			for i, gid := range ly.Data {
				if gid != 0 {
					m.solids[i] = true
				}
			}
		}
	} else if solidGIDs := collectSolidGIDs(src.Tilesets); len(solidGIDs) > 0 {
		for _, ly := range tileLayers {
			for i, gid := range ly.Data {
				if _, ok := solidGIDs[gid&gidFlagsMask]; ok {
					m.solids[i] = true
				}
			}
		}
	}

	m.Spawn = findSpawn(src.Layers)
	return m, nil
}

// LoadFile reads and parses a Tiled JSON map from disk.
func LoadFile(path, mapID string) (*MapData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map %s: %w", path, err)
	}
	m, err := Load(raw, mapID)
	if err != nil {
		return nil, fmt.Errorf("loading map %s: %w", path, err)
	}
	return m, nil
}

func collectSolidGIDs(tilesets []tiledTileset) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, ts := range tilesets {
		first := ts.FirstGID
		if first == 0 {
			first = 1
		}
		for _, t := range ts.Tiles {
			if boolProp(t.Properties, PropSolid) {
				out[int64(first+t.ID)] = struct{}{}
			}
		}
	}
	return out
}

func findSpawn(layers []tiledLayer) Point {
	for _, ly := range layers {
		if ly.Type != LayerTypeObjects || ly.Name != SpawnLayer {
			continue
		}
		for _, obj := range ly.Objects {
			if obj.Name == SpawnObject {
				return Point{X: int(obj.X), Y: int(obj.Y)}
			}
		}
	}
	return Point{}
}

func contentVersion(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])[:versionLen]
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
