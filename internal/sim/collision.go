package sim

import "github.com/leozinhoszg/zerion/internal/tilemap"

// Resolver moves a square bounding box over a tile map.
// A nil Map means no map is loaded: every move is applied unclamped.
type Resolver struct {
	Map  *tilemap.MapData
	Half int
}

// Blocked reports whether a box centered on (px, py) touches a solid tile
// or leaves the map. All four corners must be in bounds and on open tiles.
func (r Resolver) Blocked(px, py int) bool {
	if r.Map == nil {
		return false
	}
	corners := [4][2]int{
		{px - r.Half, py - r.Half},
		{px + r.Half, py - r.Half},
		{px - r.Half, py + r.Half},
		{px + r.Half, py + r.Half},
	}
	for _, c := range corners {
		if !r.Map.InBoundsPx(c[0], c[1]) || r.Map.IsSolidPx(c[0], c[1]) {
			return true
		}
	}
	return false
}

// Step applies one movement intent with per-axis slide.
// X is attempted at the current Y, then Y at the resulting X.
// The result is clamped to the map's pixel bounds.
func (r Resolver) Step(x, y, dx, dy, speed int) (int, int) {
	if r.Map == nil {
		return x + dx*speed, y + dy*speed
	}

	if nx := x + dx*speed; !r.Blocked(nx, y) {
		x = nx
	}
	if ny := y + dy*speed; !r.Blocked(x, ny) {
		y = ny
	}

	x = clamp(x, 0, r.Map.PixelWidth()-1)
	y = clamp(y, 0, r.Map.PixelHeight()-1)
	return x, y
}

// ValidDelta reports whether d is one of -1, 0, 1.
func ValidDelta(d int) bool {
	return d >= -1 && d <= 1
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
