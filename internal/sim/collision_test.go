package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozinhoszg/zerion/internal/tilemap"
)

// wallMap returns a 10x10 map of 32px tiles with every tile of column wallX solid.
func wallMap(t *testing.T, wallX int) *tilemap.MapData {
	t.Helper()
	solids := make([][]bool, 10)
	for y := range solids {
		solids[y] = make([]bool, 10)
		solids[y][wallX] = true
	}
	m, err := tilemap.New("wall", 10, 10, 32, 32, solids, tilemap.Point{})
	require.NoError(t, err)
	return m
}

func TestResolver_Blocked(t *testing.T) {
	r := Resolver{Map: wallMap(t, 2), Half: 10}

	tests := []struct {
		name   string
		x, y   int
		expect bool
	}{
		{"open", 40, 48, false},
		{"right edge touches wall", 54, 48, true},
		{"left edge out of map", 5, 48, true},
		{"top edge out of map", 40, 5, true},
		{"bottom edge out of map", 40, 315, true},
		{"inside wall", 80, 48, true},
		{"right of wall", 110, 48, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, r.Blocked(tt.x, tt.y))
		})
	}
}

func TestResolver_Step(t *testing.T) {
	tests := []struct {
		name         string
		half         int
		x, y, dx, dy int
		wantX, wantY int
	}{
		// box spans [34,54] after the move; wall starts at 64
		{"x move unblocked", 10, 40, 48, 1, 0, 44, 48},
		// box would reach 66 inside the wall
		{"x move blocked", 10, 52, 48, 1, 0, 52, 48},
		{"slide along wall", 10, 52, 48, 1, 1, 52, 52},
		{"y move alone", 10, 40, 48, 0, -1, 40, 44},
		{"both axes", 10, 40, 48, -1, 1, 36, 52},
		{"stand still", 10, 40, 48, 0, 0, 40, 48},

		// point-sized box at the top edge, wall at tile-x 1
		{"point box 20 to 24", 0, 20, 0, 1, 0, 24, 0},
		{"point box 28 to 32 blocked", 0, 28, 0, 1, 0, 28, 0},
		{"point box blocked x still moves y", 0, 28, 0, 1, 1, 28, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wall := 2
			if tt.half == 0 {
				wall = 1
			}
			r := Resolver{Map: wallMap(t, wall), Half: tt.half}
			x, y := r.Step(tt.x, tt.y, tt.dx, tt.dy, 4)
			assert.Equal(t, tt.wantX, x, "x")
			assert.Equal(t, tt.wantY, y, "y")
		})
	}
}

func TestResolver_Step_NoMap(t *testing.T) {
	r := Resolver{Half: 10}

	x, y := r.Step(0, 0, -1, -1, 4)
	assert.Equal(t, -4, x)
	assert.Equal(t, -4, y)
	assert.False(t, r.Blocked(-1000, -1000))
}

func TestResolver_Step_Clamp(t *testing.T) {
	m, err := tilemap.New("open", 2, 2, 32, 32, nil, tilemap.Point{})
	require.NoError(t, err)

	// the point box may sit on the last pixel but never beyond it
	r := Resolver{Map: m, Half: 0}
	x, y := r.Step(63, 63, 1, 1, 4)
	assert.Equal(t, 63, x)
	assert.Equal(t, 63, y)

	x, y = r.Step(61, 61, 1, 1, 2)
	assert.Equal(t, 63, x)
	assert.Equal(t, 63, y)
}

func TestValidDelta(t *testing.T) {
	for _, d := range []int{-1, 0, 1} {
		assert.True(t, ValidDelta(d), d)
	}
	for _, d := range []int{-2, 2, 100, -100} {
		assert.False(t, ValidDelta(d), d)
	}
}
