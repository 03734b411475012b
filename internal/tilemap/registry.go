package tilemap

import (
	"log/slog"
	"sync/atomic"
)

// Registry holds the map loaded at boot.
// The unloaded state is explicit: Current returns ok=false and movement
// resolvers fall back to free movement.
type Registry struct {
	current atomic.Pointer[MapData]
}

// NewRegistry creates an empty (unloaded) registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set installs m. nil unloads.
func (r *Registry) Set(m *MapData) {
	r.current.Store(m)
}

// Current returns the loaded map.
func (r *Registry) Current() (*MapData, bool) {
	m := r.current.Load()
	return m, m != nil
}

// Loaded reports whether a map is installed.
func (r *Registry) Loaded() bool {
	return r.current.Load() != nil
}

// LoadFile loads the map at path and installs it.
// On failure the registry keeps its previous state.
func (r *Registry) LoadFile(path, mapID string) error {
	m, err := LoadFile(path, mapID)
	if err != nil {
		return err
	}
	r.Set(m)
	slog.Info("map loaded",
		"id", m.ID,
		"version", m.Version,
		"tiles", m.Width*m.Height,
		"solid", m.SolidCount(),
		"spawn_x", m.Spawn.X,
		"spawn_y", m.Spawn.Y)
	return nil
}
