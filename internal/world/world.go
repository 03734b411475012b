package world

// State is the canonical entity registry with per-entity version counters.
//
// Every Upsert bumps the version, even when nothing changed. Versions are
// dropped only by Remove. State is not safe for concurrent use; the owner
// serializes access.
type State struct {
	entities map[string]Entity
	versions map[string]uint64
	builder  DiffBuilder
}

// NewState creates an empty state that diffs with FullPatchBuilder.
func NewState() *State {
	return &State{
		entities: make(map[string]Entity, 256),
		versions: make(map[string]uint64, 256),
		builder:  FullPatchBuilder{},
	}
}

// SetDiffBuilder swaps the diff policy. nil restores FullPatchBuilder.
func (s *State) SetDiffBuilder(b DiffBuilder) {
	if b == nil {
		b = FullPatchBuilder{}
	}
	s.builder = b
}

// Upsert stores a copy of e and increments its version unconditionally.
// Returns the new version.
func (s *State) Upsert(e Entity) uint64 {
	s.entities[e.ID] = e.Clone()
	v := s.versions[e.ID] + 1
	s.versions[e.ID] = v
	return v
}

// Remove deletes the entity and its version counter.
func (s *State) Remove(id string) {
	delete(s.entities, id)
	delete(s.versions, id)
}

// Get returns a copy of the entity.
func (s *State) Get(id string) (Entity, bool) {
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.Clone(), true
}

// Version returns the current version of id (0 if unknown).
func (s *State) Version(id string) uint64 {
	return s.versions[id]
}

// Has reports whether id is registered.
func (s *State) Has(id string) bool {
	_, ok := s.entities[id]
	return ok
}

// Len returns the number of entities.
func (s *State) Len() int {
	return len(s.entities)
}

// BuildDiffs computes the patch for one viewer and advances sent in place.
func (s *State) BuildDiffs(you Vitals, visible []string, sent map[string]uint64) Diff {
	return s.builder.Build(s, you, visible, sent)
}

// lookup is used by DiffBuilder implementations; it avoids cloning.
func (s *State) lookup(id string) (Entity, uint64, bool) {
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, 0, false
	}
	return e, s.versions[id], true
}
