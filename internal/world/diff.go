package world

import (
	"maps"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Vitals is the viewer's own authoritative state, always sent.
type Vitals struct {
	X  int `msgpack:"x"`
	Y  int `msgpack:"y"`
	HP int `msgpack:"hp"`
	MP int `msgpack:"mp"`
}

// Snapshot is a full entity record for newly visible ids.
type Snapshot struct {
	ID   string         `msgpack:"id"`
	Kind string         `msgpack:"kind"`
	X    int            `msgpack:"x"`
	Y    int            `msgpack:"y"`
	HP   int            `msgpack:"hp"`
	Meta map[string]any `msgpack:"meta"`
}

// Patch carries the fields of an updated entity. Meta is encoded whenever
// it is non-nil, including when empty.
type Patch struct {
	X    int            `msgpack:"x"`
	Y    int            `msgpack:"y"`
	HP   int            `msgpack:"hp"`
	Meta map[string]any `msgpack:"meta"`
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (p Patch) EncodeMsgpack(enc *msgpack.Encoder) error {
	n := 3
	if p.Meta != nil {
		n = 4
	}
	if err := enc.EncodeMapLen(n); err != nil {
		return err
	}
	for _, f := range [...]struct {
		key string
		val int
	}{{"x", p.X}, {"y", p.Y}, {"hp", p.HP}} {
		if err := enc.EncodeString(f.key); err != nil {
			return err
		}
		if err := enc.EncodeInt(int64(f.val)); err != nil {
			return err
		}
	}
	if p.Meta == nil {
		return nil
	}
	if err := enc.EncodeString("meta"); err != nil {
		return err
	}
	return enc.Encode(p.Meta)
}

// Update is a patch for an id the viewer already knows.
type Update struct {
	ID    string `msgpack:"id"`
	Patch Patch  `msgpack:"patch"`
}

// Diff is the per-viewer state frame body.
type Diff struct {
	You     Vitals     `msgpack:"you"`
	Added   []Snapshot `msgpack:"added"`
	Updated []Update   `msgpack:"updated"`
	Removed []string   `msgpack:"removed"`
}

// Empty reports whether the diff carries no entity changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// DiffBuilder turns visibility + sent versions into a Diff.
// Implementations must leave sent[id] == current version for every visible id
// they report, and purge ids they report as removed.
type DiffBuilder interface {
	Build(s *State, you Vitals, visible []string, sent map[string]uint64) Diff
}

// FullPatchBuilder sends x, y, hp (and meta when set) on every update instead
// of a field-level diff. Unchanged versions are omitted entirely.
type FullPatchBuilder struct{}

// Build implements DiffBuilder.
func (FullPatchBuilder) Build(s *State, you Vitals, visible []string, sent map[string]uint64) Diff {
	diff := Diff{
		You:     you,
		Added:   []Snapshot{},
		Updated: []Update{},
		Removed: []string{},
	}

	visibleSet := make(map[string]struct{}, len(visible))
	for _, id := range visible {
		visibleSet[id] = struct{}{}
	}

	for id := range sent {
		_, stillVisible := visibleSet[id]
		if !stillVisible || !s.Has(id) {
			diff.Removed = append(diff.Removed, id)
			delete(sent, id)
		}
	}
	sort.Strings(diff.Removed)

	for _, id := range visible {
		e, version, ok := s.lookup(id)
		if !ok {
			continue
		}

		last, known := sent[id]
		switch {
		case !known:
			meta := map[string]any{}
			if e.Meta != nil {
				meta = maps.Clone(e.Meta)
			}
			diff.Added = append(diff.Added, Snapshot{
				ID:   e.ID,
				Kind: e.Kind,
				X:    e.X,
				Y:    e.Y,
				HP:   e.HP,
				Meta: meta,
			})
			sent[id] = version
		case version != last:
			// Versions restart at 1 when an id is removed and re-added.
			patch := Patch{X: e.X, Y: e.Y, HP: e.HP}
			if e.Meta != nil {
				patch.Meta = maps.Clone(e.Meta)
			}
			diff.Updated = append(diff.Updated, Update{ID: id, Patch: patch})
			sent[id] = version
		}
	}

	return diff
}
