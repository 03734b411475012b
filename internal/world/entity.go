package world

import "maps"

// Entity kinds.
const (
	KindPlayer = "player"
	KindNpc    = "npc"
)

// DefaultHP is the hit points of a freshly spawned entity.
const DefaultHP = 100

// Entity is a world object. State owns every Entity; callers get copies
// and write back through State.Upsert.
type Entity struct {
	ID   string
	Kind string
	X    int
	Y    int
	HP   int
	Meta map[string]any
}

// NewEntity creates an entity with default HP.
func NewEntity(id, kind string, x, y int) Entity {
	return Entity{
		ID:   id,
		Kind: kind,
		X:    x,
		Y:    y,
		HP:   DefaultHP,
	}
}

// Clone returns a copy that shares nothing mutable with e.
func (e Entity) Clone() Entity {
	if e.Meta != nil {
		e.Meta = maps.Clone(e.Meta)
	}
	return e
}
