package gameserver

import (
	"context"

	"github.com/leozinhoszg/zerion/internal/db"
	"github.com/leozinhoszg/zerion/internal/persistence"
)

// ClientConnectionState represents the lifecycle of a websocket session.
type ClientConnectionState int32

const (
	ClientStateConnected    ClientConnectionState = iota // upgraded, handshake accepted
	ClientStateInGame                                    // entity joined the world
	ClientStateDisconnected                              // connection closed
)

func (s ClientConnectionState) String() string {
	switch s {
	case ClientStateConnected:
		return "CONNECTED"
	case ClientStateInGame:
		return "IN_GAME"
	case ClientStateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// CharacterRepository loads or creates the character of a user.
type CharacterRepository interface {
	LookupOrCreate(ctx context.Context, userID int64, spawnX, spawnY int) (db.Character, error)
}

// Persister buffers character state for write-back.
type Persister interface {
	MarkDirty(charID int64, st persistence.State)
	FlushOne(ctx context.Context, charID int64) error
}
