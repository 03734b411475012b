package sim

// Default vitals reported for player-controlled entities.
const (
	DefaultMP = 50
)

// View is the per-connection view state. It is owned by the session and
// lives as long as the connection.
type View struct {
	PlayerID string
	EntityID string

	// SentVersion is what this viewer last received for each visible id.
	SentVersion map[string]uint64

	// LastAppliedSeq is the highest input seq applied to the controlled entity.
	LastAppliedSeq uint64

	MP int
}

// NewView creates an empty view for playerID controlling entityID.
func NewView(playerID, entityID string) *View {
	return &View{
		PlayerID:    playerID,
		EntityID:    entityID,
		SentVersion: make(map[string]uint64),
		MP:          DefaultMP,
	}
}

// Reset forgets everything sent so the next diff re-adds all visible entities.
func (v *View) Reset() {
	clear(v.SentVersion)
}
