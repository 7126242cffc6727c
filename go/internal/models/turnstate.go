package models

// Phase defines where the active participant is within their turn.
type Phase string

const (
	PhaseAwaitingRoll  Phase = "awaiting_roll"
	PhaseAwaitingScore Phase = "awaiting_score"
	PhaseReadyToEnd    Phase = "ready_to_end"
)

// Valid reports whether p is one of the recognized turn phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseAwaitingRoll, PhaseAwaitingScore, PhaseReadyToEnd:
		return true
	}
	return false
}

// TurnState is the authoritative turn snapshot carried by turn_start events
// and session_state messages.
//
// Invariant: phase awaiting_score or ready_to_end implies a non-nil
// ActiveRoll; phase awaiting_roll implies the prior roll has been cleared
// for presentation.
type TurnState struct {
	ActivePlayerID string        `json:"active_player_id,omitempty"`
	Phase          Phase         `json:"phase,omitempty"`
	ExpiresAtMs    int64         `json:"turn_expires_at,omitempty"` // server epoch millis
	ActiveRoll     *RollSnapshot `json:"active_roll,omitempty"`
	RollServerID   string        `json:"active_roll_server_id,omitempty"`
}
