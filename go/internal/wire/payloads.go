package wire

import (
	"github.com/dicehall/dicehall/go/internal/models"
)

// ActionKind tags the sub-action of a turn_action frame.
type ActionKind string

const (
	ActionRoll   ActionKind = "roll"
	ActionSelect ActionKind = "select"
	ActionScore  ActionKind = "score"
)

// TurnStartPayload announces a new active turn. Phase and ActiveRoll are
// present only when the server is recovering the client mid-turn.
type TurnStartPayload struct {
	SessionID    string               `json:"session_id"`
	PlayerID     string               `json:"player_id"`
	Round        int                  `json:"round"`
	TurnNumber   int                  `json:"turn_number"`
	ExpiresAtMs  int64                `json:"turn_expires_at,omitempty"` // server epoch millis
	Phase        *models.Phase        `json:"phase,omitempty"`
	ActiveRoll   *models.RollSnapshot `json:"active_roll,omitempty"`
	RollServerID string               `json:"active_roll_server_id,omitempty"`
}

// TurnEndPayload announces the end of a turn.
type TurnEndPayload struct {
	SessionID   string `json:"session_id"`
	PlayerID    string `json:"player_id"`
	Round       int    `json:"round"`
	TurnNumber  int    `json:"turn_number"`
	TimestampMs int64  `json:"timestamp"`
}

// TurnTimeoutWarningPayload warns that the active turn is near its deadline.
type TurnTimeoutWarningPayload struct {
	SessionID   string `json:"session_id"`
	PlayerID    string `json:"player_id"`
	RemainingMs int64  `json:"remaining_ms"`
	ExpiresAtMs int64  `json:"turn_expires_at"`
	TimestampMs int64  `json:"timestamp"`
}

// TurnAutoAdvancedPayload announces the server advanced a turn on its own,
// typically after a deadline expired.
type TurnAutoAdvancedPayload struct {
	SessionID   string `json:"session_id"`
	PlayerID    string `json:"player_id"`
	Reason      string `json:"reason"`
	TimestampMs int64  `json:"timestamp"`
}

// ScoreAction carries a scoring sub-payload on turn_action frames.
type ScoreAction struct {
	DieIDs       []string `json:"die_ids"`
	Points       int      `json:"points"`
	RollServerID string   `json:"roll_server_id,omitempty"`
}

// TurnActionPayload mirrors one participant action, inbound (echo or
// spectator feed) and outbound (local intent).
type TurnActionPayload struct {
	SessionID   string               `json:"session_id"`
	PlayerID    string               `json:"player_id"`
	Action      ActionKind           `json:"action"`
	AttemptID   string               `json:"attempt_id,omitempty"`
	Roll        *models.RollSnapshot `json:"roll,omitempty"`
	RollRequest *RollRequest         `json:"roll_request,omitempty"`
	Select      []string             `json:"select,omitempty"`
	Score       *ScoreAction         `json:"score,omitempty"`
	TimestampMs int64                `json:"timestamp"`
}

// SessionStatePayload is the authoritative full-session snapshot. Optional
// fields use explicit-presence semantics: a nil pointer means "unchanged",
// never "clear". TurnState is the exception called out in its doc.
type SessionStatePayload struct {
	SessionID    string               `json:"session_id"`
	Participants []models.Participant `json:"participants,omitempty"`

	// TurnState is always authoritative when the payload carries the
	// has_turn_state marker: nil ActivePlayerID then means "no active turn",
	// not "unchanged".
	HasTurnState bool              `json:"has_turn_state,omitempty"`
	TurnState    *models.TurnState `json:"turn_state,omitempty"`

	Standings       []models.Standing `json:"standings,omitempty"`
	SessionComplete *bool             `json:"session_complete,omitempty"`
	TurnsEnforced   *bool             `json:"turns_enforced,omitempty"`
	FastDemo        *bool             `json:"fast_demo,omitempty"`
	Round           *int              `json:"round,omitempty"`
	TurnNumber      *int              `json:"turn_number,omitempty"`
	GameStartedAtMs *int64            `json:"game_started_at,omitempty"`
	NextGameStartMs *int64            `json:"next_game_starts_at,omitempty"`
	AutoAdvanceMs   *int              `json:"auto_advance_ms,omitempty"`
	ServerNowMs     int64             `json:"server_now"`
}

// SessionExpiredPayload signals the bound session is no longer valid.
type SessionExpiredPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorPayload is a server-side rejection of a client frame.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}
