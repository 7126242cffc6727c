package models

import (
	"time"
)

// Session represents one multi-seat game instance coordinated by the server.
// The binder owns the value and replaces it wholesale on each authoritative
// snapshot; nothing mutates it field-by-field.
type Session struct {
	ID              string         `json:"id"`
	Participants    []Participant  `json:"participants"`
	Turn            *TurnState     `json:"turn_state,omitempty"`
	Round           int            `json:"round"`
	TurnNumber      int            `json:"turn_number"`
	Complete        bool           `json:"session_complete"`
	TurnsEnforced   bool           `json:"turns_enforced"`
	FastDemo        bool           `json:"fast_demo"`
	Standings       []Standing     `json:"standings,omitempty"`
	GameStartedAt   *time.Time     `json:"game_started_at,omitempty"`
	NextGameStartAt *time.Time     `json:"next_game_starts_at,omitempty"`
	AutoAdvanceMs   int            `json:"auto_advance_ms,omitempty"`
}

// Standing is a scoreboard row carried on session snapshots.
type Standing struct {
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// Participant returns the participant with the given id, or nil.
func (s *Session) Participant(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// TurnOrder returns participant ids in server seating order.
func (s *Session) TurnOrder() []string {
	order := make([]string, 0, len(s.Participants))
	for i := range s.Participants {
		order = append(order, s.Participants[i].ID)
	}
	return order
}
