package wire

import (
	"encoding/json"
	"fmt"
)

// Marshal wraps a payload into an envelope frame ready to send.
func Marshal(t MessageType, sessionID string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	frame, err := json.Marshal(Envelope{Type: t, SessionID: sessionID, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return frame, nil
}

// JoinSessionPayload asks the server to (re)bind this client to a session.
type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	Rejoin    bool   `json:"rejoin,omitempty"`
}

// ResyncRequestPayload asks the server for a fresh session_state snapshot.
type ResyncRequestPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	Reason    string `json:"reason,omitempty"`
}

// EndTurnPayload is the outbound counterpart of turn_end. RollServerID binds
// the end-turn to the roll it concludes so a replayed end-turn for an
// already-ended roll can be deduplicated.
type EndTurnPayload struct {
	SessionID    string `json:"session_id"`
	PlayerID     string `json:"player_id"`
	RollServerID string `json:"roll_server_id,omitempty"`
}

// RollRequest is the outbound roll sub-payload: the dice the client wants
// rolled, by id and face count. Values are never proposed by the client.
type RollRequest struct {
	DieIDs []string       `json:"die_ids"`
	Faces  map[string]int `json:"faces"`
}
