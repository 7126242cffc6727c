package wire

import (
	"encoding/json"
	"fmt"
)

// MessageType tags every frame exchanged over the session socket. The set is
// closed: DecodePayload is exhaustive over it, so an unknown tag is a
// protocol error rather than a silently ignored frame.
type MessageType string

const (
	// Server → client.
	TypeTurnStart          MessageType = "turn_start"
	TypeTurnEnd            MessageType = "turn_end"
	TypeTurnTimeoutWarning MessageType = "turn_timeout_warning"
	TypeTurnAutoAdvanced   MessageType = "turn_auto_advanced"
	TypeTurnAction         MessageType = "turn_action"
	TypeSessionState       MessageType = "session_state"
	TypeSessionExpired     MessageType = "session_expired"
	TypeError              MessageType = "error"

	// Client → server.
	TypeJoinSession   MessageType = "join_session"
	TypeResyncRequest MessageType = "resync_request"
)

// Envelope is the base structure for every frame on the wire.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw frame into an Envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame missing type tag")
	}
	return env, nil
}

// DecodePayload parses the envelope data into the payload struct for its
// type. Returns an error for unknown types so dispatch stays exhaustive.
func DecodePayload(env Envelope) (any, error) {
	switch env.Type {
	case TypeTurnStart:
		var p TurnStartPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeTurnEnd:
		var p TurnEndPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeTurnTimeoutWarning:
		var p TurnTimeoutWarningPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeTurnAutoAdvanced:
		var p TurnAutoAdvancedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeTurnAction:
		var p TurnActionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeSessionState:
		var p SessionStatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeSessionExpired:
		var p SessionExpiredPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", env.Type)
	}
}
