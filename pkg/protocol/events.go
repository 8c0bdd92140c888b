// Package protocol defines the wire format exchanged between the relay
// server and room clients: a JSON envelope carrying one event from a
// closed vocabulary, with a typed payload per event name.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names from server to client.
const (
	EventConnected         = "connected"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventViewerCountUpdate = "viewer_count_update"
	EventError             = "error"
)

// Event names originated by clients and fanned out to the room.
const (
	EventChatMessage       = "chat_message"
	EventGiftSent          = "gift_sent"
	EventBattleInvite      = "battle_invite"
	EventBattleAccepted    = "battle_accepted"
	EventBattleDeclined    = "battle_declined"
	EventBattleScoreUpdate = "battle_score_update"
	EventBoosterActivated  = "booster_activated"
)

// Envelope is the unit sent over the socket in both directions.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a payload with the event name and current time.
func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return &Envelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a raw frame. A frame that is not JSON or has an
// empty event name is rejected; unknown event names are left to the
// dispatch site so the vocabulary can be checked in one place.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("malformed frame: missing event name")
	}
	return &env, nil
}

// DecodeData unmarshals the envelope payload into the given struct.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// KnownEvent reports whether the event name belongs to the closed set the
// relay fans out. Server-originated names are not accepted from clients.
func KnownEvent(name string) bool {
	switch name {
	case EventChatMessage, EventGiftSent,
		EventBattleInvite, EventBattleAccepted, EventBattleDeclined,
		EventBattleScoreUpdate, EventBoosterActivated:
		return true
	}
	return false
}
