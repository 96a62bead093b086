package models

import (
	"encoding/json"
	"fmt"
)

const (
	EventNewMessage     = "new-message"
	EventMessageDeleted = "message-deleted"
)

// Event is what live subscribers receive.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

type DeletedPayload struct {
	Id        int64 `json:"id"`
	Nonce     int64 `json:"nonce,omitempty"`
	Timestamp int64 `json:"timestamp"`
	Removed   int   `json:"removed"`
	All       bool  `json:"all"`
}

func NewMessageEvent(msg Message) Event {
	return Event{Name: EventNewMessage, Payload: msg}
}

func DeletedEvent(ref MessageRef, removed int) Event {
	return Event{
		Name: EventMessageDeleted,
		Payload: DeletedPayload{
			Id:        ref.Id,
			Nonce:     ref.Nonce,
			Timestamp: ref.Timestamp,
			Removed:   removed,
			All:       ref.IsWipe(),
		},
	}
}

type wireEvent struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEvent parses an event as sent to live subscribers, typing the
// payload by event name.
func DecodeEvent(data []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, err
	}
	evt := Event{Name: wire.Name}
	switch wire.Name {
	case EventNewMessage:
		var msg Message
		if err := json.Unmarshal(wire.Payload, &msg); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", wire.Name, err)
		}
		evt.Payload = msg
	case EventMessageDeleted:
		var deleted DeletedPayload
		if err := json.Unmarshal(wire.Payload, &deleted); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", wire.Name, err)
		}
		evt.Payload = deleted
	default:
		evt.Payload = wire.Payload
	}
	return evt, nil
}
