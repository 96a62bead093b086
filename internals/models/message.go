package models

import "fmt"

type Level int

const (
	LevelInfo Level = iota
	LevelDebug
	LevelWarning
	LevelError
)

func (l Level) Valid() bool {
	return l >= LevelInfo && l <= LevelError
}

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Message is a stored notification. Id, Timestamp and Nonce are assigned by
// the relay at append time and never change afterwards.
type Message struct {
	Id        int64  `json:"id"`
	Level     Level  `json:"level"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Nonce     int64  `json:"nonce"`
}

// Draft is what a publisher supplies for a new message.
type Draft struct {
	Level   Level
	Title   string
	Content string
}

// MessageRef selects the message(s) a delete applies to. Messages are matched
// by id and timestamp, or by nonce and timestamp when ByNonce is set.
type MessageRef struct {
	Id        int64
	Nonce     int64
	Timestamp int64
	ByNonce   bool
}

// IsWipe reports whether the ref is the "remove everything" sentinel.
func (r MessageRef) IsWipe() bool {
	if r.ByNonce {
		return r.Nonce == 0 && r.Timestamp == 0
	}
	return r.Id == 0 && r.Timestamp == 0
}

func (r MessageRef) Matches(msg Message) bool {
	if msg.Timestamp != r.Timestamp {
		return false
	}
	if r.ByNonce {
		return msg.Nonce == r.Nonce
	}
	return msg.Id == r.Id
}

func (r MessageRef) String() string {
	if r.ByNonce {
		return fmt.Sprintf("nonce=%d timestamp=%d", r.Nonce, r.Timestamp)
	}
	return fmt.Sprintf("id=%d timestamp=%d", r.Id, r.Timestamp)
}
