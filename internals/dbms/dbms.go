package dbms

import (
	"context"
	"relay/internals/models"
	"time"
)

// Dbms is the durable message log. Implementations serialize mutations and
// never expose a partially written state to readers.
type Dbms interface {
	Append(ctx context.Context, draft models.Draft) (models.Message, error)
	ListSince(ctx context.Context, cursor *int64) ([]models.Message, error)
	Delete(ctx context.Context, ref models.MessageRef) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// document is the canonical on-disk / in-redis layout: the last assigned id
// plus the messages in append order.
type document struct {
	Counter  int64            `json:"counter"`
	Messages []models.Message `json:"messages"`
}

type clock func() time.Time

// nextTimestamp keeps timestamps non-decreasing in append order even if the
// wall clock steps backwards.
func nextTimestamp(now time.Time, messages []models.Message) int64 {
	ts := now.UnixMilli()
	if n := len(messages); n > 0 && messages[n-1].Timestamp > ts {
		ts = messages[n-1].Timestamp
	}
	return ts
}

func filterSince(messages []models.Message, cursor *int64) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if cursor == nil || msg.Timestamp > *cursor {
			out = append(out, msg)
		}
	}
	return out
}

// removeMatching returns the messages that do not match ref and how many were dropped.
func removeMatching(messages []models.Message, ref models.MessageRef) ([]models.Message, int) {
	kept := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if !ref.Matches(msg) {
			kept = append(kept, msg)
		}
	}
	return kept, len(messages) - len(kept)
}
