// Package hub fans events out to live subscribers.
package hub

import (
	"errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"relay/internals/metrics"
	"relay/internals/models"
	"sync"
)

const DefaultBuffer = 64

var (
	ErrSlowSubscriber = errors.New("subscriber dropped: queue full")
	ErrClosed         = errors.New("hub closed")
)

// Subscription is one live subscriber. Events arrive on C in publish order;
// C is closed when the subscription ends, either through Unsubscribe, because
// the subscriber fell behind, or because the hub was closed.
type Subscription struct {
	ID string
	C  <-chan models.Event

	events chan models.Event
	err    error
}

// Err tells why C was closed: ErrSlowSubscriber, ErrClosed, or nil after
// Unsubscribe. It is only meaningful once C is closed.
func (s *Subscription) Err() error {
	return s.err
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	buffer      int
	closed      bool
	logger      logrus.FieldLogger
}

func New(buffer int, logger logrus.FieldLogger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subscribers: make(map[string]*Subscription),
		buffer:      buffer,
		logger:      logger.WithField("component", "hub"),
	}
}

func (h *Hub) Subscribe() *Subscription {
	events := make(chan models.Event, h.buffer)
	sub := &Subscription{
		ID:     uuid.NewString(),
		C:      events,
		events: events,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.err = ErrClosed
		close(events)
		h.logger.WithField("subscriber", sub.ID).Debug("subscribe after close")
		return sub
	}
	h.subscribers[sub.ID] = sub
	total := len(h.subscribers)
	h.mu.Unlock()

	metrics.Subscribers.Inc()
	h.logger.WithFields(logrus.Fields{"subscriber": sub.ID, "total": total}).Info("subscriber connected")
	return sub
}

// Unsubscribe removes sub. Calling it for a subscription that is already
// gone is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if h.remove(sub.ID, nil) {
		h.logger.WithField("subscriber", sub.ID).Info("subscriber disconnected")
	}
}

func (h *Hub) remove(id string, reason error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return false
	}
	delete(h.subscribers, id)
	sub.err = reason
	close(sub.events)
	metrics.Subscribers.Dec()
	return true
}

// Publish queues event for every subscriber without blocking. Subscribers
// whose queue is full are dropped; they must reconnect and catch up through
// the pull API.
func (h *Hub) Publish(event models.Event) int {
	var slow []string
	delivered := 0

	h.mu.RLock()
	for id, sub := range h.subscribers {
		select {
		case sub.events <- event:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		if h.remove(id, ErrSlowSubscriber) {
			metrics.SubscribersDropped.Inc()
			h.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"event":      event.Name,
			}).Warn("dropping subscriber: queue full")
		}
	}
	metrics.EventsDelivered.Add(float64(delivered))
	return delivered
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription. Later subscriptions are closed on arrival.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.remove(id, ErrClosed)
	}
}
