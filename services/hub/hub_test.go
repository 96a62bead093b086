package hub

import (
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"relay/internals/models"
	"sync"
	"testing"
)

func newHub(buffer int) *Hub {
	logger, _ := test.NewNullLogger()
	return New(buffer, logger)
}

func event(id int64) models.Event {
	return models.NewMessageEvent(models.Message{Id: id, Timestamp: id})
}

func drain(sub *Subscription) []models.Event {
	var out []models.Event
	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestPublishReachesEverySubscriberInOrder(t *testing.T) {
	h := newHub(8)
	a := h.Subscribe()
	b := h.Subscribe()

	for i := int64(1); i <= 3; i++ {
		assert.Equal(t, 2, h.Publish(event(i)))
	}

	for _, sub := range []*Subscription{a, b} {
		got := drain(sub)
		require.Len(t, got, 3)
		for i, evt := range got {
			assert.Equal(t, models.EventNewMessage, evt.Name)
			assert.Equal(t, int64(i+1), evt.Payload.(models.Message).Id)
		}
	}
}

func TestUnsubscribedReceivesNothing(t *testing.T) {
	h := newHub(8)
	gone := h.Subscribe()
	stay := h.Subscribe()
	h.Unsubscribe(gone)

	h.Publish(event(1))

	_, open := <-gone.C
	assert.False(t, open)
	assert.NoError(t, gone.Err())
	assert.Len(t, drain(stay), 1)
	assert.Equal(t, 1, h.Count())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := newHub(1)
	sub := h.Subscribe()
	h.Unsubscribe(sub)
	assert.NotPanics(t, func() {
		h.Unsubscribe(sub)
		h.Unsubscribe(nil)
	})
	assert.Equal(t, 0, h.Count())
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := newHub(2)
	slow := h.Subscribe()
	fast := h.Subscribe()

	h.Publish(event(1))
	h.Publish(event(2))
	assert.Len(t, drain(fast), 2)

	// slow never reads; its queue is full now
	assert.Equal(t, 1, h.Publish(event(3)))
	assert.Equal(t, 1, h.Count())

	got := drain(slow)
	assert.Len(t, got, 2)
	_, open := <-slow.C
	assert.False(t, open)
	assert.ErrorIs(t, slow.Err(), ErrSlowSubscriber)

	fastGot := drain(fast)
	require.Len(t, fastGot, 1)
	assert.Equal(t, int64(3), fastGot[0].Payload.(models.Message).Id)
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	h := newHub(1024)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := h.Subscribe()
			h.Unsubscribe(sub)
		}()
		go func(i int) {
			defer wg.Done()
			h.Publish(event(int64(i)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, h.Count())
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	h := newHub(4)
	subs := []*Subscription{h.Subscribe(), h.Subscribe()}
	h.Close()

	for _, sub := range subs {
		_, open := <-sub.C
		assert.False(t, open)
		assert.ErrorIs(t, sub.Err(), ErrClosed)
	}
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 0, h.Publish(event(1)))
}

func TestSubscribeAfterCloseEndsImmediately(t *testing.T) {
	h := newHub(4)
	h.Close()

	late := h.Subscribe()
	assert.NotEmpty(t, late.ID)
	_, open := <-late.C
	assert.False(t, open)
	assert.ErrorIs(t, late.Err(), ErrClosed)
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 0, h.Publish(event(1)))

	assert.NotPanics(t, func() { h.Unsubscribe(late) })
}
