package relay

import (
	"context"
	"errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"relay/internals/dbms"
	"relay/internals/models"
	"relay/services/hub"
	"testing"
)

func setup(t *testing.T) (*Service, *hub.Hub, dbms.Dbms) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store, err := dbms.InitFile(filepath.Join(t.TempDir(), "messages.json"), logger)
	require.NoError(t, err)
	h := hub.New(16, logger)
	return NewService(store, h, logger), h, store
}

func TestSendStoresThenPublishes(t *testing.T) {
	svc, h, _ := setup(t)
	sub := h.Subscribe()
	ctx := context.Background()

	msg, err := svc.Send(ctx, models.Draft{Level: models.LevelDebug, Title: "t", Content: "c"})
	require.NoError(t, err)

	evt := <-sub.C
	assert.Equal(t, models.EventNewMessage, evt.Name)
	assert.Equal(t, msg, evt.Payload)

	stored, err := svc.Fetch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []models.Message{msg}, stored)
}

func TestSendFailureDoesNotPublish(t *testing.T) {
	svc, h, _ := setup(t)
	sub := h.Subscribe()

	_, err := svc.Send(context.Background(), models.Draft{Level: 9, Title: "t", Content: "c"})
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected event %v", evt)
	default:
	}
}

func TestEventsFollowAppendOrder(t *testing.T) {
	svc, h, _ := setup(t)
	sub := h.Subscribe()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, models.Draft{Level: models.LevelInfo, Title: "t", Content: "c"})
		require.NoError(t, err)
	}
	var last int64
	for i := 0; i < 5; i++ {
		msg := (<-sub.C).Payload.(models.Message)
		assert.Greater(t, msg.Id, last)
		last = msg.Id
	}
}

func TestDeletePublishesOnlyOnSuccess(t *testing.T) {
	svc, h, _ := setup(t)
	ctx := context.Background()
	msg, err := svc.Send(ctx, models.Draft{Level: models.LevelInfo, Title: "t", Content: "c"})
	require.NoError(t, err)

	sub := h.Subscribe()
	ref := models.MessageRef{Id: msg.Id, Timestamp: msg.Timestamp}

	removed, err := svc.Delete(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	evt := <-sub.C
	assert.Equal(t, models.EventMessageDeleted, evt.Name)
	assert.Equal(t, 1, evt.Payload.(models.DeletedPayload).Removed)

	_, err = svc.Delete(ctx, ref)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected event %v", evt)
	default:
	}
}

func TestSendLogsDelivery(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store, err := dbms.InitFile(filepath.Join(t.TempDir(), "messages.json"), logger)
	require.NoError(t, err)
	svc := NewService(store, hub.New(1, logger), logger)

	_, err = svc.Send(context.Background(), models.Draft{Level: models.LevelError, Title: "t", Content: "c"})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "message received", entry.Message)
	assert.Equal(t, "error", entry.Data["level"])
}
