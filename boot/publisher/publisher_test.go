package publisher

import (
	"context"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http/httptest"
	"relay/boot/server"
	"relay/env"
	"relay/internals/models"
	"relay/services/relayclient"
	"testing"
	"time"
)

func startRelay(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := &env.RelayConfig{
		DataDir:          t.TempDir(),
		KeyFile:          "secret.key",
		MessagesFile:     "messages.json",
		Store:            env.StoreFile,
		SubscriberBuffer: 16,
		MaxBodyBytes:     65536,
	}
	relay, err := server.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	key, err := relay.Keys.CurrentKey()
	require.NoError(t, err)

	srv := httptest.NewServer(relay.Handler)
	t.Cleanup(srv.Close)
	return srv, key
}

func TestRunPublishesCountTimes(t *testing.T) {
	srv, key := startRelay(t)
	logger, hook := test.NewNullLogger()
	client := relayclient.NewClient([]string{srv.URL}, key)
	draft := models.Draft{Level: models.LevelWarning, Title: "tick", Content: "tock"}

	sent, err := Run(context.Background(), client, draft, Options{Count: 3, Interval: 10 * time.Millisecond}, logger)
	require.NoError(t, err)
	require.Len(t, sent, 3)
	for i, msg := range sent {
		assert.Equal(t, draft.Title, msg.Title)
		if i > 0 {
			assert.Greater(t, msg.Id, sent[i-1].Id)
		}
	}
	assert.Len(t, hook.AllEntries(), 3)

	stored, err := client.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, sent, stored)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, key := startRelay(t)
	logger, _ := test.NewNullLogger()
	client := relayclient.NewClient([]string{srv.URL}, key)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sent, err := Run(ctx, client, models.Draft{Title: "t", Content: "c"}, Options{Count: 5, Interval: time.Hour}, logger)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sent, 1)
}

func TestRunReportsRejection(t *testing.T) {
	srv, _ := startRelay(t)
	logger, _ := test.NewNullLogger()
	client := relayclient.NewClient([]string{srv.URL}, "wrong")

	sent, err := Run(context.Background(), client, models.Draft{Title: "t", Content: "c"}, Options{}, logger)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Empty(t, sent)
}
