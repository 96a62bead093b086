package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"relay/internals/models"
	"strings"
	"testing"
	"time"
)

func readSSE(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, f *fixture, key string) (*http.Response, context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/message/stream", nil)
	require.NoError(t, err)
	req.Header.Set(APIKeyHeader, key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, cancel
}

func TestStreamDeliversEvents(t *testing.T) {
	f := newFixture(t)
	resp, cancel := openStream(t, f, f.key)
	defer cancel()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, _ := readSSE(t, r)
	require.Equal(t, "connected", event)
	assert.Equal(t, 1, f.hub.Count())

	msg, err := f.relay.Send(context.Background(), models.Draft{Level: models.LevelError, Title: "down", Content: "api"})
	require.NoError(t, err)

	event, data := readSSE(t, r)
	assert.Equal(t, models.EventNewMessage, event)
	var got models.Message
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, msg, got)
}

func TestStreamEndsWhenHubCloses(t *testing.T) {
	f := newFixture(t)
	resp, cancel := openStream(t, f, f.key)
	defer cancel()

	r := bufio.NewReader(resp.Body)
	event, _ := readSSE(t, r)
	require.Equal(t, "connected", event)

	f.hub.Close()
	_, err := r.ReadString('\n')
	assert.Error(t, err)
	assert.Equal(t, 0, f.hub.Count())
}

func TestStreamRequiresKey(t *testing.T) {
	f := newFixture(t)
	resp, cancel := openStream(t, f, "wrong")
	defer cancel()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.hub.Count())
}

func TestStreamAfterHubCloseEndsImmediately(t *testing.T) {
	f := newFixture(t)
	f.hub.Close()
	resp, cancel := openStream(t, f, f.key)
	defer cancel()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r := bufio.NewReader(resp.Body)
	event, _ := readSSE(t, r)
	require.Equal(t, "connected", event)
	_, err := r.ReadString('\n')
	assert.Error(t, err)
	assert.Equal(t, 0, f.hub.Count())
}
