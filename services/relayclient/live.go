package relayclient

import (
	"context"
	"github.com/gorilla/websocket"
	"net/http"
	"relay/internals/models"
	"strings"
)

// LiveStream is an open websocket subscription.
type LiveStream struct {
	conn *websocket.Conn
}

// Listen opens the websocket live channel on the current node.
func (c *Client) Listen(ctx context.Context) (*LiveStream, error) {
	node, key, err := c.node()
	if err != nil {
		return nil, err
	}
	wsURL := "ws" + strings.TrimPrefix(node, "http") + "/ws"
	header := http.Header{}
	header.Set(apiKeyHeader, key)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeAPIError(resp)
		}
		return nil, err
	}
	return &LiveStream{conn: conn}, nil
}

// Recv blocks for the next event. Server pings are answered by the
// websocket library while Recv is reading.
func (s *LiveStream) Recv() (models.Event, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return models.Event{}, err
	}
	return models.DecodeEvent(data)
}

func (s *LiveStream) Close() error {
	return s.conn.Close()
}
