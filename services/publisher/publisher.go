// Package publisher pushes relay events to websocket subscribers.
package publisher

import (
	"errors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"net/http"
	"relay/interfaces"
	"relay/internals/models"
	"relay/services/hub"
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler registers every accepted socket with the hub and writes
// each event as a JSON text frame {"event": ..., "payload": ...}.
type WebSocketHandler struct {
	subs       interfaces.Subscriptions
	logger     logrus.FieldLogger
	pingPeriod time.Duration
}

func NewWebSocketHandler(subs interfaces.Subscriptions, logger logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{
		subs:       subs,
		logger:     logger.WithField("transport", "websocket"),
		pingPeriod: pingPeriod,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// subscribe before the handshake completes so a client that sees the
	// upgrade response is already registered
	sub := h.subs.Subscribe()
	defer h.subs.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade connection")
		return
	}
	defer conn.Close()

	logger := h.logger.WithFields(logrus.Fields{"subscriber": sub.ID, "remote_addr": r.RemoteAddr})

	closed := make(chan struct{})
	go readPump(conn, closed)
	h.writePump(conn, sub, closed, logger)
}

// readPump discards client frames and only watches for the socket closing.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, sub *hub.Subscription, closed <-chan struct{}, logger logrus.FieldLogger) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				logger.WithError(sub.Err()).Warn("subscription ended by hub")
				conn.WriteMessage(websocket.CloseMessage, closeFrame(sub.Err()))
				return
			}
			if err := writeEvent(conn, evt); err != nil {
				logger.WithError(err).Warn("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.WithError(err).Debug("websocket ping failed")
				return
			}
		}
	}
}

func closeFrame(reason error) []byte {
	if errors.Is(reason, hub.ErrClosed) {
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	}
	return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber dropped")
}

func writeEvent(conn *websocket.Conn, evt models.Event) error {
	return conn.WriteJSON(evt)
}
