package gateway

import (
	"encoding/json"
	"fmt"
	"github.com/sirupsen/logrus"
	"io"
	"net/http"
	"time"
)

// Stream is the server-sent events flavour of the live channel.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.subs.Subscribe()
	defer h.subs.Unsubscribe(sub)
	logger := h.logger.WithFields(logrus.Fields{"subscriber": sub.ID, "transport": "sse"})

	writeSSE(w, "connected", map[string]string{"subscriber": sub.ID})
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			flusher.Flush()
		case evt, ok := <-sub.C:
			if !ok {
				logger.WithError(sub.Err()).Warn("subscription ended by hub")
				return
			}
			if err := writeSSE(w, evt.Name, evt.Payload); err != nil {
				logger.WithError(err).Warn("sse write failed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	return err
}
