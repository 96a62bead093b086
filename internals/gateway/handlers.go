package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/sirupsen/logrus"
	"math"
	"net/http"
	"os"
	"relay/interfaces"
	"relay/internals/models"
	"strconv"
	"time"
)

type Handler struct {
	relay     interfaces.MessageRelay
	subs      interfaces.Subscriptions
	keyPath   string
	heartbeat time.Duration
	logger    logrus.FieldLogger
}

type sendRequest struct {
	Level   *json.RawMessage `json:"level"`
	Title   *string          `json:"title"`
	Content *string          `json:"content"`
}

// deleteRequest accepts {identifier, timestamp} and the legacy mobile client's
// {messageNonceToRemove, timestampToRemove}.
type deleteRequest struct {
	Identifier *json.RawMessage `json:"identifier"`
	Timestamp  *json.RawMessage `json:"timestamp"`

	MessageNonceToRemove *json.RawMessage `json:"messageNonceToRemove"`
	TimestampToRemove    *json.RawMessage `json:"timestampToRemove"`
}

type SendResponse struct {
	Message string         `json:"message"`
	Data    models.Message `json:"data"`
}

type DeleteResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	Subscribers int    `json:"subscribers"`
	Timestamp   string `json:"timestamp"`
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Server is active."))
}

// DownloadKey hands out the raw key file. It is unauthenticated on purpose:
// it exists to bootstrap clients on a trusted network.
func (h *Handler) DownloadKey(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.keyPath)
	if err != nil {
		h.logger.WithError(err).Error("download failed")
		http.Error(w, "Download failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="secret.key"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Store:     "pass",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.subs != nil {
		resp.Subscribers = h.subs.Count()
	}
	status := http.StatusOK
	if err := h.relay.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("health check: store unavailable")
		resp.Status = "degraded"
		resp.Store = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	var since *int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "Invalid timestamp")
			return
		}
		since = &parsed
	}

	messages, err := h.relay.Fetch(r.Context(), since)
	if err != nil {
		h.fail(w, err, "Failed to read messages file")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Level == nil || req.Title == nil || req.Content == nil {
		jsonError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	level, ok := wholeNumber(*req.Level)
	if !ok || !models.Level(level).Valid() {
		jsonError(w, http.StatusBadRequest, "Invalid level")
		return
	}

	msg, err := h.relay.Send(r.Context(), models.Draft{
		Level:   models.Level(level),
		Title:   *req.Title,
		Content: *req.Content,
	})
	if err != nil {
		h.fail(w, err, "Failed to save message")
		return
	}
	writeJSON(w, http.StatusCreated, SendResponse{Message: "Message saved successfully", Data: msg})
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ref, msg := req.ref()
	if msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}

	removed, err := h.relay.Delete(r.Context(), ref)
	if err != nil {
		h.fail(w, err, "Failed to delete message")
		return
	}
	writeJSON(w, http.StatusCreated, DeleteResponse{Message: "Message deleted successfully", Removed: removed})
}

// ref validates the request and returns the selector, or a client error message.
func (req deleteRequest) ref() (models.MessageRef, string) {
	switch {
	case req.Identifier != nil || req.Timestamp != nil:
		if req.Identifier == nil || req.Timestamp == nil {
			return models.MessageRef{}, "Missing required fields"
		}
		id, okID := wholeNumber(*req.Identifier)
		ts, okTS := wholeNumber(*req.Timestamp)
		if !okID || !okTS {
			return models.MessageRef{}, "Invalid data"
		}
		return models.MessageRef{Id: id, Timestamp: ts}, ""
	case req.MessageNonceToRemove != nil || req.TimestampToRemove != nil:
		if req.MessageNonceToRemove == nil || req.TimestampToRemove == nil {
			return models.MessageRef{}, "Missing required fields"
		}
		nonce, okNonce := wholeNumber(*req.MessageNonceToRemove)
		ts, okTS := wholeNumber(*req.TimestampToRemove)
		if !okNonce || !okTS {
			return models.MessageRef{}, "Invalid data"
		}
		return models.MessageRef{Nonce: nonce, Timestamp: ts, ByNonce: true}, ""
	default:
		return models.MessageRef{}, "Missing required fields"
	}
}

// wholeNumber accepts a JSON number with no fractional part, so 2 and 2.0
// both pass while "2", true or 2.5 do not.
func wholeNumber(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	num := json.Number(raw)
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// fail maps relay errors onto HTTP statuses. Storage failures are logged and
// reported with the route's generic message.
func (h *Handler) fail(w http.ResponseWriter, err error, persistenceMsg string) {
	status := statusFor(err)
	msg := persistenceMsg
	switch {
	case errors.Is(err, models.ErrNotFound):
		msg = "Message not found"
	case errors.Is(err, models.ErrInvalidArgument):
		msg = "Invalid data"
	case errors.Is(err, models.ErrKeyUnavailable):
		msg = "Server key not found"
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error(persistenceMsg)
	}
	jsonError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, models.ErrNotFound):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
