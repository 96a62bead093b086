package relayclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"relay/internals/models"
)

// APIError is a non-success response from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay: %d %s", e.Status, e.Message)
}

// Unwrap maps the response onto the relay's error taxonomy so callers can use
// errors.Is(err, models.ErrNotFound) and friends.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusForbidden:
		return models.ErrUnauthorized
	case e.Status == http.StatusBadRequest && e.Message == "Message not found":
		return models.ErrNotFound
	case e.Status == http.StatusBadRequest:
		return models.ErrInvalidArgument
	case e.Status == http.StatusInternalServerError && e.Message == "Server key not found":
		return models.ErrKeyUnavailable
	case e.Status >= http.StatusInternalServerError:
		return models.ErrPersistence
	default:
		return nil
	}
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error string `json:"error"`
	}
	msg := string(data)
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
