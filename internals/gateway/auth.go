package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"github.com/sirupsen/logrus"
	"net/http"
	"relay/interfaces"
	"relay/internals/metrics"
	"relay/internals/models"
)

const APIKeyHeader = "x-api-key"

// Guard checks request credentials against the shared key.
type Guard struct {
	keys   interfaces.KeyProvider
	logger logrus.FieldLogger
}

func NewGuard(keys interfaces.KeyProvider, logger logrus.FieldLogger) *Guard {
	return &Guard{keys: keys, logger: logger.WithField("component", "auth")}
}

// Check returns nil for the right credential, ErrUnauthorized for a missing
// or wrong one and ErrKeyUnavailable when the server key cannot be read.
func (g *Guard) Check(credential string) error {
	key, err := g.keys.CurrentKey()
	if err != nil {
		return err
	}
	if credential == "" {
		return fmt.Errorf("%w: missing credential", models.ErrUnauthorized)
	}
	// compare digests so the comparison time does not depend on the length
	// of the supplied credential either
	given := sha256.Sum256([]byte(credential))
	want := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(given[:], want[:]) != 1 {
		return models.ErrUnauthorized
	}
	return nil
}

func (g *Guard) Authenticate(credential string) bool {
	return g.Check(credential) == nil
}

// RequireKey rejects requests without a valid x-api-key header before any
// handler runs.
func (g *Guard) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := g.Check(r.Header.Get(APIKeyHeader))
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, models.ErrKeyUnavailable):
			g.logger.WithError(err).Error("server key unavailable")
			jsonError(w, http.StatusInternalServerError, "Server key not found")
		default:
			metrics.AuthFailures.WithLabelValues("http").Inc()
			g.logger.WithFields(logrus.Fields{
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			}).Warn("rejected request: invalid api key")
			jsonError(w, http.StatusForbidden, "Invalid API key")
		}
	})
}
