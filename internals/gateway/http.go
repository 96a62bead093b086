package gateway

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"net/http"
	"relay/interfaces"
	"time"
)

const defaultMaxBodyBytes = 64 * 1024

type RouterOptions struct {
	Relay          interfaces.MessageRelay
	Subscribers    interfaces.Subscriptions
	Guard          *Guard
	KeyPath        string
	LiveSocket     http.Handler
	Logger         logrus.FieldLogger
	MaxBodyBytes   int64
	AllowedOrigins []string
	Heartbeat      time.Duration
}

// NewRouter builds the HTTP surface of the relay. Everything except the
// liveness, key download, health and metrics routes sits behind the guard.
func NewRouter(opts RouterOptions) *chi.Mux {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	logger := opts.Logger.WithField("component", "http")
	h := &Handler{
		relay:     opts.Relay,
		subs:      opts.Subscribers,
		keyPath:   opts.KeyPath,
		heartbeat: opts.Heartbeat,
		logger:    logger,
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(recordMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/", h.Root)
	r.Get("/downloadKey", h.DownloadKey)
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(opts.Guard.RequireKey)

		r.Get("/message", h.ListMessages)
		r.Get("/message/stream", h.Stream)
		if opts.LiveSocket != nil {
			r.Handle("/ws", opts.LiveSocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(chimw.RequestSize(opts.MaxBodyBytes))
			r.Post("/message/send", h.SendMessage)
			r.Post("/message/delete", h.DeleteMessage)
		})
	})

	return r
}
