// Package server assembles and runs the relay process.
package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/sirupsen/logrus"
	"net"
	"net/http"
	bootredis "relay/boot/redis"
	"relay/env"
	"relay/internals/dbms"
	"relay/internals/gateway"
	"relay/internals/keystore"
	"relay/services/hub"
	"relay/services/publisher"
	"relay/services/relay"
	"sync"
	"time"
)

// Relay is a fully wired relay instance.
type Relay struct {
	Config  *env.RelayConfig
	Keys    *keystore.Store
	Store   dbms.Dbms
	Hub     *hub.Hub
	Service *relay.Service
	Guard   *gateway.Guard
	Handler http.Handler
	Grpc    *gateway.GrpcGateWay

	logger logrus.FieldLogger
}

// New prepares the key, opens the store and builds the HTTP and gRPC
// surfaces. A key that cannot be created or read is fatal to the caller.
func New(ctx context.Context, cfg *env.RelayConfig, logger logrus.FieldLogger) (*Relay, error) {
	keys := keystore.New(cfg.KeyPath())
	_, created, err := keys.EnsureKey()
	if err != nil {
		return nil, fmt.Errorf("key store: %w", err)
	}
	if created {
		logger.WithField("path", keys.Path()).Info("generated and saved a new 256-bit key")
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("message store: %w", err)
	}

	h := hub.New(cfg.SubscriberBuffer, logger)
	service := relay.NewService(store, h, logger)
	guard := gateway.NewGuard(keys, logger)

	router := gateway.NewRouter(gateway.RouterOptions{
		Relay:          service,
		Subscribers:    h,
		Guard:          guard,
		KeyPath:        keys.Path(),
		LiveSocket:     publisher.NewWebSocketHandler(h, logger),
		Logger:         logger,
		MaxBodyBytes:   int64(cfg.MaxBodyBytes),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &Relay{
		Config:  cfg,
		Keys:    keys,
		Store:   store,
		Hub:     h,
		Service: service,
		Guard:   guard,
		Handler: router,
		Grpc:    gateway.NewGrpcGateWay(h, guard, logger),
		logger:  logger,
	}, nil
}

func openStore(ctx context.Context, cfg *env.RelayConfig, logger logrus.FieldLogger) (dbms.Dbms, error) {
	switch cfg.Store {
	case env.StoreRedis:
		client, err := bootredis.InitRedis(ctx, cfg.RedisHost, cfg.RedisPort, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.WithField("addr", cfg.RedisHost+":"+cfg.RedisPort).Info("connected to redis")
		return dbms.InitRedis(client, dbms.DefaultRedisPrefix, logger)
	default:
		return dbms.InitFile(cfg.MessagesPath(), logger)
	}
}

// Run serves HTTP (and gRPC when configured) until ctx is cancelled or a
// server fails, then shuts everything down and closes the store.
func (r *Relay) Run(ctx context.Context) error {
	defer r.Store.Close()

	var grpcListener net.Listener
	if r.Config.GrpcPort != 0 {
		listener, err := net.Listen("tcp", r.Config.GrpcAddr())
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcListener = listener
	}

	srv := &http.Server{
		Addr:              r.Config.Addr(),
		Handler:           r.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.logger.WithField("addr", srv.Addr).Info("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
			cancel()
		}
	}()

	if grpcListener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Grpc.Serve(ctx, grpcListener); err != nil {
				errs <- fmt.Errorf("grpc: %w", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	r.logger.Info("shutting down server")

	// live channels never finish on their own
	r.Hub.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(),
		time.Duration(r.Config.ShutdownSeconds)*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.WithError(err).Warn("http shutdown")
	}
	wg.Wait()

	close(errs)
	return <-errs
}
