// Package subscriber follows a relay: it keeps a live subscription open and
// uses the pull API to catch up on anything missed while disconnected.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"relay/internals/gateway"
	"relay/internals/models"
	"relay/services/relayclient"
	"time"
)

const (
	TransportWebSocket = "ws"
	TransportGrpc      = "grpc"
)

type Options struct {
	Transport      string
	GrpcHost       string
	APIKey         string
	Since          *int64
	ReconnectDelay time.Duration
	// Handle is called for every message (catch-up and live) and every
	// deletion event, in order.
	Handle func(models.Event) error
}

type eventStream interface {
	Recv() (models.Event, error)
	Close() error
}

type grpcStream struct {
	sub  *gateway.GrpcSubscription
	conn *grpc.ClientConn
}

func (s *grpcStream) Recv() (models.Event, error) { return s.sub.Recv() }
func (s *grpcStream) Close() error                { return s.conn.Close() }

// cursor tracks what the subscriber has already handled. Ids are monotonic,
// so they de-duplicate messages seen both live and in a catch-up fetch.
type cursor struct {
	timestamp *int64
	lastID    int64
}

func (c *cursor) accept(msg models.Message) bool {
	if msg.Id <= c.lastID {
		return false
	}
	c.lastID = msg.Id
	ts := msg.Timestamp
	c.timestamp = &ts
	return true
}

// fetchFrom steps back one millisecond once a message has been handled: a
// later message may share its timestamp, and the id check drops the ones
// already seen. A caller supplied cursor stays exclusive.
func (c *cursor) fetchFrom() *int64 {
	if c.timestamp == nil || c.lastID == 0 {
		return c.timestamp
	}
	from := *c.timestamp - 1
	return &from
}

// Tail runs until ctx is cancelled or Handle returns an error.
func Tail(ctx context.Context, client *relayclient.Client, opts Options, logger logrus.FieldLogger) error {
	if opts.Handle == nil {
		return errors.New("subscriber: Handle is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	cur := &cursor{timestamp: opts.Since}

	for {
		err := follow(ctx, client, opts, cur, logger)
		var handlerErr *handlerError
		if errors.As(err, &handlerErr) {
			return handlerErr.err
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, models.ErrUnauthorized) {
			return err
		}
		logger.WithError(err).Warn("subscription lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.ReconnectDelay):
		}
	}
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

func follow(ctx context.Context, client *relayclient.Client, opts Options, cur *cursor, logger logrus.FieldLogger) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}
	logger.WithField("node", client.CurrentNode).Debug("connected to relay")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe before catching up so nothing falls between the two
	stream, err := open(ctx, client, opts)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer stream.Close()
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	missed, err := client.Fetch(ctx, cur.fetchFrom())
	if err != nil {
		return fmt.Errorf("catch up: %w", err)
	}
	for _, msg := range missed {
		if cur.accept(msg) {
			if err := opts.Handle(models.NewMessageEvent(msg)); err != nil {
				return &handlerError{err}
			}
		}
	}
	logger.WithField("missed", len(missed)).Debug("caught up")

	for {
		evt, err := stream.Recv()
		if err != nil {
			return err
		}
		if msg, ok := evt.Payload.(models.Message); ok && !cur.accept(msg) {
			continue
		}
		if err := opts.Handle(evt); err != nil {
			return &handlerError{err}
		}
	}
}

func open(ctx context.Context, client *relayclient.Client, opts Options) (eventStream, error) {
	switch opts.Transport {
	case TransportGrpc:
		if opts.GrpcHost == "" {
			return nil, errors.New("grpc host is required for the grpc transport")
		}
		conn, err := grpc.NewClient(opts.GrpcHost, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		sub, err := gateway.SubscribeGrpc(ctx, conn, opts.APIKey)
		if err != nil {
			conn.Close()
			if status.Code(err) == codes.PermissionDenied {
				return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
			}
			return nil, err
		}
		return &grpcStream{sub: sub, conn: conn}, nil
	default:
		return client.Listen(ctx)
	}
}
