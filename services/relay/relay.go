package relay

import (
	"context"
	"github.com/sirupsen/logrus"
	"relay/interfaces"
	"relay/internals/dbms"
	"relay/internals/metrics"
	"relay/internals/models"
	"sync"
)

// Service ties the message store to the broadcast hub. Mutations hold one
// lock across the store write and the publish, so live subscribers see
// events in the same order the store recorded them, and only after the
// write succeeded.
type Service struct {
	store       dbms.Dbms
	broadcaster interfaces.Broadcaster
	mu          sync.Mutex
	logger      logrus.FieldLogger
}

var _ interfaces.MessageRelay = (*Service)(nil)

func NewService(store dbms.Dbms, broadcaster interfaces.Broadcaster, logger logrus.FieldLogger) *Service {
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.WithField("component", "relay"),
	}
}

func (s *Service) Send(ctx context.Context, draft models.Draft) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.store.Append(ctx, draft)
	if err != nil {
		return models.Message{}, err
	}
	metrics.MessagesAppended.WithLabelValues(msg.Level.String()).Inc()

	delivered := s.broadcaster.Publish(models.NewMessageEvent(msg))
	s.logger.WithFields(logrus.Fields{
		"id":          msg.Id,
		"level":       msg.Level.String(),
		"subscribers": delivered,
	}).Info("message received")
	return msg, nil
}

func (s *Service) Fetch(ctx context.Context, since *int64) ([]models.Message, error) {
	return s.store.ListSince(ctx, since)
}

func (s *Service) Delete(ctx context.Context, ref models.MessageRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.store.Delete(ctx, ref)
	if err != nil {
		return 0, err
	}
	metrics.MessagesDeleted.Add(float64(removed))
	s.broadcaster.Publish(models.DeletedEvent(ref, removed))

	s.logger.WithFields(logrus.Fields{
		"ref":     ref.String(),
		"wipe":    ref.IsWipe(),
		"removed": removed,
	}).Info("message(s) deleted")
	return removed, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
