package dbms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"relay/helpers"
	"relay/internals/models"
	"sync"
	"time"
)

const DefaultRedisPrefix = "relay"

// Redis keeps the message log as a redis list of JSON messages plus a
// counter key. Mutations are serialized in-process; the relay is single node.
type Redis struct {
	client *redis.Client
	prefix string
	mu     sync.Mutex
	now    clock
	logger logrus.FieldLogger
}

var _ Dbms = (*Redis)(nil)

func InitRedis(client *redis.Client, prefix string, logger logrus.FieldLogger) (*Redis, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	store := &Redis{
		client: client,
		prefix: prefix,
		now:    time.Now,
		logger: logger.WithField("store", "redis"),
	}
	length, err := client.LLen(context.Background(), store.messagesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	store.logger.WithFields(logrus.Fields{
		"prefix":   prefix,
		"messages": length,
	}).Info("message store opened")
	return store, nil
}

func (r *Redis) messagesKey() string { return r.prefix + ":messages" }
func (r *Redis) counterKey() string  { return r.prefix + ":counter" }

func (r *Redis) Append(ctx context.Context, draft models.Draft) (models.Message, error) {
	if !draft.Level.Valid() {
		return models.Message{}, fmt.Errorf("%w: level %d out of range", models.ErrInvalidArgument, draft.Level)
	}
	nonce, err := helpers.GenerateNonce()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: nonce: %v", models.ErrPersistence, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var last []models.Message
	reply, err := r.client.LIndex(ctx, r.messagesKey(), -1).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	default:
		var msg models.Message
		if err := json.Unmarshal([]byte(reply), &msg); err != nil {
			return models.Message{}, fmt.Errorf("%w: decode: %v", models.ErrPersistence, err)
		}
		last = append(last, msg)
	}

	id, err := r.client.Incr(ctx, r.counterKey()).Result()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	msg := models.Message{
		Id:        id,
		Level:     draft.Level,
		Title:     draft.Title,
		Content:   draft.Content,
		Timestamp: nextTimestamp(r.now(), last),
		Nonce:     nonce,
	}
	itemJSON, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: encode: %v", models.ErrPersistence, err)
	}
	if err := r.client.RPush(ctx, r.messagesKey(), itemJSON).Err(); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return msg, nil
}

func (r *Redis) ListSince(ctx context.Context, cursor *int64) ([]models.Message, error) {
	_, messages, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return filterSince(messages, cursor), nil
}

func (r *Redis) Delete(ctx context.Context, ref models.MessageRef) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ref.IsWipe() {
		var length *redis.IntCmd
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			length = pipe.LLen(ctx, r.messagesKey())
			pipe.Del(ctx, r.messagesKey())
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
		return int(length.Val()), nil
	}

	raw, messages, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	var matched []string
	for i, msg := range messages {
		if ref.Matches(msg) {
			matched = append(matched, raw[i])
		}
	}
	if len(matched) == 0 {
		return 0, fmt.Errorf("%w: %s", models.ErrNotFound, ref)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range matched {
			pipe.LRem(ctx, r.messagesKey(), 1, item)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return len(matched), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) load(ctx context.Context) ([]string, []models.Message, error) {
	raw, err := r.client.LRange(ctx, r.messagesKey(), 0, -1).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	messages := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, nil, fmt.Errorf("%w: decode: %v", models.ErrPersistence, err)
		}
		messages = append(messages, msg)
	}
	return raw, messages, nil
}
