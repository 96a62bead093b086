package publisher

import (
	"context"
	"fmt"
	"github.com/sirupsen/logrus"
	"relay/internals/models"
	"relay/services/relayclient"
	"time"
)

type Options struct {
	Count    int
	Interval time.Duration
}

// Run sends draft Count times, Interval apart, and returns the stored
// messages. It stops early on the first failure or when ctx ends.
func Run(ctx context.Context, client *relayclient.Client, draft models.Draft, opts Options, logger logrus.FieldLogger) ([]models.Message, error) {
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	sent := make([]models.Message, 0, opts.Count)
	var ticker *time.Ticker
	if opts.Count > 1 && opts.Interval > 0 {
		ticker = time.NewTicker(opts.Interval)
		defer ticker.Stop()
	}

	for i := 0; i < opts.Count; i++ {
		if i > 0 && ticker != nil {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-ticker.C:
			}
		}
		msg, err := client.Send(ctx, draft)
		if err != nil {
			return sent, fmt.Errorf("publish %d/%d: %w", i+1, opts.Count, err)
		}
		logger.WithFields(logrus.Fields{
			"id":        msg.Id,
			"timestamp": msg.Timestamp,
			"node":      client.CurrentNode,
		}).Info("published message")
		sent = append(sent, msg)
	}
	return sent, nil
}
