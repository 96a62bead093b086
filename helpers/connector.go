package helpers

import (
	"context"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ConnectionChecker struct {
	Timeout time.Duration
}

func NewConnectionChecker() *ConnectionChecker {
	return &ConnectionChecker{Timeout: 5 * time.Second}
}

func (c *ConnectionChecker) CheckConnection(ctx context.Context, client Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	return client.Ping(ctx)
}
