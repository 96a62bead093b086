package interfaces

import (
	"context"
	"relay/internals/models"
	"relay/services/hub"
)

type KeyProvider interface {
	CurrentKey() (string, error)
}

type Broadcaster interface {
	Publish(event models.Event) int
}

// Subscriptions is the part of the hub live transports use.
type Subscriptions interface {
	Subscribe() *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
	Count() int
}

// MessageRelay is what the HTTP and gRPC gateways call into.
type MessageRelay interface {
	Send(ctx context.Context, draft models.Draft) (models.Message, error)
	Fetch(ctx context.Context, since *int64) ([]models.Message, error)
	Delete(ctx context.Context, ref models.MessageRef) (int, error)
	Ping(ctx context.Context) error
}
