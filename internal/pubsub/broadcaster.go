package pubsub

import "context"

// Broadcaster fans query log records out to other services
type Broadcaster interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Health(ctx context.Context) error
}
