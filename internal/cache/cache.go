package cache

import (
	"context"

	"tlcharts/internal/domain"
)

// Store keeps successful chart results keyed by normalized query (redis, in-memory)
type Store interface {
	// ok=false -> miss
	Get(ctx context.Context, normalized string) (entry *domain.CacheEntry, ok bool, err error)
	Set(ctx context.Context, entry domain.CacheEntry) error
	Len(ctx context.Context) (int, error)
	Health(ctx context.Context) error
	Close() error
}
