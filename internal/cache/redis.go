package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tlcharts/internal/config"
	"tlcharts/internal/domain"
	rdb "tlcharts/internal/stores/redis"

	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

var _ Store = (*RedisStore)(nil)

type RedisStore struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
}

// Shared cache across instances, JSON value + TTL (0 -> persistent)
// prefix example "tlcharts:chart:"
func NewRedisStore(log logger.Logger, cfg *config.CacheConfig, rdb *rdb.Client) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis cache")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis cache")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "chart:"
	}

	return &RedisStore{
		log:    log,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

// Key hashes the normalized query so arbitrary user text never lands in key names
func (r *RedisStore) Key(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return r.prefix + hex.EncodeToString(sum[:])
}

func (r *RedisStore) Get(ctx context.Context, normalized string) (*domain.CacheEntry, bool, error) {
	b, err := r.rdb.Get(ctx, r.Key(normalized)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		r.log.Errorf("Redis GET error=%v", err)
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entry domain.CacheEntry
	if err = json.Unmarshal(b, &entry); err != nil {
		// a corrupt value is a miss, the next Set overwrites it
		r.log.Warnf("Failed to decode cached chart key=%s err=%v", r.Key(normalized), err)
		return nil, false, nil
	}
	return &entry, true, nil
}

func (r *RedisStore) Set(ctx context.Context, entry domain.CacheEntry) error {
	if entry.NormalizedQuery == "" {
		return errors.New("cache entry without normalized query")
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err = r.rdb.Set(ctx, r.Key(entry.NormalizedQuery), b, r.ttl).Err(); err != nil {
		r.log.Errorf("Redis SET error=%v", err)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Len counts keys under the prefix with SCAN
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		n += len(keys)
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

func (r *RedisStore) Health(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close is a no-op, the client is owned by the container
func (r *RedisStore) Close() error {
	return nil
}
