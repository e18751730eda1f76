package redis

import (
	"context"
	"fmt"
	"time"

	"tlcharts/internal/config"
	"tlcharts/internal/dedupe"
	rdb "tlcharts/internal/stores/redis"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

var _ dedupe.Deduper = (*RedisDedupe)(nil)

// KEYS[1] = key, ARGV[1] = owner, ARGV[2] = ttl_ms
// returns 1 when another owner holds the key
var luaClaim = goredis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 0
end
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 0
end
return 1
`)

// KEYS[1] = key, ARGV[1] = owner
var luaRelease = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisDedupe struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
	owner  string
}

// Cluster-wide claim on redis SET NX + TTL, the value names the owning instance.
// prefix example "tlcharts:claim:"; empty owner gets a random one.
func NewRedisDeduper(log logger.Logger, cfg *config.ClaimConfig, rdb *rdb.Client, owner string) (*RedisDedupe, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis deduper")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis deduper")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("redis deduper ttl must be positive, got %s", cfg.TTL)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dedupe:"
	}
	if owner == "" {
		owner = uuid.NewString()
	}

	return &RedisDedupe{
		log:    log,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: prefix,
		owner:  owner,
	}, nil
}

func (d *RedisDedupe) Seen(ctx context.Context, id string) (bool, error) {
	res, err := luaClaim.Run(ctx, d.rdb, []string{d.prefix + id}, d.owner, d.ttl.Milliseconds()).Int64()
	if err != nil {
		d.log.Errorf("Redis claim error=%v", err)
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return res == 1, nil
}

func (d *RedisDedupe) Release(ctx context.Context, id string) error {
	if err := luaRelease.Run(ctx, d.rdb, []string{d.prefix + id}, d.owner).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}
