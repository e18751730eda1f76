package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tlcharts/internal/window"

	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

const snapshotTTL = 25 * time.Hour

type snapshotKV interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// statsPersister keeps the rolling query stats in redis so /api/analytics/summary survives restarts
type statsPersister struct {
	log   logger.Logger
	kv    snapshotKV
	stats *window.Stats
	key   string
	tick  time.Duration
}

func newStatsPersister(log logger.Logger, kv snapshotKV, stats *window.Stats, instanceID string, tick time.Duration) *statsPersister {
	if instanceID == "" {
		instanceID = "default"
	}
	return &statsPersister{
		log:   log,
		kv:    kv,
		stats: stats,
		key:   "tlcharts:window:" + instanceID,
		tick:  tick,
	}
}

// Load restores the last snapshot, a missing key is not an error
func (p *statsPersister) Load(ctx context.Context) error {
	b, err := p.kv.Get(ctx, p.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load stats snapshot: %w", err)
	}

	if err := p.stats.Restore(ctx, b); err != nil {
		return fmt.Errorf("restore stats snapshot: %w", err)
	}
	p.log.Infof("Restored query stats snapshot from %s", p.key)
	return nil
}

func (p *statsPersister) Save(ctx context.Context) error {
	b, err := p.stats.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := p.kv.Set(ctx, p.key, b, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("save stats snapshot: %w", err)
	}
	return nil
}

// Run saves every tick and once more on the way out
func (p *statsPersister) Run(ctx context.Context) {
	t := time.NewTicker(p.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := p.Save(saveCtx); err != nil {
				p.log.Errorf("Failed to save stats snapshot on shutdown: %v", err)
			}
			cancel()
			return
		case <-t.C:
			if err := p.Save(ctx); err != nil {
				p.log.Warnf("Failed to save stats snapshot: %v", err)
			}
		}
	}
}
