package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"tlcharts/internal/cache"
	"tlcharts/internal/catalog"
	"tlcharts/internal/config"
	"tlcharts/internal/dedupe"
	dedupeRedis "tlcharts/internal/dedupe/redis"
	"tlcharts/internal/llm"
	"tlcharts/internal/metrics"
	"tlcharts/internal/pubsub/nats"
	"tlcharts/internal/querylog"
	"tlcharts/internal/search"
	"tlcharts/internal/service"
	"tlcharts/internal/stores/clickhouse"
	"tlcharts/internal/stores/redis"
	"tlcharts/internal/topledger"
	"tlcharts/internal/window"

	"gitlab.com/nevasik7/alerting/logger"
)

// Core is everything a chart request needs, shared by the server and the CLI commands
type Core struct {
	Log       logger.Logger
	Catalog   *catalog.Catalog
	Index     *search.Index
	Charts    *service.ChartService
	Data      *service.DataService
	Topledger *topledger.Client
	Stats     *window.Stats
	Metrics   *metrics.Metrics
	Health    *service.Dependencies
	Redis     *redis.Client // nil unless the cache or the rate limiter uses it

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func (c *Core) onClose(name string, fn func(ctx context.Context) error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse construction order
func (c *Core) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(ctx); err != nil {
			c.Log.Errorf("Failed to close %s: %v", cl.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", cl.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// BuildCore wires catalog, search, planner, cache, query log and the topledger client.
// On error everything built so far is closed.
func BuildCore(ctx context.Context, cfg *config.Config, lg logger.Logger) (_ *Core, err error) {
	core := &Core{Log: lg, Metrics: metrics.New(), Health: service.NewDependencies(lg)}
	defer func() {
		if err != nil {
			_ = core.Close(context.WithoutCancel(ctx))
		}
	}()

	// Catalog
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", cfg.Catalog.Path, err)
	}
	core.Catalog = cat
	lg.Infof("Successfully load catalog, apis=%d", cat.Len())

	// Search index
	emb, err := search.NewEmbedder(ctx, cfg.Search.Embedder)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	core.Index = search.New(cat, emb, search.Options{Mode: search.Mode(cfg.Search.Mode), TopK: cfg.Search.TopK}, lg)
	lg.Infof("Successfully initialize search index, mode=%s embedder=%s", cfg.Search.Mode, cfg.Search.Embedder.Provider)

	// Redis client
	if cfg.Cache.Backend == "redis" || cfg.RateLimit.Enabled {
		rdb, err := redis.New(ctx, cfg.Stores.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		core.Redis = rdb
		core.onClose("redis", func(context.Context) error { return rdb.Close() })
		core.Health.Add("redis", service.CheckerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
		lg.Infof("Successfully initialize redis client, addr=%s", cfg.Stores.Redis.Addr)
	}

	// Chart cache
	var store cache.Store
	if cfg.Cache.Backend == "redis" {
		if store, err = cache.NewRedisStore(lg, &cfg.Cache, core.Redis); err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
	} else {
		store = cache.NewMemoryStore(lg, cfg.Cache.TTL, cfg.Cache.JanitorEvery)
	}
	core.onClose("cache", func(context.Context) error { return store.Close() })
	core.Health.Add("cache", store)
	lg.Infof("Successfully initialize chart cache, backend=%s ttl=%s", cfg.Cache.Backend, cfg.Cache.TTL)

	// Query log
	sinks, err := core.buildSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	multi := querylog.NewMulti(lg, sinks...)
	core.onClose("query log", multi.Close)
	core.Health.Add("query_log", multi)

	// Planner
	planner := llm.New(cfg.LLM, core.Index, cat, lg)
	if cfg.LLM.Enabled && cfg.LLM.APIKey == "" {
		lg.Warnf("LLM enabled without api key, charts use the heuristic planner")
	}

	// Cross-instance claim on cache misses
	var claims dedupe.Deduper
	if cfg.Cache.Claim.Enabled && core.Redis != nil {
		d, err := dedupeRedis.NewRedisDeduper(lg, &cfg.Cache.Claim, core.Redis, cfg.App.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("init chart claims: %w", err)
		}
		claims = d
		lg.Infof("Successfully initialize chart claims, ttl=%s", cfg.Cache.Claim.TTL)
	}

	core.Charts = service.NewChartService(service.ChartDeps{
		Log:            lg,
		Search:         core.Index,
		Planner:        planner,
		Cache:          store,
		Catalog:        cat,
		Sink:           multi,
		Metrics:        core.Metrics,
		MaxQueryLength: cfg.App.MaxQueryLength,
		Claims:         claims,
		ClaimWait:      cfg.Cache.Claim.TTL,
		ClaimPoll:      cfg.Cache.Claim.PollEvery,
	})

	// Topledger client
	tl, err := topledger.New(cfg.Topledger, lg, topledger.WithObserver(core.Metrics))
	if err != nil {
		return nil, fmt.Errorf("init topledger client: %w", err)
	}
	core.Topledger = tl
	core.onClose("topledger", func(context.Context) error { tl.Close(); return nil })
	core.Data = service.NewDataService(lg, cat, tl)
	lg.Infof("Successfully initialize topledger client, base=%s", cfg.Topledger.BaseURL)

	return core, nil
}

// buildSinks: rolling stats always, then the configured file, clickhouse and nats sinks
func (c *Core) buildSinks(ctx context.Context, cfg *config.Config) ([]querylog.Sink, error) {
	c.Stats = window.New(c.Log)
	sinks := []querylog.Sink{c.Stats}

	if cfg.QueryLog.FilePath != "" {
		fs, err := querylog.NewFileSink(cfg.QueryLog.FilePath)
		if err != nil {
			return nil, fmt.Errorf("init query log file: %w", err)
		}
		sinks = append(sinks, fs)
		c.Log.Infof("Successfully initialize query log file %s", cfg.QueryLog.FilePath)
	}

	if cfg.QueryLog.ClickHouse.Enabled {
		conn, err := clickhouse.New(ctx, &cfg.QueryLog.ClickHouse)
		if err != nil {
			closeSinks(ctx, sinks)
			return nil, fmt.Errorf("init clickhouse: %w", err)
		}
		// the writer is flushed by the query log close, which runs before this
		c.onClose("clickhouse", func(context.Context) error { return conn.Close() })
		c.Health.Add("clickhouse", conn)

		w := clickhouse.NewWriter(c.Log, conn.Native, cfg.QueryLog.ClickHouse)
		sinks = append(sinks, querylog.NewClickHouseSink(w, cfg.App.InstanceID))
		c.Log.Infof("Successfully initialize clickhouse writer, table=%s host=%s", cfg.QueryLog.ClickHouse.Table, dsnHost(cfg.QueryLog.ClickHouse.DSN))
	}

	if cfg.QueryLog.NATS.Enabled {
		nc, err := nats.Connect(&cfg.QueryLog.NATS, c.Log)
		if err != nil {
			closeSinks(ctx, sinks)
			return nil, fmt.Errorf("init nats: %w", err)
		}
		c.onClose("nats", func(context.Context) error { return nc.Close() })

		ns := querylog.NewNATSSink(nc, cfg.QueryLog.NATS.BroadcastPrefix)
		sinks = append(sinks, ns)
		c.Log.Infof("Successfully initialize nats sink, subject=%s", ns.Subject())
	}

	return sinks, nil
}

// dsnHost drops credentials and options before logging
func dsnHost(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "?"
	}
	return u.Host
}

func closeSinks(ctx context.Context, sinks []querylog.Sink) {
	for _, s := range sinks {
		_ = s.Close(ctx)
	}
}
