package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tlcharts/internal/config"
	"tlcharts/internal/domain"
	"tlcharts/internal/logging"
	"tlcharts/internal/window"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testCatalog = `apis:
  - id: solana-dex-volume
    title: Daily DEX Volume
    description: Daily swap volume in USD across Solana decentralized exchanges
    domain: solana
    page: dex
    query_id: 1001
    tags: [dex, volume, swaps]
    columns:
      - {name: block_date, type: date}
      - {name: volume_usd, type: number}
`

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	for _, k := range []string{"ANTHROPIC_API_KEY", "TOPLEDGER_API_KEY", "GEMINI_API_KEY", "REDIS_PASSWORD"} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	catPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catPath, []byte(testCatalog), 0o600))

	yml := "catalog:\n  path: " + catPath + "\n" +
		"query_log:\n  file_path: " + filepath.Join(dir, "queries.jsonl") + "\n" + extra
	cfg, err := config.Parse([]byte(yml))
	require.NoError(t, err)
	return cfg
}

func TestBuildCore_GeneratesAndLogs(t *testing.T) {
	cfg := testConfig(t, "")

	core, err := BuildCore(context.Background(), cfg, logging.Noop())
	require.NoError(t, err)
	assert.Nil(t, core.Redis)

	resp, err := core.Charts.Generate(context.Background(), "daily dex volume")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, resp.Source)
	require.NotEmpty(t, resp.APIs)
	assert.Equal(t, "solana-dex-volume", resp.APIs[0].ID)

	assert.EqualValues(t, 1, core.Stats.Summary().W5m.Queries)

	status, err := core.Health.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status["cache"])
	assert.Equal(t, "ok", status["query_log"])

	require.NoError(t, core.Close(context.Background()))

	b, err := os.ReadFile(cfg.QueryLog.FilePath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(b), "\n"))
	assert.Contains(t, string(b), `"daily dex volume"`)
}

func TestBuildCore_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, "cache:\n  backend: redis\nstores:\n  redis:\n    addr: "+mr.Addr()+"\n")

	core, err := BuildCore(context.Background(), cfg, logging.Noop())
	require.NoError(t, err)
	require.NotNil(t, core.Redis)
	defer func() { _ = core.Close(context.Background()) }()

	_, err = core.Charts.Generate(context.Background(), "dex volume")
	require.NoError(t, err)

	n, err := core.Charts.CacheSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, err := core.Health.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status["redis"])
}

func TestBuildCore_ChartClaims(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, "cache:\n  backend: redis\n  claim:\n    enabled: true\nstores:\n  redis:\n    addr: "+mr.Addr()+"\n")

	core, err := BuildCore(context.Background(), cfg, logging.Noop())
	require.NoError(t, err)
	defer func() { _ = core.Close(context.Background()) }()

	resp, err := core.Charts.Generate(context.Background(), "Dex Volume")
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)

	// released once the chart is computed
	assert.False(t, mr.Exists("tlcharts:claim:dex volume"))
}

func TestBuildCore_FailsOnMissingCatalog(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := BuildCore(context.Background(), cfg, logging.Noop())
	require.Error(t, err)
}

func TestStatsPersister_SaveLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	fresh := window.New(logging.Noop())
	p := newStatsPersister(logging.Noop(), rdb, fresh, "node-1", time.Minute)
	require.NoError(t, p.Load(ctx), "missing snapshot is not an error")

	src := window.New(logging.Noop())
	require.NoError(t, src.Append(ctx, domain.QueryLogRecord{Success: true, Source: domain.SourceFallback, ProcessingTimeMs: 8, Timestamp: time.Now()}))
	require.NoError(t, src.Append(ctx, domain.QueryLogRecord{Success: false, Timestamp: time.Now()}))
	require.NoError(t, newStatsPersister(logging.Noop(), rdb, src, "node-1", time.Minute).Save(ctx))

	assert.True(t, mr.Exists("tlcharts:window:node-1"))
	assert.Greater(t, mr.TTL("tlcharts:window:node-1"), 24*time.Hour)

	require.NoError(t, p.Load(ctx))
	got := fresh.Summary().W1h
	assert.EqualValues(t, 2, got.Queries)
	assert.EqualValues(t, 1, got.Failures)
	assert.EqualValues(t, 1, got.Fallbacks)

	require.NoError(t, mr.Set("tlcharts:window:node-1", "garbage"))
	assert.Error(t, p.Load(ctx))
}

func TestStatsPersister_RunSavesOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	stats := window.New(logging.Noop())
	require.NoError(t, stats.Append(context.Background(), domain.QueryLogRecord{Success: true, Timestamp: time.Now()}))

	p := newStatsPersister(logging.Noop(), rdb, stats, "", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
	assert.True(t, mr.Exists("tlcharts:window:default"))
}

type fakeServer struct {
	started  atomic.Bool
	stopped  atomic.Bool
	startErr error
}

func (f *fakeServer) Start(chan<- error) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.stopped.Store(true)
	return nil
}

type blockingLoop struct{ exited atomic.Bool }

func (b *blockingLoop) Run(ctx context.Context) {
	<-ctx.Done()
	b.exited.Store(true)
}

func TestApp_StartShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := &fakeServer{}
	loop := &blockingLoop{}
	a := New(logging.Noop(), srv, loop)

	require.NoError(t, a.Start(make(chan error, 1)))
	assert.True(t, srv.started.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	assert.True(t, srv.stopped.Load())
	assert.True(t, loop.exited.Load())
}

func TestApp_StartFailsWhenServerCannotBind(t *testing.T) {
	a := New(logging.Noop(), &fakeServer{startErr: errors.New("address in use")})
	require.Error(t, a.Start(make(chan error, 1)))
	require.NoError(t, a.Shutdown(context.Background()))
}
