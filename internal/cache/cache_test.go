package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tlcharts/internal/config"
	"tlcharts/internal/domain"
	"tlcharts/internal/logging"
	rdb "tlcharts/internal/stores/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleEntry(q string) domain.CacheEntry {
	return domain.CacheEntry{
		NormalizedQuery: q,
		ChartSpec: domain.ChartSpec{
			Title:     "Daily DEX Volume",
			ChartType: domain.ChartLine,
			XAxis:     domain.Axis{Key: "block_date", Label: "Block Date", Type: domain.ColumnDate},
			Series:    []domain.Series{{Key: "volume_usd", Name: "Volume USD", APIID: "dex-volume"}},
		},
		SelectedAPIs: []string{"dex-volume"},
		Confidence:   0.7,
		Timestamp:    time.Now().UTC().Truncate(time.Second),
	}
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedisStore(logging.Noop(), &config.CacheConfig{TTL: ttl, Prefix: "test:chart:"}, &rdb.Client{Client: client})
	require.NoError(t, err)
	return s, mr
}

func TestMemoryStore_GetSet(t *testing.T) {
	m := NewMemoryStore(logging.Noop(), 0, 0)
	defer m.Close()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "daily dex volume")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, sampleEntry("daily dex volume")))

	got, ok, err := m.Get(ctx, "daily dex volume")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleEntry("daily dex volume").ChartSpec, got.ChartSpec)

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_RejectsEmptyKey(t *testing.T) {
	m := NewMemoryStore(logging.Noop(), 0, 0)
	defer m.Close()
	assert.Error(t, m.Set(context.Background(), domain.CacheEntry{}))
}

func TestMemoryStore_Expiration(t *testing.T) {
	ttl := 40 * time.Millisecond
	m := NewMemoryStore(logging.Noop(), ttl, 0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, sampleEntry("q")))
	time.Sleep(ttl + 20*time.Millisecond)

	_, ok, err := m.Get(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_LenSkipsExpiredWithoutJanitor(t *testing.T) {
	ttl := 30 * time.Millisecond
	m := NewMemoryStore(logging.Noop(), ttl, 0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, sampleEntry("a")))
	require.NoError(t, m.Set(ctx, sampleEntry("b")))

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	time.Sleep(ttl + 20*time.Millisecond)

	n, err = m.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_JanitorCleansUp(t *testing.T) {
	ttl := 20 * time.Millisecond
	janitorEvery := 15 * time.Millisecond
	m := NewMemoryStore(logging.Noop(), ttl, janitorEvery)
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Set(ctx, sampleEntry(fmt.Sprintf("q-%d", i))))
	}

	assert.Eventually(t, func() bool {
		n, _ := m.Len(ctx)
		return n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_NoTTLNeverExpires(t *testing.T) {
	m := NewMemoryStore(logging.Noop(), 0, 5*time.Millisecond)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, sampleEntry("q")))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := m.Get(ctx, "q")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	m := NewMemoryStore(logging.Noop(), 50*time.Millisecond, 10*time.Millisecond)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	m := NewMemoryStore(logging.Noop(), time.Minute, 0)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("q-%d", i%5)
			assert.NoError(t, m.Set(ctx, sampleEntry(key)))
			_, ok, err := m.Get(ctx, key)
			assert.NoError(t, err)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	n, _ := m.Len(ctx)
	assert.Equal(t, 5, n)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "daily dex volume")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := sampleEntry("daily dex volume")
	require.NoError(t, s.Set(ctx, entry))

	got, ok, err := s.Get(ctx, "daily dex volume")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.ChartSpec, got.ChartSpec)
	assert.Equal(t, entry.SelectedAPIs, got.SelectedAPIs)
	assert.True(t, entry.Timestamp.Equal(got.Timestamp))

	key := s.Key("daily dex volume")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Duration(0), mr.TTL(key))
	assert.Len(t, key, len("test:chart:")+40)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, s.Health(ctx))
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, sampleEntry("q")))
	assert.Equal(t, time.Minute, mr.TTL(s.Key("q")))

	mr.FastForward(2 * time.Minute)

	_, ok, err := s.Get(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_CorruptValueIsMiss(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	require.NoError(t, mr.Set(s.Key("q"), "{not json"))

	_, ok, err := s.Get(context.Background(), "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_Unavailable(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s, err := NewRedisStore(logging.Noop(), &config.CacheConfig{Prefix: "test:"}, &rdb.Client{Client: client})
	require.NoError(t, err)

	_, _, err = s.Get(context.Background(), "q")
	assert.Error(t, err)
	assert.Error(t, s.Set(context.Background(), sampleEntry("q")))
	assert.Error(t, s.Health(context.Background()))
}

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(logging.Noop(), nil, &rdb.Client{})
	assert.Error(t, err)
	_, err = NewRedisStore(logging.Noop(), &config.CacheConfig{}, nil)
	assert.Error(t, err)
}
