package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"tlcharts/internal/domain"
	"tlcharts/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCatalog []domain.APIDescriptor

func (s staticCatalog) All() []domain.APIDescriptor { return s }

func testAPIs() staticCatalog {
	return staticCatalog{
		{
			ID: "dex-volume", Title: "Daily DEX Volume", Domain: "solana", Page: "dex",
			Description: "Daily swap volume across Solana exchanges",
			Tags:        []string{"dex", "volume", "swaps"},
			Columns:     []domain.Column{{Name: "block_date", Type: "date"}, {Name: "volume_usd", Type: "number"}},
		},
		{
			ID: "txn-stats", Title: "Transaction Stats", Domain: "solana", Page: "network",
			Description: "Successful and failed transactions",
			Tags:        []string{"transactions", "txns"},
			Columns:     []domain.Column{{Name: "block_date", Type: "date"}, {Name: "success_txns", Type: "number"}},
		},
		{
			ID: "launchpad-revenue", Title: "Launchpad Revenue", Domain: "launchpads", Page: "revenue",
			Description: "Fee revenue of token launchpads",
			Tags:        []string{"launchpad", "revenue", "fees"},
			Columns:     []domain.Column{{Name: "block_date", Type: "date"}, {Name: "revenue_usd", Type: "number"}},
		},
		{
			ID: "jupiter-volume", Title: "Jupiter Volume History", Domain: "jupiter",
			Description: "Aggregated swap volume routed by Jupiter",
			Tags:        []string{"jupiter", "volume"},
			Columns:     []domain.Column{{Name: "date", Type: "date"}, {Name: "volume", Type: "number"}},
		},
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
	fail  atomic.Bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return nil, errors.New("temporary failure")
	}
	return c.inner.Embed(ctx, text)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"daily", "dex", "volume", "solana"}, Tokenize("Show me the daily DEX volume on Solana"))
	assert.Equal(t, []string{"txn", "fee", "activity"}, Tokenize("txns, fees & activities"))
	assert.Equal(t, []string{"tps", "class"}, Tokenize("TPS class"))
	assert.Empty(t, Tokenize("the of a"))
}

func TestKeywordSearch_Ranking(t *testing.T) {
	ix := New(testAPIs(), nil, Options{Mode: ModeKeyword, TopK: 3}, logging.Noop())

	res, err := ix.Search(context.Background(), "daily dex volume", 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.APIs)

	assert.Equal(t, "dex-volume", res.APIs[0].ID)
	assert.Equal(t, len(res.APIs), res.TotalResults)
	assert.LessOrEqual(t, len(res.APIs), 3)
	assert.Len(t, res.Scores, len(res.APIs))
	for i := 1; i < len(res.Scores); i++ {
		assert.GreaterOrEqual(t, res.Scores[i-1], res.Scores[i])
	}
}

func TestKeywordSearch_ExcludesZeroScore(t *testing.T) {
	ix := New(testAPIs(), nil, Options{Mode: ModeKeyword}, logging.Noop())

	res, err := ix.Search(context.Background(), "launchpad revenue", 10)
	require.NoError(t, err)
	require.Len(t, res.APIs, 1)
	assert.Equal(t, "launchpad-revenue", res.APIs[0].ID)

	res, err = ix.Search(context.Background(), "nft floor price", 10)
	require.NoError(t, err)
	assert.Empty(t, res.APIs)
	assert.Zero(t, res.TotalResults)
}

func TestKeywordSearch_TiesById(t *testing.T) {
	apis := staticCatalog{
		{ID: "b", Title: "Volume"},
		{ID: "a", Title: "Volume"},
	}
	ix := New(apis, nil, Options{Mode: ModeKeyword}, logging.Noop())

	res, err := ix.Search(context.Background(), "volume", 5)
	require.NoError(t, err)
	require.Len(t, res.APIs, 2)
	assert.Equal(t, "a", res.APIs[0].ID)
	assert.Equal(t, "b", res.APIs[1].ID)
}

func TestHybridSearch_HashEmbedder(t *testing.T) {
	ix := New(testAPIs(), NewHashEmbedder(128), Options{Mode: ModeHybrid, TopK: 5}, logging.Noop())
	require.NoError(t, ix.Init(context.Background()))
	assert.True(t, ix.Ready())

	res, err := ix.Search(context.Background(), "solana transaction stats", 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.APIs)
	assert.Equal(t, "txn-stats", res.APIs[0].ID)
}

func TestHybridSearch_LexicalMatchesKeywordMode(t *testing.T) {
	kw := New(testAPIs(), nil, Options{Mode: ModeKeyword}, logging.Noop())
	hy := New(testAPIs(), NewHashEmbedder(128), Options{Mode: ModeHybrid}, logging.Noop())
	ctx := context.Background()

	want, err := kw.Search(ctx, "solana volume", 10)
	require.NoError(t, err)
	got, err := hy.Search(ctx, "solana volume", 10)
	require.NoError(t, err)

	require.NotEmpty(t, want.APIs)
	require.Len(t, got.Lexical, len(got.APIs))
	for i, api := range want.APIs {
		assert.InDelta(t, want.Scores[i], got.LexicalScore(api.ID), 1e-9, api.ID)
	}
	assert.Equal(t, want.Scores, want.Lexical)
}

func TestVectorSearch_DegradesToKeyword(t *testing.T) {
	ix := New(testAPIs(), failingEmbedder{}, Options{Mode: ModeVector}, logging.Noop())

	res, err := ix.Search(context.Background(), "launchpad revenue", 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.APIs)
	assert.Equal(t, "launchpad-revenue", res.APIs[0].ID)
	assert.False(t, ix.Ready())
}

func TestInit_IdempotentAndConcurrent(t *testing.T) {
	emb := &countingEmbedder{inner: NewHashEmbedder(64)}
	apis := testAPIs()
	ix := New(apis, emb, Options{Mode: ModeHybrid}, logging.Noop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ix.Init(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(len(apis)), emb.calls.Load())
	require.NoError(t, ix.Init(context.Background()))
	assert.Equal(t, int64(len(apis)), emb.calls.Load())
}

func TestInit_RetriesAfterFailure(t *testing.T) {
	emb := &countingEmbedder{inner: NewHashEmbedder(64)}
	emb.fail.Store(true)
	ix := New(testAPIs(), emb, Options{Mode: ModeVector}, logging.Noop())

	require.Error(t, ix.Init(context.Background()))
	assert.False(t, ix.Ready())

	emb.fail.Store(false)
	require.NoError(t, ix.Init(context.Background()))
	assert.True(t, ix.Ready())
}

func TestSearch_CanceledContext(t *testing.T) {
	ix := New(testAPIs(), nil, Options{Mode: ModeKeyword}, logging.Noop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ix.Search(ctx, "volume", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(32)

	a, err := h.Embed(context.Background(), "dex volume")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "DEX volumes")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	_, err = h.Embed(context.Background(), "the of")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestFuse(t *testing.T) {
	kw := []scored{{id: "a", score: 0.5}, {id: "b", score: 0.3}}
	vec := []scored{{id: "b", score: 0.9}, {id: "c", score: 0.4}}

	out := fuse(kw, vec)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].id)
	assert.InDelta(t, 0.9, out[0].score, 1e-9)
	assert.Equal(t, "a", out[1].id)
	assert.Equal(t, "c", out[2].id)
}
