package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ANTHROPIC_API_KEY", "TOPLEDGER_API_KEY", "GEMINI_API_KEY", "REDIS_PASSWORD"} {
		t.Setenv(k, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearSecretEnv(t)

	cfg, err := Parse([]byte("app:\n  instance_id: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.InstanceID)
	assert.Equal(t, 500, cfg.App.MaxQueryLength)
	assert.Equal(t, "hybrid", cfg.Search.Mode)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, "hash", cfg.Search.Embedder.Provider)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Duration(0), cfg.Cache.TTL)
	assert.False(t, cfg.Cache.Claim.Enabled)
	assert.Equal(t, "tlcharts:claim:", cfg.Cache.Claim.Prefix)
	assert.Equal(t, 35*time.Second, cfg.Cache.Claim.TTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Cache.Claim.PollEvery)
	assert.Equal(t, 4, cfg.LLM.MaxTurns)
	assert.Equal(t, "https://analytics.topledger.xyz/tl/api", cfg.Topledger.BaseURL)
	assert.Equal(t, ":8080", cfg.API.HTTP.Addr)
	assert.Equal(t, "chart_query_log", cfg.QueryLog.ClickHouse.Table)
}

func TestParse_EnvOverridesSecrets(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("TOPLEDGER_API_KEY", "tl-env")

	cfg, err := Parse([]byte("llm:\n  api_key: from-file\ntopledger:\n  api_key: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "tl-env", cfg.Topledger.APIKey)
}

func TestParse_ValidationErrors(t *testing.T) {
	clearSecretEnv(t)

	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad_search_mode", "search:\n  mode: fuzzy\n", "search.mode"},
		{"bad_cache_backend", "cache:\n  backend: memcached\n", "cache.backend"},
		{"redis_without_addr", "cache:\n  backend: redis\n", "stores.redis.addr"},
		{"claim_on_memory_cache", "cache:\n  claim:\n    enabled: true\n", "cache.claim"},
		{"clickhouse_without_dsn", "query_log:\n  clickhouse:\n    enabled: true\n", "query_log.clickhouse.dsn"},
		{"nats_without_url", "query_log:\n  nats:\n    enabled: true\n", "query_log.nats.url"},
		{"jwt_without_key", "security:\n  jwt:\n    enabled: true\n", "public_key_path"},
		{"genai_without_key", "search:\n  embedder:\n    provider: genai\n", "genai_api_key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParse_GenAIKeywordModeNeedsNoKey(t *testing.T) {
	clearSecretEnv(t)

	_, err := Parse([]byte("search:\n  mode: keyword\n  embedder:\n    provider: genai\n"))
	assert.NoError(t, err)
}

func TestLoad_File(t *testing.T) {
	clearSecretEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttl: 1h\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
