package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	QueryLog  QueryLogConfig  `yaml:"query_log"`
	Stores    StoresConfig    `yaml:"stores"`
	Topledger TopledgerConfig `yaml:"topledger"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	MaxQueryLength  int           `yaml:"max_query_length"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StatsTick       time.Duration `yaml:"stats_tick"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type JWTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Alg            string        `yaml:"alg"` // RS256
	PublicKeyPath  string        `yaml:"public_key_path"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	Audience       string        `yaml:"audience"`
	Issuer         string        `yaml:"issuer"`
	Leeway         time.Duration `yaml:"leeway"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type RateBucket struct {
	RefillPerSec int           `yaml:"refill_per_sec"` // how many tokens are added every second
	Burst        int           `yaml:"burst"`          // max len bucket
	TTL          time.Duration `yaml:"ttl"`            // how long to keep an unused key
}

type RateLimitConfig struct {
	Enabled        bool       `yaml:"enabled"`
	ByJWT          RateBucket `yaml:"by_jwt"`
	ByIP           RateBucket `yaml:"by_ip"`
	TrustedProxies []string   `yaml:"trusted_proxies"` // ips or cidrs allowed to set X-Forwarded-For
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type EmbedderConfig struct {
	Provider    string `yaml:"provider"` // hash|genai
	Dimensions  int    `yaml:"dimensions"`
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

type SearchConfig struct {
	Mode     string         `yaml:"mode"` // keyword|vector|hybrid
	TopK     int            `yaml:"top_k"`
	Embedder EmbedderConfig `yaml:"embedder"`
}

type LLMConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int64         `yaml:"max_tokens"`
	MaxTurns  int           `yaml:"max_turns"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Backend      string        `yaml:"backend"` // memory|redis
	TTL          time.Duration `yaml:"ttl"`     // 0 -> entries never expire
	Prefix       string        `yaml:"prefix"`
	JanitorEvery time.Duration `yaml:"janitor_every"`
	Claim        ClaimConfig   `yaml:"claim"`
}

// ClaimConfig lets one instance of a fleet compute a chart while the others wait for its cache entry
type ClaimConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	PollEvery time.Duration `yaml:"poll_every"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	Enabled bool                   `yaml:"enabled"`
	DSN     string                 `yaml:"dsn"`
	Table   string                 `yaml:"table"`
	Writer  ClickHouseWriterConfig `yaml:"writer"`
}

type NATSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	BroadcastPrefix string `yaml:"broadcast_prefix"`
}

type QueryLogConfig struct {
	FilePath   string           `yaml:"file_path"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StoresConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type TopledgerConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	RPS          float64       `yaml:"rps"`
	Burst        int           `yaml:"burst"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheMaxCost int64         `yaml:"cache_max_cost"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	GzipLevel    int           `yaml:"gzip_level"`
	CORS         CORSConfig    `yaml:"cors"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Prometheus bool            `yaml:"prometheus"`
	Pyroscope  PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(b)
}

// Parse decodes yaml, applies env overrides and defaults, then validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Secrets live in env (or .env) rather than in the yaml file
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TOPLEDGER_API_KEY")); v != "" {
		c.Topledger.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		c.Search.Embedder.GenAIAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		c.Stores.Redis.Password = v
	}
}

func (c *Config) ApplyDefaults() {
	if c.App.MaxQueryLength <= 0 {
		c.App.MaxQueryLength = 500
	}
	if c.App.ShutdownTimeout <= 0 {
		c.App.ShutdownTimeout = 10 * time.Second
	}
	if c.App.StatsTick <= 0 {
		c.App.StatsTick = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Security.JWT.Leeway <= 0 {
		c.Security.JWT.Leeway = time.Minute
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = "cmd/tlcharts/catalog.yaml"
	}

	if c.Search.Mode == "" {
		c.Search.Mode = "hybrid"
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = 5
	}
	if c.Search.Embedder.Provider == "" {
		c.Search.Embedder.Provider = "hash"
	}
	if c.Search.Embedder.Dimensions <= 0 {
		c.Search.Embedder.Dimensions = 256
	}
	if c.Search.Embedder.GenAIModel == "" {
		c.Search.Embedder.GenAIModel = "gemini-embedding-001"
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "claude-sonnet-4-5"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.MaxTurns <= 0 {
		c.LLM.MaxTurns = 4
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 30 * time.Second
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "tlcharts:chart:"
	}
	if c.Cache.Claim.Prefix == "" {
		c.Cache.Claim.Prefix = "tlcharts:claim:"
	}
	if c.Cache.Claim.TTL <= 0 {
		c.Cache.Claim.TTL = c.LLM.Timeout + 5*time.Second
	}
	if c.Cache.Claim.PollEvery <= 0 {
		c.Cache.Claim.PollEvery = 250 * time.Millisecond
	}

	if c.QueryLog.ClickHouse.Table == "" {
		c.QueryLog.ClickHouse.Table = "chart_query_log"
	}
	if c.QueryLog.NATS.BroadcastPrefix == "" {
		c.QueryLog.NATS.BroadcastPrefix = "tlcharts"
	}

	if c.Topledger.BaseURL == "" {
		c.Topledger.BaseURL = "https://analytics.topledger.xyz/tl/api"
	}
	if c.Topledger.Timeout <= 0 {
		c.Topledger.Timeout = 15 * time.Second
	}
	if c.Topledger.MaxRetries < 0 {
		c.Topledger.MaxRetries = 0
	}
	if c.Topledger.RetryBackoff <= 0 {
		c.Topledger.RetryBackoff = time.Second
	}
	if c.Topledger.RPS <= 0 {
		c.Topledger.RPS = 5
	}
	if c.Topledger.Burst <= 0 {
		c.Topledger.Burst = 10
	}
	if c.Topledger.CacheTTL <= 0 {
		c.Topledger.CacheTTL = 5 * time.Minute
	}
	if c.Topledger.CacheMaxCost <= 0 {
		c.Topledger.CacheMaxCost = 64 << 20
	}

	if c.API.HTTP.Addr == "" {
		c.API.HTTP.Addr = ":8080"
	}
	if c.API.HTTP.ReadTimeout <= 0 {
		c.API.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.API.HTTP.WriteTimeout <= 0 {
		c.API.HTTP.WriteTimeout = 60 * time.Second
	}
	if c.API.HTTP.IdleTimeout <= 0 {
		c.API.HTTP.IdleTimeout = 120 * time.Second
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Search.Mode {
	case "keyword", "vector", "hybrid":
	default:
		errs = append(errs, fmt.Errorf("search.mode must be keyword|vector|hybrid, got %q", c.Search.Mode))
	}

	switch c.Search.Embedder.Provider {
	case "hash":
	case "genai":
		if c.Search.Mode != "keyword" && c.Search.Embedder.GenAIAPIKey == "" {
			errs = append(errs, errors.New("search.embedder.genai_api_key is required for genai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("search.embedder.provider must be hash|genai, got %q", c.Search.Embedder.Provider))
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory|redis, got %q", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if c.Cache.Claim.Enabled && c.Cache.Backend != "redis" {
		errs = append(errs, errors.New("cache.claim requires the redis cache backend"))
	}

	if c.Cache.Backend == "redis" || c.RateLimit.Enabled {
		if c.Stores.Redis.Addr == "" {
			errs = append(errs, errors.New("stores.redis.addr is required for redis cache or rate limit"))
		}
	}

	if c.QueryLog.ClickHouse.Enabled && c.QueryLog.ClickHouse.DSN == "" {
		errs = append(errs, errors.New("query_log.clickhouse.dsn is required when enabled"))
	}
	if c.QueryLog.NATS.Enabled && c.QueryLog.NATS.URL == "" {
		errs = append(errs, errors.New("query_log.nats.url is required when enabled"))
	}

	if c.Security.JWT.Enabled && c.Security.JWT.PublicKeyPath == "" {
		errs = append(errs, errors.New("security.jwt.public_key_path is required when jwt enabled"))
	}

	return errors.Join(errs...)
}
