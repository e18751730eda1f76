package topledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tlcharts/internal/catalog"
	"tlcharts/internal/config"
	"tlcharts/internal/domain"

	"github.com/dgraph-io/ristretto"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/time/rate"
)

var (
	ErrUpstream    = errors.New("topledger upstream error")
	ErrBadResponse = errors.New("topledger response malformed")
)

// StatusError carries a non-2xx upstream status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("topledger status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Observer receives one call per upstream attempt
type Observer interface {
	ObserveUpstream(status string, d time.Duration)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.obs = o }
}

type Client struct {
	cfg     config.TopledgerConfig
	log     logger.Logger
	http    *http.Client
	limiter *rate.Limiter
	cache   *ristretto.Cache
	obs     Observer
}

func New(cfg config.TopledgerConfig, log logger.Logger, opts ...Option) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	c := &Client{
		cfg:  cfg,
		log:  log,
		http: &http.Client{},
	}

	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	if cfg.CacheTTL > 0 {
		maxCost := cfg.CacheMaxCost
		if maxCost <= 0 {
			maxCost = 64 << 20
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		c.cache = cache
	}

	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Fetch resolves the descriptor url and fetches its latest result
func (c *Client) Fetch(ctx context.Context, d domain.APIDescriptor) (*QueryResult, error) {
	u, err := catalog.URLFor(d, c.cfg.BaseURL, c.cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return c.FetchResults(ctx, u)
}

// FetchResults GETs a results.json url. Transport errors, 5xx and 429 are retried
// with linear backoff, other statuses fail at once.
func (c *Client) FetchResults(ctx context.Context, url string) (*QueryResult, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(url); ok {
			if res, ok := v.(*QueryResult); ok {
				return res, nil
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.cfg.RetryBackoff
			c.log.Warnf("topledger fetch retry %d/%d in %s: %v", attempt, c.cfg.MaxRetries, wait, lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		res, size, err := c.fetchOnce(ctx, url)
		if err == nil {
			if c.cache != nil {
				c.cache.SetWithTTL(url, res, int64(size), c.cfg.CacheTTL)
				c.cache.Wait()
			}
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if errors.Is(err, ErrBadResponse) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("topledger fetch failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url string) (*QueryResult, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("error", start)
		return nil, 0, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	c.observe(strconv.Itoa(resp.StatusCode), start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	res, err := Decode(body)
	if err != nil {
		return nil, 0, err
	}
	return res, len(body), nil
}

func (c *Client) observe(status string, start time.Time) {
	if c.obs != nil {
		c.obs.ObserveUpstream(status, time.Since(start))
	}
}

// Close stops the cache goroutines
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// wire format of redash-style results.json
type resultsEnvelope struct {
	QueryResult *struct {
		RetrievedAt time.Time `json:"retrieved_at"`
		Data        struct {
			Columns []ResultColumn   `json:"columns"`
			Rows    []map[string]any `json:"rows"`
		} `json:"data"`
	} `json:"query_result"`
}

// Decode parses a results.json payload
func Decode(body []byte) (*QueryResult, error) {
	var env resultsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if env.QueryResult == nil {
		return nil, fmt.Errorf("%w: missing query_result", ErrBadResponse)
	}

	rows := env.QueryResult.Data.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return &QueryResult{
		Columns:     env.QueryResult.Data.Columns,
		Rows:        rows,
		RetrievedAt: env.QueryResult.RetrievedAt,
	}, nil
}
