package mw

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"tlcharts/internal/config"
	"tlcharts/internal/security"
	"tlcharts/internal/stores/redis"

	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

const defaultBucketTTL = 2 * time.Minute

// RateLimitMiddleware keeps two token buckets in redis: one per client ip and one per jwt subject
type RateLimitMiddleware struct {
	Cfg      *config.RateLimitConfig
	Rdb      *redis.Client
	Verifier *security.RS256Verifier // optional, without it only the ip bucket applies
	Log      logger.Logger

	now func() time.Time
}

func NewRateLimit(cfg *config.RateLimitConfig, rdb *redis.Client, v *security.RS256Verifier, log logger.Logger) *RateLimitMiddleware {
	if cfg == nil {
		panic("rate limit config cannot be nil")
	}
	if rdb == nil {
		panic("redis client cannot be nil")
	}

	if cfg.ByIP.TTL <= 0 {
		cfg.ByIP.TTL = defaultBucketTTL
	}
	if cfg.ByJWT.TTL <= 0 {
		cfg.ByJWT.TTL = defaultBucketTTL
	}

	return &RateLimitMiddleware{Cfg: cfg, Rdb: rdb, Verifier: v, Log: log, now: time.Now}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := m.now()

		ip := extractClientIP(r, m.Cfg.TrustedProxies)
		okIP, leftIP := m.allow(ctx, "rl:ip:"+ip, now, m.Cfg.ByIP)
		setLimitHeaders(w, "IP", m.Cfg.ByIP, leftIP)

		okJWT := true
		if sub := m.subject(r); sub != "" {
			var leftJWT int64
			okJWT, leftJWT = m.allow(ctx, "rl:jwt:"+sub, now, m.Cfg.ByJWT)
			setLimitHeaders(w, "JWT", m.Cfg.ByJWT, leftJWT)
		}

		if !okIP || !okJWT {
			w.Header().Set("Retry-After", strconv.Itoa(m.calculateRetryAfter(okIP, okJWT)))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// subject comes from claims set by the jwt middleware, or from the bearer token itself
func (m *RateLimitMiddleware) subject(r *http.Request) string {
	if cl, ok := ClaimsFromContext(r.Context()); ok {
		return cl.Subject
	}
	if m.Verifier == nil || r.Header.Get("Authorization") == "" {
		return ""
	}

	cl, err := m.Verifier.VerifyBearer(r.Header.Get("Authorization"))
	if err != nil {
		return ""
	}
	return cl.Subject
}

// seconds until one token is back in the slowest exhausted bucket
func (m *RateLimitMiddleware) calculateRetryAfter(okIP, okJWT bool) int {
	var wait float64
	if !okIP && m.Cfg.ByIP.RefillPerSec > 0 {
		wait = math.Max(wait, 1/float64(m.Cfg.ByIP.RefillPerSec))
	}
	if !okJWT && m.Cfg.ByJWT.RefillPerSec > 0 {
		wait = math.Max(wait, 1/float64(m.Cfg.ByJWT.RefillPerSec))
	}
	return max(1, int(math.Ceil(wait)))
}

func setLimitHeaders(w http.ResponseWriter, suffix string, b config.RateBucket, left int64) {
	w.Header().Set("X-RateLimit-Limit-"+suffix, strconv.Itoa(b.Burst))
	w.Header().Set("X-RateLimit-Remaining-"+suffix, strconv.FormatInt(max(left, 0), 10))
}

// --- redis token-bucket (Lua) for atomic and one query ---
var luaTokenBucket = goredis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = now_ms
-- ARGV[2] = refill_per_sec (integer)
-- ARGV[3] = burst (integer)
-- ARGV[4] = ttl_seconds
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rate  = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

local last_ms = tonumber(redis.call('HGET', key, 'ts') or now)
local tokens  = tonumber(redis.call('HGET', key, 'tok') or burst)

if now > last_ms then
  local delta = (now - last_ms) / 1000.0
  tokens = math.min(burst, tokens + (delta * rate))
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tok', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

-- lua numbers are truncated to integers in the reply
return {allowed, math.floor(tokens)}
`)

// allow fails open: a redis outage must not take the api down
func (m *RateLimitMiddleware) allow(ctx context.Context, key string, now time.Time, b config.RateBucket) (bool, int64) {
	ttl := int(b.TTL.Seconds())
	if ttl <= 0 {
		ttl = int(defaultBucketTTL.Seconds())
	}

	res, err := luaTokenBucket.Run(ctx, m.Rdb, []string{key},
		now.UnixMilli(),
		b.RefillPerSec,
		b.Burst,
		ttl,
	).Int64Slice()
	if err != nil {
		if m.Log != nil {
			m.Log.Warnf("rate limit check failed for %s, allowing: %v", key, err)
		}
		return true, int64(b.Burst)
	}
	if len(res) < 2 {
		return true, int64(b.Burst)
	}

	return res[0] == 1, res[1]
}

// extractClientIP trusts forwarding headers only when the direct peer is a trusted proxy.
// X-Forwarded-For is walked right to left and the first untrusted hop is the client.
func extractClientIP(r *http.Request, trusted []string) string {
	peer := remoteAddrIP(r.RemoteAddr)
	if peer == "unknown" || !isTrusted(peer, trusted) {
		return peer
	}

	hops := parseXFF(r.Header.Get("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		if !isTrusted(hops[i], trusted) {
			return hops[i]
		}
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if addr, err := netip.ParseAddr(xrip); err == nil {
			return addr.String()
		}
	}

	// every hop is a proxy we know, take the first one that is routable
	for _, h := range hops {
		if isPublicIP(h) {
			return h
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return peer
}

func isTrusted(ip string, trusted []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, t := range trusted {
		if strings.Contains(t, "/") {
			if p, err := netip.ParsePrefix(t); err == nil && p.Contains(addr) {
				return true
			}
			continue
		}
		if a, err := netip.ParseAddr(t); err == nil && a == addr {
			return true
		}
	}
	return false
}

func isPublicIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast())
}

// parseXFF keeps only well-formed addresses
func parseXFF(xff string) []string {
	out := []string{}
	for _, part := range strings.Split(xff, ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
			out = append(out, addr.String())
		}
	}
	return out
}

func remoteAddrIP(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "unknown"
	}
	return addr.String()
}
