package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/deskchat/internal/metrics"
)

// Repeat offenders: violationsBeforeBlock rejections within violationWindow
// block the address for blockDuration.
const (
	violationsBeforeBlock = 10
	violationWindow       = time.Hour
	blockDuration         = 24 * time.Hour
)

// RateLimit caps the requests one key may make within a sliding window.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// DefaultLimits are the per-route limits, keyed by "METHOD /path". Logins
// are counted per address, everything else per session.
func DefaultLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"POST /client/login":  {20, time.Minute, ipKey},
		"POST /analyst/login": {20, time.Minute, ipKey},
		"POST /send_msg":      {60, time.Minute, sessionKey},
		"GET /get_messages":   {120, time.Minute, sessionKey},
		"GET /pop_messages":   {120, time.Minute, sessionKey},
		"GET /transcripts":    {30, time.Minute, sessionKey},
	}
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block addresses after repeated violations

	// Limits replaces DefaultLimits when non-nil.
	Limits map[string]RateLimit
}

// RateLimiter enforces per-route request limits kept in Redis.
type RateLimiter struct {
	client    redis.Cmdable
	limits    map[string]RateLimit
	exempt    allowList
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client redis.Cmdable, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	limits := cfg.Limits
	if limits == nil {
		limits = DefaultLimits()
	}

	rl := &RateLimiter{
		client:    client,
		limits:    limits,
		exempt:    parseAllowList(cfg.Whitelist, logger),
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger,
	}
	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.exempt.addrs)).
			Int("cidrs", len(rl.exempt.prefixes)).
			Msg("rate limit whitelist configured")
	}
	return rl
}

// allowList matches addresses against single IPs and CIDR prefixes.
type allowList struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

func parseAllowList(entries []string, logger zerolog.Logger) allowList {
	list := allowList{addrs: make(map[netip.Addr]struct{})}
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			list.prefixes = append(list.prefixes, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			list.addrs[addr.Unmap()] = struct{}{}
			continue
		}
		logger.Warn().Str("entry", entry).Msg("ignoring invalid rate limit whitelist entry")
	}
	return list
}

func (l allowList) contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if _, ok := l.addrs[addr]; ok {
		return true
	}
	for _, prefix := range l.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the caller's address. chi's RealIP middleware has already
// folded X-Forwarded-For and X-Real-IP into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipKey(r *http.Request) string {
	return "ip:" + clientIP(r)
}

// sessionKey counts per session cookie, falling back to the address for
// anonymous requests.
func sessionKey(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return "session:" + cookie.Value
	}
	return ipKey(r)
}

func blockKey(ip string) string { return "blocked:ip:" + ip }

// take counts one request against key. It reports whether the request fits,
// how many requests remain and when the oldest counted request leaves the
// window. Rejected requests are not counted.
func (rl *RateLimiter) take(ctx context.Context, key string, limit RateLimit) (bool, int, time.Time, error) {
	now := time.Now()
	member := ulid.Make().String()

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-limit.Window).UnixMilli(), 10))
		count = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		pipe.PExpire(ctx, key, limit.Window)
		return nil
	})
	if err != nil {
		return true, limit.Requests, now.Add(limit.Window), err
	}

	resetAt := now.Add(limit.Window)
	if first := oldest.Val(); len(first) > 0 {
		resetAt = time.UnixMilli(int64(first[0].Score)).Add(limit.Window)
	}

	used := int(count.Val())
	if used >= limit.Requests {
		return false, 0, resetAt, rl.client.ZRem(ctx, key, member).Err()
	}
	return true, limit.Requests - used - 1, resetAt, nil
}

// Middleware returns the rate limiting middleware. Redis failures are
// logged and the request is let through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.exempt.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if rl.autoBlock && rl.isBlocked(ctx, ip) {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		route := r.Method + " " + r.URL.Path
		limit, ok := rl.limits[route]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + limit.KeyFunc(r)
		allowed, remaining, resetAt, err := rl.take(ctx, key, limit)
		if err != nil {
			rl.logger.Error().Err(err).Str("route", route).Msg("rate limit check failed")
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retry := int(math.Ceil(time.Until(resetAt).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))

			metrics.RateLimitHits.WithLabelValues(route).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", route).
				Str("key", key).
				Msg("rate limit exceeded")
			rl.recordViolation(ctx, ip)

			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isBlocked(ctx context.Context, ip string) bool {
	n, err := rl.client.Exists(ctx, blockKey(ip)).Result()
	if err != nil {
		rl.logger.Error().Err(err).Str("ip", ip).Msg("block lookup failed")
		return false
	}
	return n > 0
}

// recordViolation counts a rejection and blocks the address once it has
// collected violationsBeforeBlock of them.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:ip:" + ip
	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, violationWindow)
		return nil
	})
	if err != nil {
		rl.logger.Error().Err(err).Str("ip", ip).Msg("failed to record rate limit violation")
		return
	}
	if incr.Val() < violationsBeforeBlock {
		return
	}

	if err := rl.client.Set(ctx, blockKey(ip), "repeated rate limit violations", blockDuration).Err(); err != nil {
		rl.logger.Error().Err(err).Str("ip", ip).Msg("failed to block IP")
		return
	}
	metrics.BlockedRequests.WithLabelValues("auto_block").Inc()
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", incr.Val()).
		Msg("IP auto-blocked for repeated violations")
}
