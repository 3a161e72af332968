package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/metrics"
)

const (
	violationLimit  = 10
	violationWindow = time.Hour
	blockDuration   = 24 * time.Hour
)

// RateLimit is a sliding window budget for one route.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// rateRule binds a RateLimit to a method and path. Paths ending in "/"
// match as prefixes.
type rateRule struct {
	method string
	path   string
	name   string
	limit  RateLimit
}

func (rr rateRule) matches(r *http.Request) bool {
	if r.Method != rr.method {
		return false
	}
	if strings.HasSuffix(rr.path, "/") {
		return strings.HasPrefix(r.URL.Path, rr.path) && len(r.URL.Path) > len(rr.path)
	}
	return r.URL.Path == rr.path
}

// defaultRules are checked in order; the first match applies.
var defaultRules = []rateRule{
	{http.MethodPost, "/api/whatsapp/exchange-token", "exchange_token", RateLimit{10, time.Hour, ipKey}},
	{http.MethodGet, "/api/integrations", "list_integrations", RateLimit{60, time.Minute, tokenOrIPKey}},
	{http.MethodDelete, "/api/integrations/", "delete_integration", RateLimit{10, time.Minute, tokenOrIPKey}},
	{http.MethodPost, "/api/messages", "post_message", RateLimit{120, time.Minute, tokenOrIPKey}},
	{http.MethodGet, "/api/messages", "get_messages", RateLimit{120, time.Minute, tokenOrIPKey}},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block an IP for a day after repeated violations
}

// RateLimiter enforces per-route sliding windows stored in Redis. Redis
// failures let requests through.
type RateLimiter struct {
	client    *redis.Client
	rules     []rateRule
	exempt    []netip.Prefix
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a rate limiter with the NimbleAI route budgets.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		rules:     defaultRules,
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger,
	}

	for _, entry := range cfg.Whitelist {
		prefix, err := parseExempt(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid rate limit whitelist entry")
			continue
		}
		rl.exempt = append(rl.exempt, prefix)
	}
	if len(rl.exempt) > 0 {
		logger.Info().Int("entries", len(rl.exempt)).Msg("rate limit whitelist configured")
	}

	return rl
}

// parseExempt accepts a CIDR or a single address.
func parseExempt(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (rl *RateLimiter) isWhitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.exempt {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) ruleFor(r *http.Request) (rateRule, bool) {
	for _, rule := range rl.rules {
		if rule.matches(r) {
			return rule, true
		}
	}
	return rateRule{}, false
}

func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// tokenOrIPKey keys on a digest of the bearer token when present.
func tokenOrIPKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "ratelimit:token:" + hex.EncodeToString(sum[:8])
	}
	return ipKey(r)
}

// RealIP extracts the client IP. API Gateway and CloudFront put it first
// in X-Forwarded-For.
func RealIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// hit counts the request under key and reports how many requests,
// including this one, fall inside the trailing window.
func (rl *RateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: ulid.Make().String()})
	count := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		log := rl.logger.With().Str("type", "security").Str("ip", ip).Str("endpoint", r.URL.Path).Logger()

		if rl.blocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			log.Warn().Str("event", "blocked_request").Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		rule, ok := rl.ruleFor(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.hit(r.Context(), rule.limit.KeyFunc(r), rule.limit.Window)
		if err != nil {
			log.Error().Err(err).Str("rule", rule.name).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(rule.limit.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rule.limit.Requests))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rule.limit.Window).Unix(), 10))

		if count > int64(rule.limit.Requests) {
			h.Set("Retry-After", strconv.Itoa(int(rule.limit.Window.Seconds())))
			metrics.RateLimitHits.WithLabelValues(rule.name).Inc()
			log.Warn().Str("event", "rate_limit_exceeded").Str("rule", rule.name).Int64("count", count).Msg("rate limit exceeded")
			rl.recordViolation(r.Context(), log, ip)
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func blockKey(ip string) string { return "blocked:ip:" + ip }

func (rl *RateLimiter) blocked(ctx context.Context, ip string) bool {
	n, err := rl.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// recordViolation blocks ip once it exceeds violationLimit in an hour.
func (rl *RateLimiter) recordViolation(ctx context.Context, log zerolog.Logger, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:ip:" + ip
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, violationWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Msg("failed to record violation")
		return
	}

	if incr.Val() >= violationLimit {
		if err := rl.client.Set(ctx, blockKey(ip), "repeated rate limit violations", blockDuration).Err(); err != nil {
			log.Error().Err(err).Msg("failed to block IP")
			return
		}
		log.Warn().Str("event", "ip_auto_blocked").Int64("violations", incr.Val()).Msg("IP auto-blocked for repeated violations")
	}
}
