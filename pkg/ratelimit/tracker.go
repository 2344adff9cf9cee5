package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limiting.
var (
	wclRateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wcl_rate_limit_waits_total",
		Help: "Total number of requests delayed by the rate limiter",
	}, []string{"reason"})

	wclRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wcl_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting on the rate limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	})

	wclRateLimitCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wcl_rate_limit_cooldowns_total",
		Help: "Total number of 429 responses that started a cooldown",
	})
)

// Config controls a Tracker.
type Config struct {
	// RequestsPerSecond is the sustained request rate. 0 disables the
	// local token bucket.
	RequestsPerSecond float64

	// Burst is the token bucket size. Values below 1 are treated as 1.
	Burst int

	// DefaultCooldown applies to a 429 without a usable Retry-After header.
	DefaultCooldown time.Duration

	// MaxCooldown caps the cooldown taken from Retry-After.
	MaxCooldown time.Duration

	// Scope separates the shared cooldown in Redis. Trackers only see each
	// other's cooldowns when their scopes match.
	Scope string
}

// DefaultConfig returns a tracker configuration without a local rate cap
// that backs off for 5 seconds on a bare 429.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		Burst:             1,
		DefaultCooldown:   5 * time.Second,
		MaxCooldown:       2 * time.Minute,
	}
}

// Tracker gates requests on a local token bucket and a 429 cooldown.
// It is safe for concurrent use.
type Tracker struct {
	config  Config
	limiter *rate.Limiter
	redis   *redis.Client
	logger  zerolog.Logger

	cooldownKey   string
	lastUpdateKey string

	mu            sync.Mutex
	cooldownUntil time.Time
	lastUpdate    time.Time
}

// NewTracker creates a tracker. redisClient may be nil, in which case the
// cooldown is kept in process.
func NewTracker(cfg Config, redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = DefaultConfig().DefaultCooldown
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = DefaultConfig().MaxCooldown
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	cooldownKey, lastUpdateKey := RedisKeys(cfg.Scope)

	return &Tracker{
		config:        cfg,
		limiter:       rate.NewLimiter(limit, cfg.Burst),
		redis:         redisClient,
		logger:        logger,
		cooldownKey:   cooldownKey,
		lastUpdateKey: lastUpdateKey,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	start := time.Now()

	state, err := t.GetState(ctx)
	if err != nil {
		// Shared state unavailable: fall back to the local bucket only.
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable, continuing without cooldown")
		state = &State{}
	}

	if wait := state.TimeUntilReset(); wait > 0 {
		wclRateLimitWaitsTotal.WithLabelValues("cooldown").Inc()
		t.logger.Warn().
			Dur("wait_duration", wait).
			Time("cooldown_until", state.CooldownUntil).
			Msg("Rate limit cooldown active - delaying request")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if t.limiter.Limit() != rate.Inf && t.limiter.Tokens() < 1 {
		wclRateLimitWaitsTotal.WithLabelValues("rate").Inc()
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	wclRateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// UpdateFromResponse records the outcome of a request. A 429 starts a
// cooldown of Retry-After (capped at MaxCooldown) or DefaultCooldown.
// Other status codes are ignored.
func (t *Tracker) UpdateFromResponse(ctx context.Context, statusCode int, headers http.Header) error {
	if statusCode != http.StatusTooManyRequests {
		return nil
	}

	now := time.Now()
	cooldown, ok := ParseRetryAfter(headers, now)
	if !ok {
		cooldown = t.config.DefaultCooldown
	}
	if cooldown > t.config.MaxCooldown {
		cooldown = t.config.MaxCooldown
	}
	until := now.Add(cooldown)

	t.mu.Lock()
	if until.After(t.cooldownUntil) {
		t.cooldownUntil = until
	}
	t.lastUpdate = now
	t.mu.Unlock()

	wclRateLimitCooldownsTotal.Inc()
	t.logger.Warn().
		Dur("cooldown", cooldown).
		Time("cooldown_until", until).
		Msg("Rate limited by server - cooldown started")

	if t.redis == nil || cooldown <= 0 {
		return nil
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.cooldownKey, until.UnixMilli(), cooldown)
	pipe.Set(ctx, t.lastUpdateKey, now.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// GetState returns the current state. With Redis, the later of the local
// and the shared cooldown wins.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	t.mu.Lock()
	state := &State{
		CooldownUntil:     t.cooldownUntil,
		LastUpdate:        t.lastUpdate,
		RequestsPerSecond: t.config.RequestsPerSecond,
	}
	t.mu.Unlock()

	if t.limiter.Limit() != rate.Inf {
		state.TokensAvailable = t.limiter.Tokens()
	}

	if t.redis == nil {
		return state, nil
	}

	until, err := t.redis.Get(ctx, t.cooldownKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	if err == nil {
		shared := time.UnixMilli(until)
		if shared.After(state.CooldownUntil) {
			state.CooldownUntil = shared
		}
	}

	last, err := t.redis.Get(ctx, t.lastUpdateKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if err == nil {
		shared := time.UnixMilli(last)
		if shared.After(state.LastUpdate) {
			state.LastUpdate = shared
		}
	}

	return state, nil
}

// ParseRetryAfter reads the Retry-After header, either delay-seconds or an
// HTTP date. ok is false when the header is absent or unparsable.
func ParseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
