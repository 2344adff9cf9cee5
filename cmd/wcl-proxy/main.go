// Command wcl-proxy serves Warcraft Logs v1 queries over HTTP. Paginated
// results are merged and cached before they are returned.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/wcl-client/internal/config"
	"github.com/Sternrassler/wcl-client/pkg/cache"
	"github.com/Sternrassler/wcl-client/pkg/client"
	"github.com/Sternrassler/wcl-client/pkg/logging"
	"github.com/Sternrassler/wcl-client/pkg/ratelimit"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("wcl-proxy failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info().Msg("Connected to Redis")
	}

	store, closeStore, err := newStore(cfg.Cache, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	wcl, err := client.New(clientConfig(cfg, store, newRateLimiter(cfg.RateLimit, cfg.API.Key, redisClient, logger)))
	if err != nil {
		return fmt.Errorf("create WCL client: %w", err)
	}
	defer wcl.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(wcl, redisClient, cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("base_url", wcl.BaseURL()).
			Str("cache_backend", cfg.Cache.Backend).
			Msg("Starting WCL proxy server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectRedis accepts a redis:// URL or a bare host:port.
func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		opts = &redis.Options{Addr: rawURL}
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return redisClient, nil
}

// newStore returns a nil store when caching is disabled. The returned func
// releases what the store opened.
func newStore(cfg config.CacheConfig, redisClient *redis.Client) (cache.Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case config.CacheBackendDisk:
		disk, err := cache.NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return disk, noop, nil
	case config.CacheBackendRedis:
		if redisClient == nil {
			return nil, noop, errors.New("redis cache backend requires a redis connection")
		}
		return cache.NewRedisStore(redisClient, cfg.RedisPrefix), noop, nil
	case config.CacheBackendBadger:
		db, err := cache.OpenBadger(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return cache.NewBadgerStore(db), func() { db.Close() }, nil
	default:
		return nil, noop, nil
	}
}

// newRateLimiter shares the 429 cooldown through Redis when configured.
// Only proxies using the same API key share a cooldown.
func newRateLimiter(cfg config.RateLimitConfig, apiKey string, redisClient *redis.Client, logger zerolog.Logger) *ratelimit.Tracker {
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.Scope = ratelimit.ScopeForAPIKey(apiKey)
	rlCfg.RequestsPerSecond = cfg.RequestsPerSecond
	rlCfg.Burst = cfg.Burst
	if cfg.DefaultCooldown > 0 {
		rlCfg.DefaultCooldown = cfg.DefaultCooldown
	}

	var shared *redis.Client
	if cfg.Shared {
		shared = redisClient
	}
	return ratelimit.NewTracker(rlCfg, shared, logger.With().Str("component", "ratelimit").Logger())
}

func clientConfig(cfg *config.Config, store cache.Store, limiter *ratelimit.Tracker) client.Config {
	c := client.DefaultConfig(cfg.API.Key)
	c.BaseURL = cfg.API.BaseURL
	c.Timeout = cfg.API.Timeout
	if cfg.API.UserAgent != "" {
		c.UserAgent = cfg.API.UserAgent
	}

	c.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	c.Retry.InitialBackoff = cfg.Retry.InitialBackoff
	c.Retry.MaxBackoff = cfg.Retry.MaxBackoff
	c.Retry.BackoffMultiplier = cfg.Retry.BackoffMultiplier
	c.Retry.Jitter = cfg.Retry.Jitter

	c.Cache = store
	c.CachePolicy = client.CachePolicy{
		Cursor:     true,
		PageNumber: cfg.Cache.PageNumber,
		SingleShot: cfg.Cache.SingleShot,
	}
	c.RateLimiter = limiter

	if cfg.CircuitBreaker.Enabled {
		cb := client.DefaultCircuitBreakerConfig()
		if cfg.CircuitBreaker.ConsecutiveFailures > 0 {
			cb.ConsecutiveFailures = cfg.CircuitBreaker.ConsecutiveFailures
		}
		if cfg.CircuitBreaker.Timeout > 0 {
			cb.Timeout = cfg.CircuitBreaker.Timeout
		}
		c.CircuitBreaker = &cb
	}

	return c
}
