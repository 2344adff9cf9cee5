// Package client provides the Warcraft Logs v1 API client: a request
// orchestrator that checks the query cache, drives pagination over a
// retrying transport and stores merged results.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/wcl-client/pkg/cache"
	"github.com/Sternrassler/wcl-client/pkg/logging"
	"github.com/Sternrassler/wcl-client/pkg/pagination"
	"github.com/Sternrassler/wcl-client/pkg/query"
	"github.com/Sternrassler/wcl-client/pkg/ratelimit"
)

// DefaultBaseURL is the Warcraft Logs Classic v1 API.
const DefaultBaseURL = "https://classic.warcraftlogs.com:443/v1/"

// CachePolicy selects which queries are read from and written to the cache.
type CachePolicy struct {
	Cursor     bool
	PageNumber bool
	SingleShot bool
}

// DefaultCachePolicy caches cursor-paginated queries only.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{Cursor: true}
}

// Cacheable reports whether a query with pagination descriptor d is cached.
func (p CachePolicy) Cacheable(d *pagination.Descriptor) bool {
	switch {
	case d == nil:
		return p.SingleShot
	case d.Kind == pagination.KindPageNumber:
		return p.PageNumber
	default:
		return p.Cursor
	}
}

// Client is the Warcraft Logs API client. It is safe for concurrent use.
type Client struct {
	transport *Transport
	store     cache.Store
	baseURL   string
	config    Config
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent as the api_key query parameter (REQUIRED).
	APIKey string

	// BaseURL is the API root. Endpoints are resolved relative to it.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// Retry controls attempts and backoff.
	Retry RetryConfig

	// Cache stores merged results. nil disables caching.
	Cache cache.Store

	// CachePolicy selects the cached queries.
	CachePolicy CachePolicy

	// RateLimiter gates requests. Optional.
	RateLimiter *ratelimit.Tracker

	// CircuitBreaker enables the circuit breaker when non-nil.
	CircuitBreaker *CircuitBreakerConfig

	// HTTPClient overrides the HTTP client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration without cache.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		BaseURL:     DefaultBaseURL,
		UserAgent:   "wcl-client/1.0",
		Timeout:     10 * time.Second,
		Retry:       DefaultRetryConfig(),
		CachePolicy: DefaultCachePolicy(),
	}
}

// New creates a new Warcraft Logs client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrNotConfigured)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	transport, err := NewTransport(TransportConfig{
		HTTPClient:     cfg.HTTPClient,
		Retry:          cfg.Retry,
		Timeout:        cfg.Timeout,
		RateLimiter:    cfg.RateLimiter,
		CircuitBreaker: cfg.CircuitBreaker,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		transport: transport,
		store:     cfg.Cache,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		config:    cfg,
		logger:    logging.NewLogger("wcl-client"),
	}, nil
}

// Run executes q: a cache hit returns the stored result, otherwise every
// page is fetched, merged and, if the cache policy allows, stored.
//
// Failures are *AuthenticationError, *ConnectionError, cache corruption
// (cache.ErrInvalidEntry) or a context error. No partial results are returned.
func (c *Client) Run(ctx context.Context, q query.Query) (json.RawMessage, error) {
	if c == nil || c.transport == nil || c.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	op := q.Operation()
	if op == nil {
		return nil, fmt.Errorf("query has no operation")
	}

	logger := c.logger.With().Str("operation", op.Name).Logger()

	endpoint, err := q.ResolveEndpoint()
	if err != nil {
		return nil, err
	}

	cacheable := c.store != nil && c.config.CachePolicy.Cacheable(q.Pagination())

	var key cache.CacheKey
	if cacheable {
		key = cache.KeyFor(q)

		entry, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			wclQueriesTotal.WithLabelValues(op.Name, "cache_hit").Inc()
			logger.Debug().
				Str("cache_key", key.String()).
				Msg("Loaded query from cache")
			return entry.Data, nil
		case errors.Is(err, cache.ErrCacheMiss):
		default:
			wclQueriesTotal.WithLabelValues(op.Name, "error").Inc()
			return nil, fmt.Errorf("read cached %s: %w", op.Name, err)
		}
	}

	logger.Debug().
		Str("endpoint", endpoint).
		Msg("Executing WCL query")

	data, err := pagination.FetchAll(ctx, q.Pagination(), q.WireParams(), c.pageFetcher(op.Name, endpoint))
	if err != nil {
		wclQueriesTotal.WithLabelValues(op.Name, "error").Inc()
		return nil, err
	}

	if cacheable {
		if err := c.store.Set(ctx, key, data); err != nil {
			logger.Warn().
				Err(err).
				Str("cache_key", key.String()).
				Msg("Failed to cache query result")
		} else {
			logger.Debug().
				Str("cache_key", key.String()).
				Int("bytes", len(data)).
				Msg("Cached query result")
		}
	}

	wclQueriesTotal.WithLabelValues(op.Name, "fetched").Inc()
	return data, nil
}

// pageFetcher sends one page request through the transport and turns
// non-success outcomes into typed errors.
func (c *Client) pageFetcher(operation, endpoint string) pagination.PageFetcher {
	target := c.baseURL + endpoint

	return pagination.PageFetcherFunc(func(ctx context.Context, params url.Values) ([]byte, error) {
		wire := make(url.Values, len(params)+1)
		for k, v := range params {
			wire[k] = v
		}
		wire.Set("api_key", c.config.APIKey)

		header := http.Header{}
		if c.config.UserAgent != "" {
			header.Set("User-Agent", c.config.UserAgent)
		}

		outcome, err := c.transport.Execute(ctx, Request{
			Operation: operation,
			Endpoint:  endpoint,
			URL:       target,
			Params:    wire,
			Header:    header,
		})
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				return nil, &ConnectionError{Endpoint: endpoint, Err: err}
			}
			return nil, err
		}

		switch outcome.Class {
		case OutcomeSuccess:
			wclPagesFetched.WithLabelValues(operation).Inc()
			return outcome.Body, nil
		case OutcomeAuth:
			return nil, &AuthenticationError{Endpoint: endpoint, Body: outcome.Body}
		default:
			return nil, &ConnectionError{
				Endpoint:   endpoint,
				StatusCode: outcome.StatusCode,
				Body:       outcome.Body,
				Attempts:   outcome.Attempts,
				Err:        outcome.Err,
			}
		}
	})
}

// BaseURL returns the normalised API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.transport.httpClient.CloseIdleConnections()
	return nil
}
