package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/Sternrassler/wcl-client/pkg/logging"
	"github.com/Sternrassler/wcl-client/pkg/ratelimit"
)

// errOutcomeFailed marks an outcome that counts as a circuit breaker failure.
var errOutcomeFailed = errors.New("request failed")

// Request is one logical HTTP call. The transport may send it several times.
type Request struct {
	// Operation labels logs and metrics.
	Operation string

	// Endpoint is the resolved endpoint path, used in logs. It must not
	// contain credentials.
	Endpoint string

	// URL is the absolute request URL without query string.
	URL string

	// Params are encoded as the query string, credentials included.
	Params url.Values

	// Header is sent with every attempt.
	Header http.Header
}

// Outcome is the classified result of the last attempt of a Request.
type Outcome struct {
	Class      OutcomeClass
	StatusCode int
	Body       []byte
	Header     http.Header

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the network error of the last attempt, or ErrRetryExhausted
	// wrapping it when retries ran out.
	Err error
}

// CircuitBreakerConfig configures the optional circuit breaker.
type CircuitBreakerConfig struct {
	// ConsecutiveFailures opens the breaker after that many requests in a
	// row ran out of retries.
	ConsecutiveFailures uint32

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// Interval resets the failure counts while closed. 0 never resets.
	Interval time.Duration

	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
}

// DefaultCircuitBreakerConfig returns a breaker that opens after 5 exhausted
// requests and probes again after one minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ConsecutiveFailures: 5,
		Timeout:             time.Minute,
		Interval:            0,
		MaxRequests:         1,
	}
}

// TransportConfig holds the transport configuration.
type TransportConfig struct {
	// HTTPClient sends the requests. nil selects a client without timeout;
	// per-attempt timeouts come from Timeout.
	HTTPClient *http.Client

	// Retry controls attempts and backoff.
	Retry RetryConfig

	// Timeout bounds each attempt. 0 disables the per-attempt timeout.
	Timeout time.Duration

	// RateLimiter is waited on before every attempt and updated from every
	// response. Optional.
	RateLimiter *ratelimit.Tracker

	// CircuitBreaker enables the circuit breaker when non-nil.
	CircuitBreaker *CircuitBreakerConfig
}

// Transport sends requests with timeout, classification, retry and backoff.
// It is safe for concurrent use.
type Transport struct {
	httpClient *http.Client
	retry      RetryConfig
	timeout    time.Duration
	limiter    *ratelimit.Tracker
	breaker    *gobreaker.CircuitBreaker[Outcome]
	logger     zerolog.Logger
}

// NewTransport creates a transport.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if err := cfg.Retry.validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	t := &Transport{
		httpClient: httpClient,
		retry:      cfg.Retry,
		timeout:    cfg.Timeout,
		limiter:    cfg.RateLimiter,
		logger:     logging.NewLogger("wcl-transport"),
	}

	if cfg.CircuitBreaker != nil {
		t.breaker = newCircuitBreaker(*cfg.CircuitBreaker, t.logger)
	}

	return t, nil
}

func newCircuitBreaker(cfg CircuitBreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[Outcome] {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = DefaultCircuitBreakerConfig().ConsecutiveFailures
	}

	wclCircuitBreakerState.Set(0)

	return gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:        "wcl-api",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			wclCircuitBreakerState.Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, ErrContextCancelled)
		},
	})
}

// Execute sends req until it succeeds, fails terminally or runs out of
// attempts, and returns the outcome of the last attempt.
//
// The returned error is non-nil only when no outcome could be produced:
// the context was cancelled (ErrContextCancelled) or the circuit breaker
// rejected the call (ErrCircuitOpen).
func (t *Transport) Execute(ctx context.Context, req Request) (Outcome, error) {
	if t.breaker == nil {
		return t.execute(ctx, req)
	}

	outcome, err := t.breaker.Execute(func() (Outcome, error) {
		o, err := t.execute(ctx, req)
		if err != nil {
			return o, err
		}
		if o.Class == OutcomeRetryable {
			return o, errOutcomeFailed
		}
		return o, nil
	})

	switch {
	case err == nil, errors.Is(err, errOutcomeFailed):
		return outcome, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		wclRequestsTotal.WithLabelValues(req.Operation, "circuit_open").Inc()
		return Outcome{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	default:
		return outcome, err
	}
}

func (t *Transport) execute(ctx context.Context, req Request) (Outcome, error) {
	var last Outcome

	for attempt := 1; attempt <= t.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return last, fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
				}
				return last, err
			}
		}

		last = t.attempt(ctx, req)
		last.Attempts = attempt

		if last.Class != OutcomeRetryable {
			if attempt > 1 && last.Class == OutcomeSuccess {
				t.logger.Info().
					Str("operation", req.Operation).
					Str("endpoint", req.Endpoint).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return last, nil
		}

		// A failure caused by the caller's cancellation is not retried.
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		if attempt >= t.retry.MaxAttempts {
			break
		}

		backoff := t.backoff(attempt, last)
		wclRetriesTotal.WithLabelValues(req.Operation).Inc()
		wclRetryBackoffSeconds.WithLabelValues(req.Operation).Observe(backoff.Seconds())

		t.logger.Debug().
			Str("operation", req.Operation).
			Str("endpoint", req.Endpoint).
			Int("status_code", last.StatusCode).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		if err := sleepContext(ctx, backoff); err != nil {
			t.logger.Warn().
				Str("operation", req.Operation).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return last, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	wclRetryExhaustedTotal.WithLabelValues(req.Operation).Inc()
	t.logger.Warn().
		Str("operation", req.Operation).
		Str("endpoint", req.Endpoint).
		Int("status_code", last.StatusCode).
		Int("max_attempts", t.retry.MaxAttempts).
		Msg("Retry attempts exhausted")

	if last.Err != nil {
		last.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, last.Attempts, last.Err)
	} else {
		last.Err = fmt.Errorf("%w after %d attempts: status %d", ErrRetryExhausted, last.Attempts, last.StatusCode)
	}
	return last, nil
}

// backoff returns the delay before the retry that follows attempt.
// Retry-After on 429 and 503 replaces the computed delay.
func (t *Transport) backoff(attempt int, last Outcome) time.Duration {
	d := t.retry.Backoff(attempt)

	if last.StatusCode == http.StatusTooManyRequests || last.StatusCode == http.StatusServiceUnavailable {
		if ra, ok := ratelimit.ParseRetryAfter(last.Header, time.Now()); ok {
			d = ra
			if t.retry.MaxBackoff > 0 && d > t.retry.MaxBackoff {
				d = t.retry.MaxBackoff
			}
		}
	}
	return d
}

// attempt performs a single HTTP round trip.
func (t *Transport) attempt(ctx context.Context, req Request) Outcome {
	attemptCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	target := req.URL
	if len(req.Params) > 0 {
		target += "?" + req.Params.Encode()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return Outcome{Class: OutcomeTerminal, Err: fmt.Errorf("create request: %w", redactURL(err))}
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	wclRequestDuration.WithLabelValues(req.Operation).Observe(time.Since(start).Seconds())
	if err != nil {
		err = redactURL(err)
		wclRequestsTotal.WithLabelValues(req.Operation, "network_error").Inc()
		t.logger.Warn().
			Err(err).
			Str("operation", req.Operation).
			Str("endpoint", req.Endpoint).
			Msg("HTTP request failed")
		return Outcome{Class: OutcomeRetryable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = redactURL(err)
		wclRequestsTotal.WithLabelValues(req.Operation, "network_error").Inc()
		return Outcome{
			Class:      OutcomeRetryable,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Err:        fmt.Errorf("read response body: %w", err),
		}
	}

	wclRequestsTotal.WithLabelValues(req.Operation, strconv.Itoa(resp.StatusCode)).Inc()

	if t.limiter != nil {
		if err := t.limiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to update rate limit state")
		}
	}

	class := t.retry.classify(resp.StatusCode)
	if class != OutcomeSuccess {
		t.logger.Warn().
			Str("operation", req.Operation).
			Str("endpoint", req.Endpoint).
			Int("status_code", resp.StatusCode).
			Str("class", string(class)).
			Msg("WCL request error")
	}

	return Outcome{
		Class:      class,
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}
}

// redactURL strips the request URL, which carries the API key, from
// net/http errors.
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
