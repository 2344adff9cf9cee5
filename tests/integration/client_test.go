//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/wcl-client/internal/testutil"
	"github.com/Sternrassler/wcl-client/pkg/cache"
	"github.com/Sternrassler/wcl-client/pkg/client"
	"github.com/Sternrassler/wcl-client/pkg/ratelimit"
)

const eventsPath = "report/events/damage-done/ABC123"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newClient builds a client against mock that caches in Redis and shares
// its rate-limit cooldown through Redis.
func newClient(t *testing.T, mock *testutil.MockWCL, redisClient *redis.Client) (*client.Client, *ratelimit.Tracker) {
	t.Helper()

	tracker := ratelimit.NewTracker(ratelimit.DefaultConfig(), redisClient, zerolog.Nop())

	cfg := client.DefaultConfig("integration-key")
	cfg.BaseURL = mock.URL()
	cfg.UserAgent = "TestApp/1.0.0 (integration@test.com)"
	cfg.Timeout = 5 * time.Second
	cfg.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Second
	cfg.Cache = cache.NewRedisStore(redisClient, cache.DefaultRedisPrefix)
	cfg.RateLimiter = tracker

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, tracker
}

func eventCount(t *testing.T, data []byte) int {
	t.Helper()
	var doc struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("result is not an events document: %v", err)
	}
	return len(doc.Events)
}

// TestFullQueryFlow covers cache miss, pagination, Redis cache write and a
// cache hit from a second client sharing the same Redis.
func TestFullQueryFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockWCL()
	defer mock.Close()
	mock.SetPages(eventsPath,
		`{"events":[{"timestamp":1},{"timestamp":2}],"nextPageTimestamp":3}`,
		`{"events":[{"timestamp":3}],"nextPageTimestamp":4}`,
		`{"events":[{"timestamp":4}]}`,
	)

	ctx := context.Background()
	params := client.EventsParams{View: "damage-done", Code: "ABC123"}

	first, _ := newClient(t, mock, redisClient)

	t.Log("Request 1: cache miss, three pages")
	data, err := first.ReportEvents(ctx, params)
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	if n := eventCount(t, data); n != 4 {
		t.Errorf("Request 1 events = %d, want 4", n)
	}
	if n := mock.RequestCount(); n != 3 {
		t.Errorf("Request 1 upstream requests = %d, want 3", n)
	}

	q, _ := params.Query()
	exists, err := redisClient.Exists(ctx, cache.DefaultRedisPrefix+cache.KeyFor(q).String()).Result()
	if err != nil || exists != 1 {
		t.Errorf("cache entry exists = %d (err %v), want 1", exists, err)
	}

	t.Log("Request 2: second client, cache hit")
	second, _ := newClient(t, mock, redisClient)
	data, err = second.ReportEvents(ctx, params)
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if n := eventCount(t, data); n != 4 {
		t.Errorf("Request 2 events = %d, want 4", n)
	}
	if n := mock.RequestCount(); n != 3 {
		t.Errorf("upstream requests after cache hit = %d, want 3", n)
	}
}

// TestRetryThenCache verifies that a result obtained after retries is cached.
func TestRetryThenCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockWCL()
	defer mock.Close()
	mock.SetSequence(eventsPath,
		testutil.MockResponse{StatusCode: http.StatusServiceUnavailable},
		testutil.MockResponse{StatusCode: http.StatusBadGateway},
		testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"events":[{"timestamp":1}]}`},
	)

	c, _ := newClient(t, mock, redisClient)
	ctx := context.Background()
	params := client.EventsParams{View: "damage-done", Code: "ABC123"}

	data, err := c.ReportEvents(ctx, params)
	if err != nil {
		t.Fatalf("ReportEvents() error = %v", err)
	}
	if n := eventCount(t, data); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
	if n := mock.RequestCount(); n != 3 {
		t.Errorf("upstream requests = %d, want 3", n)
	}

	if _, err := c.ReportEvents(ctx, params); err != nil {
		t.Fatalf("cached ReportEvents() error = %v", err)
	}
	if n := mock.RequestCount(); n != 3 {
		t.Errorf("upstream requests after cache hit = %d, want 3", n)
	}
}

// TestSharedCooldown verifies that a 429 seen by one client puts every
// client sharing the Redis instance into cooldown.
func TestSharedCooldown(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockWCL()
	defer mock.Close()
	mock.SetSequence("zones",
		testutil.MockResponse{
			StatusCode: http.StatusTooManyRequests,
			Headers:    map[string]string{"Retry-After": "1"},
		},
		testutil.MockResponse{StatusCode: http.StatusOK, Body: `[{"id":1000,"name":"Molten Core"}]`},
	)

	first, _ := newClient(t, mock, redisClient)
	_, observer := newClient(t, mock, redisClient)

	ctx := context.Background()
	start := time.Now()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := first.Zones(ctx)
		done <- result{data: data, err: err}
	}()

	// The first client is now waiting out the cooldown.
	time.Sleep(300 * time.Millisecond)

	state, err := observer.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.InCooldown() {
		t.Errorf("observer should see the shared cooldown, state = %+v", state)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Zones() error = %v", res.err)
	}
	if !strings.Contains(string(res.data), "Molten Core") {
		t.Errorf("Zones() = %s", res.data)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("Zones() returned after %v, want at least the Retry-After delay", elapsed)
	}
}

// TestAuthenticationFailure verifies that a 401 is not retried and not cached.
func TestAuthenticationFailure(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockWCL()
	defer mock.Close()
	mock.SetResponse(eventsPath, testutil.MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"status":401,"error":"Invalid API key"}`,
	})

	c, _ := newClient(t, mock, redisClient)
	ctx := context.Background()

	_, err := c.ReportEvents(ctx, client.EventsParams{View: "damage-done", Code: "ABC123"})
	var authErr *client.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *client.AuthenticationError", err)
	}
	if n := mock.RequestCount(); n != 1 {
		t.Errorf("upstream requests = %d, want 1", n)
	}

	keys, err := redisClient.Keys(ctx, cache.DefaultRedisPrefix+"*").Result()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("cache keys = %v, want none", keys)
	}
}
