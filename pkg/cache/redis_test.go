package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/wcl-client/pkg/query"
)

// setupTestRedis creates a test Redis client for testing.
// Tests are skipped when no local Redis is reachable; the integration suite
// runs the same contract against a testcontainers instance.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	store := NewRedisStore(client, "")
	if store.redis != client {
		t.Error("RedisStore redis client not set correctly")
	}
	if store.prefix != DefaultRedisPrefix {
		t.Errorf("prefix = %q, want %q", store.prefix, DefaultRedisPrefix)
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, "")
}

func TestRedisStore_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test:")
	ctx := context.Background()
	key := KeyFor(query.Must(eventsOp, query.Values{"code": "ABC123", "view": "damage-done"}))

	payload := []byte(`{"events":[1,2,3]}`)
	if err := store.Set(ctx, key, payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Data) != string(payload) {
		t.Errorf("Data mismatch: got %s, want %s", entry.Data, payload)
	}

	ttl, err := client.TTL(ctx, "test:"+key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL = %v, want no expiry", ttl)
	}
}

func TestRedisStore_Get_CacheMiss(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "")

	_, err := store.Get(context.Background(), KeyFor(query.Must(zonesOp, nil)))
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestRedisStore_Get_CorruptEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "")
	ctx := context.Background()
	key := KeyFor(query.Must(zonesOp, nil))

	if err := client.Set(ctx, DefaultRedisPrefix+key.String(), "{broken", 0).Err(); err != nil {
		t.Fatal(err)
	}

	_, err := store.Get(ctx, key)
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}
