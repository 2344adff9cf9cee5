package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every key written by RedisStore.
const DefaultRedisPrefix = "wcl:cache:"

// RedisStore shares cached results between processes through Redis.
// Entries are written without expiry.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) redisKey(key CacheKey) string {
	return s.prefix + key.String()
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, key CacheKey) (*Entry, error) {
	redisKey := s.redisKey(key)

	data, err := s.redis.Get(ctx, redisKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(layerRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(layerRedis, "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "get").Inc()
		return nil, &CorruptEntryError{Key: key.String(), Location: "redis:" + redisKey, Err: err}
	}
	if len(entry.Data) == 0 || !json.Valid(entry.Data) {
		CacheErrors.WithLabelValues(layerRedis, "get").Inc()
		return nil, &CorruptEntryError{Key: key.String(), Location: "redis:" + redisKey}
	}

	CacheHits.WithLabelValues(layerRedis).Inc()
	return &entry, nil
}

// Set stores data under key without TTL.
func (s *RedisStore) Set(ctx context.Context, key CacheKey, data []byte) error {
	if !json.Valid(data) {
		CacheErrors.WithLabelValues(layerRedis, "set").Inc()
		return fmt.Errorf("refusing to cache %s: payload is not valid JSON", key)
	}

	encoded, err := json.Marshal(Entry{
		Key:      key.String(),
		Data:     data,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, s.redisKey(key), encoded, 0).Err(); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheBytesWritten.WithLabelValues(layerRedis).Add(float64(len(encoded)))
	return nil
}
