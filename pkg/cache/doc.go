// Package cache provides the permanent query-result cache of the Warcraft
// Logs client.
//
// The cache has the following properties:
//
//   - Deterministic cache keys derived from the operation and its bound
//     parameters in declaration order
//   - Filesystem-safe key strings (one file per key, no index)
//   - Atomic write-then-rename on disk
//   - Optional Redis backend for sharing results between processes
//   - Optional embedded BadgerDB backend
//   - Corrupted entries are reported, never silently treated as misses
//   - Prometheus metrics for observability
//
// # Basic Usage
//
//	store, err := cache.NewDiskStore("/var/cache/wcl")
//	if err != nil {
//		return err
//	}
//
//	key := cache.KeyFor(q)
//
//	entry, err := store.Get(ctx, key)
//	switch {
//	case err == nil:
//		// Cache hit - entry.Data holds the merged payload
//	case errors.Is(err, cache.ErrCacheMiss):
//		// Cache miss - fetch from the API, then store.Set(ctx, key, payload)
//	case errors.Is(err, cache.ErrInvalidEntry):
//		// Corrupted entry - remove the file and retry
//	}
//
// # Redis Backend
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient, "")
//
// # Badger Backend
//
//	db, err := cache.OpenBadger("/var/lib/wcl/cache")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//	store := cache.NewBadgerStore(db)
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - wcl_cache_hits_total{layer} - Cache hits
//   - wcl_cache_misses_total{layer} - Cache misses
//   - wcl_cache_written_bytes_total{layer} - Bytes written
//   - wcl_cache_errors_total{layer,operation} - Cache operation errors
//
// # Expiry
//
// Entries never expire and are never invalidated by the client. Remove the
// file (or Redis key) to force a refetch.
package cache
