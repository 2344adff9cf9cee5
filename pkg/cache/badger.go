package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const badgerKeyPrefix = "query:"

// BadgerStore keeps cached results in an embedded BadgerDB. It suits a
// single long-running process that wants one database instead of one file
// per query. Entries are written without TTL.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database. The caller owns db and closes it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	if db == nil {
		panic("badger db cannot be nil")
	}
	return &BadgerStore{db: db}
}

// OpenBadger opens (or creates) a BadgerDB at dir with logging disabled.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return db, nil
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *BadgerStore) Get(ctx context.Context, key CacheKey) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dbKey := []byte(badgerKeyPrefix + key.String())

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		CacheMisses.WithLabelValues(layerBadger).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues(layerBadger, "get").Inc()
		return nil, fmt.Errorf("badger get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		CacheErrors.WithLabelValues(layerBadger, "get").Inc()
		return nil, &CorruptEntryError{Key: key.String(), Location: "badger:" + string(dbKey), Err: err}
	}
	if len(entry.Data) == 0 || !json.Valid(entry.Data) {
		CacheErrors.WithLabelValues(layerBadger, "get").Inc()
		return nil, &CorruptEntryError{Key: key.String(), Location: "badger:" + string(dbKey)}
	}

	CacheHits.WithLabelValues(layerBadger).Inc()
	return &entry, nil
}

// Set stores data under key, replacing any existing entry.
func (s *BadgerStore) Set(ctx context.Context, key CacheKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !json.Valid(data) {
		CacheErrors.WithLabelValues(layerBadger, "set").Inc()
		return fmt.Errorf("refusing to cache %s: payload is not valid JSON", key)
	}

	encoded, err := json.Marshal(Entry{
		Key:      key.String(),
		Data:     data,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerBadger, "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key.String()), encoded)
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerBadger, "set").Inc()
		return fmt.Errorf("badger set: %w", err)
	}

	CacheBytesWritten.WithLabelValues(layerBadger).Add(float64(len(encoded)))
	return nil
}
