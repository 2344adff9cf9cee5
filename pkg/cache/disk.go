package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// DiskStore keeps one JSON file per cache key in a directory. The file holds
// the raw payload; its presence is the cache hit signal.
//
// Writes go to a temporary file in the same directory that is renamed over
// the target, so readers never see a partial file. Concurrent writers of the
// same key race and the last rename wins.
type DiskStore struct {
	dir string
}

// NewDiskStore creates a disk store rooted at dir. The directory is created
// on the first Set.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Path returns the file path for key.
func (s *DiskStore) Path(key CacheKey) string {
	return filepath.Join(s.dir, key.FileName())
}

// Get reads the entry for key.
func (s *DiskStore) Get(ctx context.Context, key CacheKey) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(key)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			CacheMisses.WithLabelValues(layerDisk).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(layerDisk, "get").Inc()
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		CacheErrors.WithLabelValues(layerDisk, "get").Inc()
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	if !json.Valid(data) {
		CacheErrors.WithLabelValues(layerDisk, "get").Inc()
		return nil, &CorruptEntryError{
			Key:      key.String(),
			Location: path,
			Err:      errors.New("content is not valid JSON"),
		}
	}

	entry := &Entry{Key: key.String(), Data: data}
	if info, err := f.Stat(); err == nil {
		entry.CachedAt = info.ModTime()
	}

	CacheHits.WithLabelValues(layerDisk).Inc()
	return entry, nil
}

// Set writes data for key, replacing any existing file.
func (s *DiskStore) Set(ctx context.Context, key CacheKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !json.Valid(data) {
		CacheErrors.WithLabelValues(layerDisk, "set").Inc()
		return fmt.Errorf("refusing to cache %s: payload is not valid JSON", key)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		CacheErrors.WithLabelValues(layerDisk, "set").Inc()
		return fmt.Errorf("create cache directory: %w", err)
	}

	if err := writeFileAtomic(s.Path(key), data); err != nil {
		CacheErrors.WithLabelValues(layerDisk, "set").Inc()
		return err
	}

	CacheBytesWritten.WithLabelValues(layerDisk).Add(float64(len(data)))
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
