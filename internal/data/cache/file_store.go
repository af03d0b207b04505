package cache

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

const fileExt = ".json.gz"

// FileStore keeps one gzip-compressed JSON file per cache key
// Path: {baseDir}/{source}/{timeframe}/{symbol}.json.gz
type FileStore struct {
	baseDir string
}

// NewFileStore creates a file store rooted at baseDir
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// path maps a key to its file. Keys are validated so no segment can leave baseDir.
func (s *FileStore) path(key interfaces.CacheKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, key.Source, string(key.Timeframe), key.Symbol+fileExt), nil
}

// Put writes the entry, replacing any previous file atomically
func (s *FileStore) Put(ctx context.Context, entry interfaces.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.path(entry.Key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	gzWriter := gzip.NewWriter(tmp)
	if err := json.NewEncoder(gzWriter).Encode(entry); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush gzip stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to move cache file into place: %w", err)
	}

	log.Debug().Str("file", filePath).Int("candles", len(entry.Candles)).Msg("Cache file written")
	return nil
}

// Get reads the entry for a key
func (s *FileStore) Get(ctx context.Context, key interfaces.CacheKey) (*interfaces.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open cache file %s: %w", filePath, err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	var entry interfaces.CacheEntry
	if err := json.NewDecoder(gzReader).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache file %s: %w", filePath, err)
	}
	return &entry, nil
}

// Delete removes the file for a key
func (s *FileStore) Delete(ctx context.Context, key interfaces.CacheKey) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

// Keys walks the store and returns every key, sorted
func (s *FileStore) Keys(ctx context.Context) ([]interfaces.CacheKey, error) {
	var keys []interfaces.CacheKey
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.baseDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileExt) {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			log.Warn().Str("file", path).Msg("Skipping unexpected file in cache directory")
			return nil
		}
		keys = append(keys, interfaces.CacheKey{
			Source:    parts[0],
			Timeframe: interfaces.Timeframe(parts[1]),
			Symbol:    strings.TrimSuffix(parts[2], fileExt),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk cache directory: %w", err)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
