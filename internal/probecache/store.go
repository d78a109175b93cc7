// SPDX-License-Identifier: MIT

// Package probecache persists technical media profiles keyed by file
// path and modification time, so unchanged files are never re-probed.
// Every backend failure degrades to a cache miss; the cache is an
// optimisation, never a dependency.
package probecache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/mediainfo"
)

// Store is the persistent profile cache.
type Store interface {
	// Get returns the cached profile for (path, modTime), if present.
	Get(ctx context.Context, path string, modTime time.Time) (*mediainfo.MediaInfo, bool)
	// Put stores the profile for (path, modTime).
	Put(ctx context.Context, path string, modTime time.Time, info *mediainfo.MediaInfo)
	// Close releases backend resources.
	Close() error
}

// Open creates the store named by the cache configuration.
func Open(cfg config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "badger":
		return openBadger(cfg.Dir)
	case "redis":
		return openRedis(cfg)
	case "memory":
		return NewMemory(), nil
	case "off":
		return noopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func cacheKey(path string, modTime time.Time) string {
	return "probe:" + path + "@" + strconv.FormatInt(modTime.Unix(), 10)
}

// memoryStore is a map-backed Store for tests and cache-less setups.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]*mediainfo.MediaInfo
}

// NewMemory returns an in-memory Store.
func NewMemory() Store {
	return &memoryStore{entries: make(map[string]*mediainfo.MediaInfo)}
}

func (s *memoryStore) Get(_ context.Context, path string, modTime time.Time) (*mediainfo.MediaInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.entries[cacheKey(path, modTime)]
	return info, ok
}

func (s *memoryStore) Put(_ context.Context, path string, modTime time.Time, info *mediainfo.MediaInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cacheKey(path, modTime)] = info
}

func (s *memoryStore) Close() error { return nil }

type noopStore struct{}

func (noopStore) Get(context.Context, string, time.Time) (*mediainfo.MediaInfo, bool) {
	return nil, false
}
func (noopStore) Put(context.Context, string, time.Time, *mediainfo.MediaInfo) {}
func (noopStore) Close() error                                                 { return nil }
