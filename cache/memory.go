package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache for single-instance deployments
// and tests. Entries past their deadline are treated as absent on read
// and reaped by a background janitor.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	config  Config
	cancel  context.CancelFunc
}

type memoryEntry struct {
	payload  []byte
	deadline time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// NewMemoryCache creates an in-memory cache with the default configuration.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultConfig())
}

// NewMemoryCacheWithConfig creates an in-memory cache and starts its
// janitor. Callers own the cache and must Close it to stop the janitor.
func NewMemoryCacheWithConfig(config Config) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemoryCache{
		entries: make(map[string]memoryEntry),
		config:  config,
		cancel:  cancel,
	}

	go mc.janitor(ctx)
	return mc
}

// Get returns the payload stored under key, or ErrCacheMiss.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key

	m.mu.RLock()
	entry, ok := m.entries[fullKey]
	m.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, ErrCacheMiss{Key: key}
	}
	return entry.payload, nil
}

// Set stores a payload under key. A zero ttl falls back to the configured
// default; a negative one stores the entry without an expiry.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	entry := memoryEntry{payload: value}
	if ttl > 0 {
		entry.deadline = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[m.config.Prefix+key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes the entry under key, if any.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, m.config.Prefix+key)
	m.mu.Unlock()
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func (m *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPrefix := m.config.Prefix + prefix

	m.mu.Lock()
	for key := range m.entries {
		if strings.HasPrefix(key, fullPrefix) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// Clear drops every entry.
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Close stops the janitor. The cache stays usable afterwards; expired
// entries are then only dropped on read.
func (m *MemoryCache) Close() error {
	m.cancel()
	return nil
}

func (m *MemoryCache) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, entry := range m.entries {
				if entry.expired(now) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
