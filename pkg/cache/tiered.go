// Package cache provides a two-tier (memory + file) TTL cache used for
// resolved data that outlives a single process, such as structure names.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// fileEntry is the persisted shape of one cached value.
type fileEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type memoryEntry[T any] struct {
	value     T
	timestamp time.Time
}

// Tiered is a two-tier cache: a bounded in-memory LRU backed by one JSON
// file per key. Reads check memory first, then the file tier; a file hit is
// promoted back into memory. Writes go through to both tiers. Entries past
// the TTL are treated as absent on read.
type Tiered[T any] struct {
	mu      sync.Mutex
	memory  *lru.Cache[string, memoryEntry[T]]
	dir     string
	ttl     time.Duration
	now     func() time.Time
	dirOnce sync.Once
	dirErr  error
}

// NewTiered creates a tiered cache persisting under dir. The memory tier
// holds at most maxEntries values; the file tier is unbounded.
func NewTiered[T any](dir string, maxEntries int, ttl time.Duration) (*Tiered[T], error) {
	memory, err := lru.New[string, memoryEntry[T]](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	return &Tiered[T]{
		memory: memory,
		dir:    dir,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// SetClock overrides the cache's time source. Test use only.
func (t *Tiered[T]) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Get returns the cached value for key if present and within the TTL.
func (t *Tiered[T]) Get(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	now := t.now()

	if entry, ok := t.memory.Get(key); ok {
		if now.Sub(entry.timestamp) <= t.ttl {
			return entry.value, true
		}
		t.memory.Remove(key)
	}

	entry, ok := t.readFile(key)
	if !ok {
		return zero, false
	}
	if now.Sub(entry.Timestamp) > t.ttl {
		return zero, false
	}

	var value T
	if err := json.Unmarshal(entry.Data, &value); err != nil {
		// Corrupt payload, drop the file so it cannot keep failing
		os.Remove(t.filePath(key))
		return zero, false
	}

	t.memory.Add(key, memoryEntry[T]{value: value, timestamp: entry.Timestamp})
	return value, true
}

// Set stores value under key in both tiers, stamped with the current time.
func (t *Tiered[T]) Set(key string, value T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.memory.Add(key, memoryEntry[T]{value: value, timestamp: now})

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return t.writeFile(key, fileEntry{Data: data, Timestamp: now})
}

// Delete removes key from both tiers.
func (t *Tiered[T]) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.Remove(key)
	os.Remove(t.filePath(key))
}

// ClearAll empties the memory tier and deletes every persisted entry.
func (t *Tiered[T]) ClearAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory.Purge()

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(t.dir, e.Name())); err != nil {
			slog.Warn("Failed to remove cache file", "file", e.Name(), "error", err)
		}
	}
	return nil
}

// SweepExpired deletes file-tier entries past the TTL, returning how many
// were removed. Unreadable files count as expired. Memory entries expire
// on read and need no sweeping.
func (t *Tiered[T]) SweepExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0
	}

	now := t.now()
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(t.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry fileEntry
		if err := json.Unmarshal(data, &entry); err != nil || now.Sub(entry.Timestamp) > t.ttl {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed
}

// Len reports the number of entries currently in the memory tier.
func (t *Tiered[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memory.Len()
}

func (t *Tiered[T]) ensureDir() error {
	t.dirOnce.Do(func() {
		t.dirErr = os.MkdirAll(t.dir, 0o755)
	})
	return t.dirErr
}

// filePath maps a key to its file. Keys are hashed so arbitrary strings
// stay filesystem-safe.
func (t *Tiered[T]) filePath(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(t.dir, hex.EncodeToString(sum[:])+".json")
}

func (t *Tiered[T]) readFile(key string) (fileEntry, bool) {
	path := t.filePath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return fileEntry{}, false
	}
	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		os.Remove(path)
		return fileEntry{}, false
	}
	return entry, true
}

func (t *Tiered[T]) writeFile(key string, entry fileEntry) error {
	if err := t.ensureDir(); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache file: %w", err)
	}
	if err := os.WriteFile(t.filePath(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}
