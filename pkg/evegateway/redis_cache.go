package evegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go-aura/pkg/database"

	"github.com/redis/go-redis/v9"
)

const redisCachePrefix = "esi:cache:"

// RedisCacheManager implements CacheManager using Redis, so the ESI response
// cache survives process restarts. Selected via ESI_CACHE_BACKEND=redis.
type RedisCacheManager struct {
	redis *database.Redis
	ctx   context.Context
}

// NewRedisCacheManager creates a new Redis-based cache manager
func NewRedisCacheManager(redis *database.Redis) *RedisCacheManager {
	return &RedisCacheManager{
		redis: redis,
		ctx:   context.Background(),
	}
}

func (r *RedisCacheManager) entry(key string) (*CacheEntry, error) {
	entryJSON, err := r.redis.Get(r.ctx, redisCachePrefix+key)
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func (r *RedisCacheManager) store(key string, entry *CacheEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ttl := time.Until(entry.Expires)
	if ttl < 0 {
		ttl = 5 * time.Second
	}

	return r.redis.Set(r.ctx, redisCachePrefix+key, entryJSON, ttl)
}

// Get retrieves data from the Redis cache
func (r *RedisCacheManager) Get(key string) ([]byte, bool, error) {
	entry, err := r.entry(key)
	if err != nil || entry == nil {
		return nil, false, err
	}

	if entry.Expires.Before(time.Now()) {
		r.redis.Delete(r.ctx, redisCachePrefix+key)
		return nil, false, nil
	}

	return entry.Data, true, nil
}

// GetWithExpiry retrieves data from the Redis cache along with expiry time
func (r *RedisCacheManager) GetWithExpiry(key string) ([]byte, bool, *time.Time, error) {
	entry, err := r.entry(key)
	if err != nil || entry == nil {
		return nil, false, nil, err
	}

	if entry.Expires.Before(time.Now()) {
		r.redis.Delete(r.ctx, redisCachePrefix+key)
		return nil, false, nil, nil
	}

	return entry.Data, true, &entry.Expires, nil
}

// GetForNotModified retrieves data even if expired (for 304 responses)
func (r *RedisCacheManager) GetForNotModified(key string) ([]byte, bool, error) {
	entry, err := r.entry(key)
	if err != nil || entry == nil {
		return nil, false, err
	}
	return entry.Data, true, nil
}

// RefreshExpiry updates the expiry time of a cached entry (for 304 responses)
func (r *RedisCacheManager) RefreshExpiry(key string, headers http.Header) error {
	entry, err := r.entry(key)
	if err != nil || entry == nil {
		return err
	}

	entry.Expires = expiryFromHeaders(headers)
	return r.store(key, entry)
}

// Set stores data in the Redis cache
func (r *RedisCacheManager) Set(key string, data []byte, headers http.Header) error {
	return r.store(key, &CacheEntry{
		Data:         data,
		ETag:         headers.Get("ETag"),
		LastModified: headers.Get("Last-Modified"),
		Expires:      expiryFromHeaders(headers),
	})
}

// SetConditionalHeaders sets conditional headers if cached data exists
func (r *RedisCacheManager) SetConditionalHeaders(req *http.Request, key string) error {
	entry, err := r.entry(key)
	if err != nil || entry == nil {
		return err
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
	if entry.LastModified != "" {
		req.Header.Set("If-Modified-Since", entry.LastModified)
	}

	return nil
}
