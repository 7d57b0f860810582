package evegateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CacheEntry represents a cached ESI response together with the HTTP caching
// metadata needed for conditional requests.
type CacheEntry struct {
	Data         []byte
	ETag         string
	LastModified string
	Expires      time.Time
}

// ESIErrorLimits represents ESI error limit headers
type ESIErrorLimits struct {
	Remain int
	Reset  time.Time
	Window int
}

// CacheManager is the HTTP-level response cache keyed by request URL. It
// honors the Expires/ETag headers ESI attaches to every response.
type CacheManager interface {
	Get(key string) ([]byte, bool, error)
	GetWithExpiry(key string) ([]byte, bool, *time.Time, error)
	GetForNotModified(key string) ([]byte, bool, error)
	Set(key string, data []byte, headers http.Header) error
	RefreshExpiry(key string, headers http.Header) error
	SetConditionalHeaders(req *http.Request, key string) error
}

// RetryClient wraps a single request with bounded attempts. The body is fully
// read before return; resp.Body is closed.
type RetryClient interface {
	DoWithRetry(ctx context.Context, req *http.Request) (*http.Response, []byte, error)
	ErrorLimits() ESIErrorLimits
}

// TokenProvider supplies a bearer token for an owner. Refresh and expiry
// mechanics live behind this interface; only the resulting token is consumed.
type TokenProvider interface {
	GetAccessToken(ctx context.Context, ownerID int32) (string, error)
}

// MemoryCacheManager implements CacheManager with an in-process map. It is
// the default backend; RedisCacheManager persists across restarts.
type MemoryCacheManager struct {
	cache      map[string]*CacheEntry
	cacheMutex sync.RWMutex
}

// NewMemoryCacheManager creates an empty in-memory cache manager
func NewMemoryCacheManager() *MemoryCacheManager {
	return &MemoryCacheManager{
		cache: make(map[string]*CacheEntry),
	}
}

// Get retrieves data from cache
func (c *MemoryCacheManager) Get(key string) ([]byte, bool, error) {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists || entry.Expires.Before(time.Now()) {
		return nil, false, nil
	}

	return entry.Data, true, nil
}

// GetWithExpiry retrieves data from cache along with expiry time
func (c *MemoryCacheManager) GetWithExpiry(key string) ([]byte, bool, *time.Time, error) {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists || entry.Expires.Before(time.Now()) {
		return nil, false, nil, nil
	}

	return entry.Data, true, &entry.Expires, nil
}

// GetForNotModified retrieves data from cache even if expired (for 304 responses)
func (c *MemoryCacheManager) GetForNotModified(key string) ([]byte, bool, error) {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists {
		return nil, false, nil
	}

	return entry.Data, true, nil
}

// RefreshExpiry updates the expiry time of a cached entry (for 304 responses)
func (c *MemoryCacheManager) RefreshExpiry(key string, headers http.Header) error {
	c.cacheMutex.Lock()
	defer c.cacheMutex.Unlock()

	entry, exists := c.cache[key]
	if !exists {
		return nil
	}

	entry.Expires = expiryFromHeaders(headers)
	return nil
}

// Set stores data in cache
func (c *MemoryCacheManager) Set(key string, data []byte, headers http.Header) error {
	c.cacheMutex.Lock()
	defer c.cacheMutex.Unlock()

	c.cache[key] = &CacheEntry{
		Data:         data,
		ETag:         headers.Get("ETag"),
		LastModified: headers.Get("Last-Modified"),
		Expires:      expiryFromHeaders(headers),
	}
	return nil
}

// SetConditionalHeaders sets conditional headers if cached data exists
func (c *MemoryCacheManager) SetConditionalHeaders(req *http.Request, key string) error {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists {
		return nil
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
	if entry.LastModified != "" {
		req.Header.Set("If-Modified-Since", entry.LastModified)
	}

	return nil
}

// expiryFromHeaders derives an expiry time from ESI cache headers. The
// Expires header is the primary signal, Cache-Control max-age the fallback,
// and a 5 second default applies when neither parses.
func expiryFromHeaders(headers http.Header) time.Time {
	if expires := headers.Get("Expires"); expires != "" {
		if parsedTime, err := time.Parse(time.RFC1123, expires); err == nil {
			return parsedTime
		}
		if parsedTime, err := time.Parse(time.RFC1123Z, expires); err == nil {
			return parsedTime
		}
	}

	if cacheControl := headers.Get("Cache-Control"); cacheControl != "" {
		if maxAge := parseCacheControlMaxAge(cacheControl); maxAge > 0 {
			return time.Now().Add(time.Duration(maxAge) * time.Second)
		}
	}

	return time.Now().Add(5 * time.Second)
}

// parseCacheControlMaxAge is a simple parser for the max-age directive
func parseCacheControlMaxAge(cacheControl string) int {
	if !strings.Contains(cacheControl, "max-age=") {
		return 0
	}

	parts := strings.Split(cacheControl, "max-age=")
	if len(parts) < 2 {
		return 0
	}

	maxAgeStr := strings.Split(parts[1], ",")[0]
	maxAge, err := strconv.Atoi(strings.TrimSpace(maxAgeStr))
	if err != nil {
		return 0
	}

	return maxAge
}
