package evegateway

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"go-aura/pkg/config"
	"go-aura/pkg/database"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is the public ESI endpoint
	DefaultBaseURL = "https://esi.evetech.net/latest"

	// DefaultUserAgent identifies this client to ESI per CCP's guidelines
	DefaultUserAgent = "go-aura/1.0 (aura@example.com)"
)

// Client aggregates the per-category ESI clients behind one composition
// point so callers share a single rate limiter, retrier and cache.
type Client struct {
	baseURL      string
	userAgent    string
	httpClient   *http.Client
	cacheManager CacheManager
	retryClient  RetryClient
	rateLimiter  *RateLimiter
}

// NewClient creates an ESI client configured from the environment.
//
//	ESI_BASE_URL            base endpoint (default public ESI)
//	ESI_USER_AGENT          User-Agent header sent with every request
//	ESI_RATE_LIMIT_BURST    token bucket capacity (default 10)
//	ESI_RATE_LIMIT_REFILL   tokens replenished per second (default 5)
//	ESI_CACHE_BACKEND       "memory" or "redis" (default memory)
func NewClient() *Client {
	baseURL := config.GetEnv("ESI_BASE_URL", DefaultBaseURL)
	userAgent := config.GetEnv("ESI_USER_AGENT", DefaultUserAgent)

	var transport http.RoundTripper = &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		transport = otelhttp.NewTransport(transport)
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}

	cacheManager := newCacheBackend()
	retryClient := NewDefaultRetryClient(httpClient)
	rateLimiter := NewRateLimiter(
		config.GetIntEnv("ESI_RATE_LIMIT_BURST", 10),
		float64(config.GetIntEnv("ESI_RATE_LIMIT_REFILL", 5)),
	)

	return &Client{
		baseURL:      baseURL,
		userAgent:    userAgent,
		httpClient:   httpClient,
		cacheManager: cacheManager,
		retryClient:  retryClient,
		rateLimiter:  rateLimiter,
	}
}

// newCacheBackend selects the HTTP response cache implementation. Redis is
// opt-in; a failed connection falls back to the in-memory cache so the
// client still works without infrastructure.
func newCacheBackend() CacheManager {
	if config.GetEnv("ESI_CACHE_BACKEND", "memory") != "redis" {
		return NewMemoryCacheManager()
	}

	redis, err := database.NewRedis(context.Background())
	if err != nil {
		slog.Warn("Redis cache backend unavailable, falling back to memory", "error", err)
		return NewMemoryCacheManager()
	}
	return NewRedisCacheManager(redis)
}

// BaseURL returns the configured ESI base endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// UserAgent returns the configured User-Agent header value.
func (c *Client) UserAgent() string { return c.userAgent }

// CacheManager exposes the shared HTTP response cache.
func (c *Client) CacheManager() CacheManager { return c.cacheManager }

// RetryClient exposes the shared retrying HTTP executor.
func (c *Client) RetryClient() RetryClient { return c.retryClient }

// RateLimiter exposes the shared outbound request limiter.
func (c *Client) RateLimiter() *RateLimiter { return c.rateLimiter }

// ErrorLimits reports the most recent X-ESI-Error-Limit header values.
func (c *Client) ErrorLimits() ESIErrorLimits {
	return c.retryClient.ErrorLimits()
}
