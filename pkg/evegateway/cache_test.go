package evegateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheExpiresHeader(t *testing.T) {
	c := NewMemoryCacheManager()

	headers := http.Header{}
	headers.Set("Expires", time.Now().Add(time.Hour).UTC().Format(time.RFC1123))
	headers.Set("ETag", `"abc123"`)
	require.NoError(t, c.Set("k", []byte("payload"), headers))

	data, found, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), data)
}

func TestMemoryCacheExpiredEntryIsAMiss(t *testing.T) {
	c := NewMemoryCacheManager()

	headers := http.Header{}
	headers.Set("Expires", time.Now().Add(-time.Minute).UTC().Format(time.RFC1123))
	require.NoError(t, c.Set("k", []byte("old"), headers))

	_, found, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, found)

	// But the payload stays reachable for conditional revalidation
	data, found, err := c.GetForNotModified("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("old"), data)
}

func TestMemoryCacheRefreshExpiry(t *testing.T) {
	c := NewMemoryCacheManager()

	stale := http.Header{}
	stale.Set("Expires", time.Now().Add(-time.Minute).UTC().Format(time.RFC1123))
	require.NoError(t, c.Set("k", []byte("data"), stale))

	fresh := http.Header{}
	fresh.Set("Expires", time.Now().Add(time.Hour).UTC().Format(time.RFC1123))
	require.NoError(t, c.RefreshExpiry("k", fresh))

	_, found, err := c.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryCacheConditionalHeaders(t *testing.T) {
	c := NewMemoryCacheManager()

	headers := http.Header{}
	headers.Set("ETag", `"abc123"`)
	headers.Set("Last-Modified", "Mon, 02 Jun 2025 08:00:00 GMT")
	require.NoError(t, c.Set("k", []byte("data"), headers))

	req, err := http.NewRequest("GET", "https://example.test/", nil)
	require.NoError(t, err)
	require.NoError(t, c.SetConditionalHeaders(req, "k"))

	assert.Equal(t, `"abc123"`, req.Header.Get("If-None-Match"))
	assert.Equal(t, "Mon, 02 Jun 2025 08:00:00 GMT", req.Header.Get("If-Modified-Since"))
}

func TestCacheControlMaxAgeFallback(t *testing.T) {
	c := NewMemoryCacheManager()

	headers := http.Header{}
	headers.Set("Cache-Control", "public, max-age=300")
	require.NoError(t, c.Set("k", []byte("data"), headers))

	_, found, _, err := c.GetWithExpiry("k")
	require.NoError(t, err)
	assert.True(t, found)
}
