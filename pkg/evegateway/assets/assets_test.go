package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aura/pkg/evegateway"
)

type allowAll struct{}

func (allowAll) WaitForPermission(context.Context) error { return nil }

func pageOf(start, count int) []AssetResponse {
	assets := make([]AssetResponse, count)
	for i := range assets {
		assets[i] = AssetResponse{
			ItemID:       int64(start + i),
			TypeID:       587,
			LocationID:   60003760,
			LocationType: "station",
			LocationFlag: "Hangar",
			Quantity:     1,
			IsSingleton:  true,
		}
	}
	return assets
}

func newAssetsServer(t *testing.T, pages [][]AssetResponse, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			fmt.Sscanf(p, "%d", &page)
		}
		require.LessOrEqual(t, page, len(pages))

		w.Header().Set("X-Pages", fmt.Sprintf("%d", len(pages)))
		w.Header().Set("Cache-Control", "max-age=300")
		json.NewEncoder(w).Encode(pages[page-1])
	}))
}

func newTestClient(server *httptest.Server) Client {
	retry := evegateway.NewDefaultRetryClient(server.Client()).
		WithAttemptTimeouts([]time.Duration{time.Second}).
		WithBaseDelay(time.Millisecond)
	return NewAssetsClient(server.URL, "test-agent", evegateway.NewMemoryCacheManager(), retry, allowAll{})
}

func TestGetCharacterAssetsAggregatesPages(t *testing.T) {
	var hits atomic.Int32
	pages := [][]AssetResponse{pageOf(1, 3), pageOf(4, 3), pageOf(7, 2)}
	server := newAssetsServer(t, pages, &hits)
	defer server.Close()

	client := newTestClient(server)

	var reported [][2]int
	assets, err := client.GetCharacterAssetsPaged(context.Background(), 90000001, "test-token", func(page, total int) {
		reported = append(reported, [2]int{page, total})
	})
	require.NoError(t, err)

	require.Len(t, assets, 8)
	assert.Equal(t, int64(1), assets[0].ItemID)
	assert.Equal(t, int64(8), assets[7].ItemID)
	assert.Equal(t, int32(3), hits.Load())

	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, reported)
}

func TestGetCharacterAssetsSinglePage(t *testing.T) {
	var hits atomic.Int32
	server := newAssetsServer(t, [][]AssetResponse{pageOf(1, 2)}, &hits)
	defer server.Close()

	client := newTestClient(server)

	assets, err := client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.NoError(t, err)
	assert.Len(t, assets, 2)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetCharacterAssetsServedFromCache(t *testing.T) {
	var hits atomic.Int32
	server := newAssetsServer(t, [][]AssetResponse{pageOf(1, 2), pageOf(3, 2)}, &hits)
	defer server.Close()

	client := newTestClient(server)

	first, err := client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.NoError(t, err)
	require.Len(t, first, 4)
	require.Equal(t, int32(2), hits.Load())

	// The aggregate is cached; no further requests within max-age
	second, err := client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGetCharacterAssetsRevalidatedOn304(t *testing.T) {
	var hits atomic.Int32
	page := pageOf(1, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(time.RFC1123))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		// Already expired, but revalidatable via ETag
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Expires", time.Now().Add(-time.Minute).UTC().Format(time.RFC1123))
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client := newTestClient(server)

	first, err := client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, int32(1), hits.Load())

	// The cached aggregate is expired; the conditional refetch gets a 304
	// and serves the stored data
	second, err := client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), hits.Load())

	// The 304 refreshed the expiry, so the next read is a plain cache hit
	_, err = client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGetCharacterAssetsEmpty(t *testing.T) {
	var hits atomic.Int32
	server := newAssetsServer(t, [][]AssetResponse{{}}, &hits)
	defer server.Close()

	client := newTestClient(server)

	assets, err := client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.NoError(t, err)
	assert.Empty(t, assets)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetCharacterAssetsDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := newTestClient(server)

	_, err := client.GetCharacterAssets(context.Background(), 90000001, "test-token")
	require.Error(t, err)

	var decodeErr *evegateway.DecodingError
	assert.ErrorAs(t, err, &decodeErr)
}
