package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"log/slog"

	"go-aura/pkg/config"
	"go-aura/pkg/evegateway"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AssetResponse represents one EVE Online asset record from ESI
type AssetResponse struct {
	ItemID          int64  `json:"item_id"`
	TypeID          int32  `json:"type_id"`
	LocationID      int64  `json:"location_id"`
	LocationType    string `json:"location_type"`
	LocationFlag    string `json:"location_flag"`
	Quantity        int32  `json:"quantity"`
	IsSingleton     bool   `json:"is_singleton"`
	IsBlueprintCopy *bool  `json:"is_blueprint_copy,omitempty"`
}

// PageFunc is invoked once per fetched page with the page number and the
// total page count advertised by the X-Pages header.
type PageFunc func(page, totalPages int)

// Client interface for assets-related ESI operations
type Client interface {
	GetCharacterAssets(ctx context.Context, characterID int32, token string) ([]AssetResponse, error)
	GetCharacterAssetsPaged(ctx context.Context, characterID int32, token string, onPage PageFunc) ([]AssetResponse, error)
}

// Permitter is the shared rate limiter gating every outbound call.
type Permitter interface {
	WaitForPermission(ctx context.Context) error
}

// ClientImpl implements the Client interface
type ClientImpl struct {
	baseURL      string
	userAgent    string
	cacheManager evegateway.CacheManager
	retryClient  evegateway.RetryClient
	rateLimiter  Permitter
}

// NewAssetsClient creates a new assets client
func NewAssetsClient(baseURL, userAgent string, cacheManager evegateway.CacheManager, retryClient evegateway.RetryClient, rateLimiter Permitter) Client {
	return &ClientImpl{
		baseURL:      baseURL,
		userAgent:    userAgent,
		cacheManager: cacheManager,
		retryClient:  retryClient,
		rateLimiter:  rateLimiter,
	}
}

// GetCharacterAssets retrieves all pages of character assets from ESI.
func (c *ClientImpl) GetCharacterAssets(ctx context.Context, characterID int32, token string) ([]AssetResponse, error) {
	return c.GetCharacterAssetsPaged(ctx, characterID, token, nil)
}

// GetCharacterAssetsPaged retrieves all pages of character assets from ESI,
// reporting each page to onPage. Pages are fetched until the advertised page
// count is reached or a short page is observed; the aggregate is cached under
// the endpoint key using the first page's cache headers.
func (c *ClientImpl) GetCharacterAssetsPaged(ctx context.Context, characterID int32, token string, onPage PageFunc) ([]AssetResponse, error) {
	var span trace.Span
	endpoint := fmt.Sprintf("/characters/%d/assets/", characterID)
	cacheKey := fmt.Sprintf("%s%s?token=%s", c.baseURL, endpoint, token)

	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		tracer := otel.Tracer("go-aura/evegateway")
		ctx, span = tracer.Start(ctx, "evegateway.GetCharacterAssets")
		defer span.End()

		span.SetAttributes(
			attribute.String("esi.endpoint", "character_assets"),
			attribute.Int("esi.character_id", int(characterID)),
		)
	}

	slog.InfoContext(ctx, "Requesting character assets from ESI", "character_id", characterID)

	// Check cache first
	if cachedData, found, err := c.cacheManager.Get(cacheKey); err == nil && found {
		var assets []AssetResponse
		if err := json.Unmarshal(cachedData, &assets); err == nil {
			if span != nil {
				span.SetAttributes(
					attribute.Bool("cache.hit", true),
					attribute.Int("assets.count", len(assets)),
				)
				span.SetStatus(codes.Ok, "cache hit")
			}
			slog.InfoContext(ctx, "Using cached character assets", "character_id", characterID, "count", len(assets))
			return assets, nil
		}
	}

	allAssets, firstPageHeaders, notModified, err := c.fetchAssetPages(ctx, endpoint, token, cacheKey, onPage)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch character assets")
		}
		return nil, err
	}

	// A 304 means the expired aggregate is still current: refresh its
	// expiry and serve it without refetching the remaining pages
	if notModified {
		if cachedData, found, err := c.cacheManager.GetForNotModified(cacheKey); err == nil && found {
			var assets []AssetResponse
			if err := json.Unmarshal(cachedData, &assets); err == nil {
				c.cacheManager.RefreshExpiry(cacheKey, firstPageHeaders)
				if span != nil {
					span.SetAttributes(attribute.Bool("cache.revalidated", true))
					span.SetStatus(codes.Ok, "cache revalidated")
				}
				slog.InfoContext(ctx, "Character assets unchanged, revalidated cache", "character_id", characterID)
				return assets, nil
			}
		}
		// Cached aggregate vanished underneath the conditional request;
		// fall through to a full fetch
		allAssets, firstPageHeaders, _, err = c.fetchAssetPages(ctx, endpoint, token, "", onPage)
		if err != nil {
			return nil, err
		}
	}

	// Cache the aggregate under the first page's expiry
	if aggregate, err := json.Marshal(allAssets); err == nil {
		c.cacheManager.Set(cacheKey, aggregate, firstPageHeaders)
	}

	if span != nil {
		span.SetAttributes(
			attribute.Bool("cache.hit", false),
			attribute.Int("assets.count", len(allAssets)),
		)
		span.SetStatus(codes.Ok, "successfully retrieved character assets")
	}

	slog.InfoContext(ctx, "Successfully retrieved character assets", "character_id", characterID, "count", len(allAssets))
	return allAssets, nil
}

// fetchAssetPages walks the paginated endpoint, aggregating every page. A
// non-empty cacheKey makes the first page a conditional request; a 304
// short-circuits the walk with notModified set.
func (c *ClientImpl) fetchAssetPages(ctx context.Context, endpoint, token, cacheKey string, onPage PageFunc) ([]AssetResponse, http.Header, bool, error) {
	var allAssets []AssetResponse
	var firstPageHeaders http.Header
	page := 1
	pageSize := 0

	for {
		conditionalKey := ""
		if page == 1 {
			conditionalKey = cacheKey
		}
		assets, totalPages, headers, status, err := c.fetchAssetPage(ctx, endpoint, token, page, conditionalKey)
		if err != nil {
			return nil, nil, false, err
		}
		if page == 1 {
			firstPageHeaders = headers
			pageSize = len(assets)
			if status == http.StatusNotModified {
				return nil, headers, true, nil
			}
		}

		allAssets = append(allAssets, assets...)

		if onPage != nil {
			onPage(page, totalPages)
		}

		// A short or empty page also terminates pagination, in case the
		// X-Pages header over-reports
		if page >= totalPages || len(assets) == 0 || len(assets) < pageSize {
			break
		}
		page++
	}

	return allAssets, firstPageHeaders, false, nil
}

// fetchAssetPage fetches a single page of assets
func (c *ClientImpl) fetchAssetPage(ctx context.Context, endpoint, token string, page int, conditionalKey string) ([]AssetResponse, int, http.Header, int, error) {
	url := fmt.Sprintf("%s%s", c.baseURL, endpoint)
	if page > 1 {
		url += fmt.Sprintf("?page=%d", page)
	}

	if err := c.rateLimiter.WaitForPermission(ctx); err != nil {
		return nil, 0, nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, 0, nil, 0, fmt.Errorf("%w: %v", evegateway.ErrInvalidURL, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if conditionalKey != "" {
		c.cacheManager.SetConditionalHeaders(req, conditionalKey)
	}

	resp, body, err := c.retryClient.DoWithRetry(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to call ESI assets endpoint", "page", page, "error", err)
		return nil, 0, nil, 0, err
	}

	if resp.StatusCode == http.StatusNotModified {
		return nil, 0, resp.Header, resp.StatusCode, nil
	}

	totalPages := 1
	if pagesHeader := resp.Header.Get("X-Pages"); pagesHeader != "" {
		if pages, err := strconv.Atoi(pagesHeader); err == nil {
			totalPages = pages
		}
	}

	var assets []AssetResponse
	if err := json.Unmarshal(body, &assets); err != nil {
		slog.ErrorContext(ctx, "Failed to parse ESI assets response", "page", page, "error", err)
		return nil, 0, nil, 0, &evegateway.DecodingError{Err: err}
	}

	return assets, totalPages, resp.Header, resp.StatusCode, nil
}
