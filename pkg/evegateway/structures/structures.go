package structures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"log/slog"

	"go-aura/pkg/config"
	"go-aura/pkg/evegateway"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StructureResponse represents structure information from ESI
type StructureResponse struct {
	Name          string `json:"name"`
	OwnerID       int32  `json:"owner_id"`
	SolarSystemID int32  `json:"solar_system_id"`
	TypeID        int32  `json:"type_id,omitempty"`
}

// Client interface for structure-related ESI operations
type Client interface {
	GetStructure(ctx context.Context, structureID int64, token string) (*StructureResponse, error)
}

// Permitter is the shared rate limiter gating every outbound call.
type Permitter interface {
	WaitForPermission(ctx context.Context) error
}

// ClientImpl implements the Client interface
type ClientImpl struct {
	baseURL     string
	userAgent   string
	retryClient evegateway.RetryClient
	rateLimiter Permitter
}

// NewStructuresClient creates a new structures client
func NewStructuresClient(baseURL, userAgent string, retryClient evegateway.RetryClient, rateLimiter Permitter) Client {
	return &ClientImpl{
		baseURL:     baseURL,
		userAgent:   userAgent,
		retryClient: retryClient,
		rateLimiter: rateLimiter,
	}
}

// GetStructure retrieves structure information from ESI. Structures require
// docking access; a 403 surfaces as an HTTPError the caller can treat as an
// access-denied marker. Response caching happens at the resolver layer, not
// here, since resolved names outlive ESI's cache headers.
func (c *ClientImpl) GetStructure(ctx context.Context, structureID int64, token string) (*StructureResponse, error) {
	var span trace.Span

	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		tracer := otel.Tracer("go-aura/evegateway")
		ctx, span = tracer.Start(ctx, "evegateway.GetStructure")
		defer span.End()

		span.SetAttributes(
			attribute.String("esi.endpoint", "universe_structures"),
			attribute.Int64("esi.structure_id", structureID),
		)
	}

	url := fmt.Sprintf("%s/universe/structures/%d/", c.baseURL, structureID)

	if err := c.rateLimiter.WaitForPermission(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evegateway.ErrInvalidURL, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	_, body, err := c.retryClient.DoWithRetry(ctx, req)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch structure")
		}
		slog.WarnContext(ctx, "Failed to fetch structure from ESI", "structure_id", structureID, "error", err)
		return nil, err
	}

	var structure StructureResponse
	if err := json.Unmarshal(body, &structure); err != nil {
		return nil, &evegateway.DecodingError{Err: err}
	}

	if span != nil {
		span.SetAttributes(attribute.String("structure.name", structure.Name))
		span.SetStatus(codes.Ok, "successfully retrieved structure")
	}

	return &structure, nil
}
