package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"log/slog"

	"golang.org/x/sync/singleflight"

	"go-aura/internal/assets/models"
	"go-aura/pkg/cache"
	"go-aura/pkg/evegateway"
	"go-aura/pkg/evegateway/structures"
	"go-aura/pkg/sde"
)

// StructureCacheTTL bounds how long a resolved player structure is served
// without a fresh ESI lookup.
const StructureCacheTTL = 7 * 24 * time.Hour

// LocationResolver turns numeric location identifiers into display
// information. Stations and solar systems resolve from the local SDE;
// player structures resolve through the tiered cache and, on a miss, an
// authenticated ESI call.
type LocationResolver struct {
	sde        sde.Service
	structures structures.Client
	tokens     evegateway.TokenProvider
	cache      *cache.Tiered[models.LocationInfoDetail]
	inflight   singleflight.Group
}

// NewLocationResolver creates a resolver. structureCache entries persist
// across restarts; pass a cache built with StructureCacheTTL.
func NewLocationResolver(sdeService sde.Service, structuresClient structures.Client, tokens evegateway.TokenProvider, structureCache *cache.Tiered[models.LocationInfoDetail]) *LocationResolver {
	return &LocationResolver{
		sde:        sdeService,
		structures: structuresClient,
		tokens:     tokens,
		cache:      structureCache,
	}
}

// Resolve returns display information for locationID. ownerID selects whose
// token authenticates a structure lookup. Unknown location types and
// unresolvable identifiers return an error; callers degrade the affected
// node rather than failing the whole tree.
func (r *LocationResolver) Resolve(ctx context.Context, locationID int64, locationType string, ownerID int32) (*models.LocationInfoDetail, error) {
	switch locationType {
	case models.LocationTypeStation:
		return r.resolveStation(ctx, locationID)
	case models.LocationTypeSolarSystem:
		return r.resolveSolarSystem(ctx, int32(locationID))
	case models.LocationTypeStructure:
		return r.resolveStructure(ctx, locationID, ownerID)
	default:
		return nil, fmt.Errorf("unresolvable location %d (type %q)", locationID, locationType)
	}
}

func (r *LocationResolver) resolveStation(ctx context.Context, stationID int64) (*models.LocationInfoDetail, error) {
	station, err := r.sde.GetStation(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve station %d: %w", stationID, err)
	}
	system, err := r.sde.GetSolarSystem(ctx, station.SolarSystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve system for station %d: %w", stationID, err)
	}
	regionName, err := r.sde.GetRegionName(ctx, system.RegionID)
	if err != nil {
		regionName = ""
	}
	return &models.LocationInfoDetail{
		DisplayName:     station.Name,
		SolarSystemName: system.Name,
		RegionName:      regionName,
		Security:        system.Security,
	}, nil
}

func (r *LocationResolver) resolveSolarSystem(ctx context.Context, solarSystemID int32) (*models.LocationInfoDetail, error) {
	system, err := r.sde.GetSolarSystem(ctx, solarSystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve solar system %d: %w", solarSystemID, err)
	}
	regionName, err := r.sde.GetRegionName(ctx, system.RegionID)
	if err != nil {
		regionName = ""
	}
	return &models.LocationInfoDetail{
		DisplayName:     system.Name,
		SolarSystemName: system.Name,
		RegionName:      regionName,
		Security:        system.Security,
	}, nil
}

// resolveStructure checks the tiered cache, then falls through to ESI. No
// stale fallback: an expired entry means a fresh fetch or an error.
// Concurrent lookups of the same structure are coalesced.
func (r *LocationResolver) resolveStructure(ctx context.Context, structureID int64, ownerID int32) (*models.LocationInfoDetail, error) {
	key := strconv.FormatInt(structureID, 10)

	if info, ok := r.cache.Get(key); ok {
		return &info, nil
	}

	result, err, _ := r.inflight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent resolver may have just
		// populated the cache
		if info, ok := r.cache.Get(key); ok {
			return &info, nil
		}
		return r.fetchStructure(ctx, structureID, ownerID, key)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.LocationInfoDetail), nil
}

func (r *LocationResolver) fetchStructure(ctx context.Context, structureID int64, ownerID int32, key string) (*models.LocationInfoDetail, error) {
	token, err := r.tokens.GetAccessToken(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token for owner %d: %w", ownerID, err)
	}

	structure, err := r.structures.GetStructure(ctx, structureID, token)
	if err != nil {
		return nil, err
	}

	info := models.LocationInfoDetail{DisplayName: structure.Name}
	if system, err := r.sde.GetSolarSystem(ctx, structure.SolarSystemID); err == nil {
		info.SolarSystemName = system.Name
		info.Security = system.Security
		if regionName, err := r.sde.GetRegionName(ctx, system.RegionID); err == nil {
			info.RegionName = regionName
		}
	}

	if err := r.cache.Set(key, info); err != nil {
		slog.WarnContext(ctx, "Failed to cache structure info", "structure_id", structureID, "error", err)
	}
	return &info, nil
}

// ClearCache drops every cached structure resolution from both tiers.
func (r *LocationResolver) ClearCache() error {
	return r.cache.ClearAll()
}

// SweepCache removes expired structure entries from the file tier.
func (r *LocationResolver) SweepCache() int {
	return r.cache.SweepExpired()
}

// InvalidateStructure drops one structure from the cache so the next
// resolve refetches it. Used by force refresh.
func (r *LocationResolver) InvalidateStructure(structureID int64) {
	r.cache.Delete(strconv.FormatInt(structureID, 10))
}
