package services

import (
	"context"
	"fmt"
	"sync"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"go-aura/internal/assets/models"
	"go-aura/pkg/config"
	"go-aura/pkg/evegateway"
	"go-aura/pkg/evegateway/assets"
	"go-aura/pkg/sde"
)

// Service orchestrates asset fetching: paginated ESI retrieval, tree
// construction, root location resolution and display grouping.
type Service struct {
	assetsClient assets.Client
	resolver     *LocationResolver
	builder      *TreeBuilder
	grouper      *DisplayGrouper
	tokens       evegateway.TokenProvider
	sde          sde.Service

	// refreshBatch bounds how many owners refresh concurrently
	refreshBatch int64
	// resolveBatch bounds concurrent root location resolutions per tree
	resolveBatch int64
}

// NewService creates the assets service. Batch sizes come from the
// environment (ASSETS_REFRESH_BATCH, ASSETS_RESOLVE_BATCH).
func NewService(assetsClient assets.Client, resolver *LocationResolver, tokens evegateway.TokenProvider, sdeService sde.Service) *Service {
	return &Service{
		assetsClient: assetsClient,
		resolver:     resolver,
		builder:      NewTreeBuilder(),
		grouper:      NewDisplayGrouper(),
		tokens:       tokens,
		sde:          sdeService,
		refreshBatch: int64(config.GetIntEnv("ASSETS_REFRESH_BATCH", 5)),
		resolveBatch: int64(config.GetIntEnv("ASSETS_RESOLVE_BATCH", 5)),
	}
}

// FetchAssetTree retrieves every asset page for characterID, builds the
// ownership forest, resolves root locations and enriches nodes with type
// names. progress may be nil. A failed page fetch fails the whole call; a
// failed location resolution only degrades the affected roots.
func (s *Service) FetchAssetTree(ctx context.Context, characterID int32, progress models.ProgressFunc) ([]*models.AssetTreeNode, error) {
	report := func(p models.Progress) {
		if progress != nil {
			progress(p)
		}
	}

	token, err := s.tokens.GetAccessToken(ctx, characterID)
	if err != nil {
		return nil, err
	}

	responses, err := s.assetsClient.GetCharacterAssetsPaged(ctx, characterID, token, func(page, totalPages int) {
		report(models.Progress{State: models.ProgressFetchingPage, Step: page, Total: totalPages})
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.AssetRecord, len(responses))
	for i, r := range responses {
		records[i] = models.AssetRecord{
			ItemID:          r.ItemID,
			TypeID:          r.TypeID,
			LocationID:      r.LocationID,
			LocationType:    r.LocationType,
			LocationFlag:    r.LocationFlag,
			Quantity:        r.Quantity,
			IsSingleton:     r.IsSingleton,
			IsBlueprintCopy: r.IsBlueprintCopy,
		}
	}

	report(models.Progress{State: models.ProgressBuildingTree, Step: 1, Total: 3})
	roots := s.builder.Build(records)

	report(models.Progress{State: models.ProgressBuildingTree, Step: 2, Total: 3})
	s.resolveRootLocations(ctx, roots, characterID)

	report(models.Progress{State: models.ProgressBuildingTree, Step: 3, Total: 3})
	s.enrichTypeNames(ctx, roots)

	report(models.Progress{State: models.ProgressComplete})
	return roots, nil
}

// resolveRootLocations resolves each distinct root location once and fans
// the result out to every root sharing it. Failures leave the affected
// roots marked location-unknown instead of aborting the build.
func (s *Service) resolveRootLocations(ctx context.Context, roots []*models.AssetTreeNode, ownerID int32) {
	byLocation := make(map[int64][]*models.AssetTreeNode)
	for _, root := range roots {
		if root.LocationUnknown {
			continue
		}
		byLocation[root.LocationID] = append(byLocation[root.LocationID], root)
	}

	sem := semaphore.NewWeighted(s.resolveBatch)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for locationID, nodes := range byLocation {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled; remaining roots stay unresolved
			break
		}
		wg.Add(1)
		go func(locationID int64, nodes []*models.AssetTreeNode) {
			defer wg.Done()
			defer sem.Release(1)

			info, err := s.resolver.Resolve(ctx, locationID, nodes[0].LocationType, ownerID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.WarnContext(ctx, "Failed to resolve root location", "location_id", locationID, "error", err)
				for _, node := range nodes {
					node.LocationUnknown = true
				}
				return
			}
			for _, node := range nodes {
				node.SystemName = info.SolarSystemName
				node.RegionName = info.RegionName
				security := info.Security
				node.SecurityStatus = &security
				if node.Name == "" {
					node.Name = info.DisplayName
				}
			}
		}(locationID, nodes)
	}
	wg.Wait()
}

// enrichTypeNames fills in TypeName and the image-server icon path for
// every node in the forest, memoized per type id. Missing types leave the
// name blank.
func (s *Service) enrichTypeNames(ctx context.Context, roots []*models.AssetTreeNode) {
	names := make(map[int32]string)

	var walk func(node *models.AssetTreeNode)
	walk = func(node *models.AssetTreeNode) {
		name, ok := names[node.TypeID]
		if !ok {
			if itemType, err := s.sde.GetType(ctx, node.TypeID); err == nil {
				name = itemType.Name
			}
			names[node.TypeID] = name
		}
		node.TypeName = name
		node.IconName = fmt.Sprintf("types/%d/icon", node.TypeID)
		for _, child := range node.Items {
			walk(child)
		}
	}
	for _, root := range roots {
		walk(root)
	}
}

// Group flattens one container node into flag groups for display.
func (s *Service) Group(node *models.AssetTreeNode) []models.FlagGroup {
	return s.grouper.Group(node)
}

// RefreshResult reports one owner's outcome from RefreshAll.
type RefreshResult struct {
	CharacterID int32
	Roots       []*models.AssetTreeNode
	Err         error
}

// RefreshAll refreshes every listed owner's asset tree with bounded
// concurrency. The batch completes only once all members finish; one
// member's failure does not cancel its siblings. Results are returned in
// the input order.
func (s *Service) RefreshAll(ctx context.Context, characterIDs []int32) []RefreshResult {
	jobID := uuid.New().String()
	slog.InfoContext(ctx, "Starting asset refresh batch", "job_id", jobID, "owners", len(characterIDs))

	results := make([]RefreshResult, len(characterIDs))
	sem := semaphore.NewWeighted(s.refreshBatch)
	var wg sync.WaitGroup

	for i, characterID := range characterIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = RefreshResult{CharacterID: characterID, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, characterID int32) {
			defer wg.Done()
			defer sem.Release(1)

			roots, err := s.FetchAssetTree(ctx, characterID, nil)
			if err != nil {
				slog.WarnContext(ctx, "Asset refresh failed for owner",
					"job_id", jobID, "character_id", characterID, "error", err)
			}
			results[i] = RefreshResult{CharacterID: characterID, Roots: roots, Err: err}
		}(i, characterID)
	}
	wg.Wait()

	slog.InfoContext(ctx, "Asset refresh batch complete", "job_id", jobID)
	return results
}

// ClearCaches drops all cached structure resolutions.
func (s *Service) ClearCaches() error {
	return s.resolver.ClearCache()
}

// SweepCaches removes expired structure cache files, returning how many
// were deleted.
func (s *Service) SweepCaches() int {
	return s.resolver.SweepCache()
}
