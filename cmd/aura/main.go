package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"log/slog"

	_ "go.uber.org/automaxprocs"

	"go-aura/internal/assets/models"
	"go-aura/internal/assets/services"
	"go-aura/pkg/cache"
	"go-aura/pkg/config"
	"go-aura/pkg/evegateway"
	"go-aura/pkg/evegateway/assets"
	"go-aura/pkg/evegateway/structures"
	"go-aura/pkg/logging"
	"go-aura/pkg/sde"
)

// envTokenProvider serves the bearer token from the environment. Token
// refresh lives with the authenticating frontend, not here.
type envTokenProvider struct{}

func (envTokenProvider) GetAccessToken(_ context.Context, _ int32) (string, error) {
	token := config.GetEnv("ESI_ACCESS_TOKEN", "")
	if token == "" {
		return "", errors.New("ESI_ACCESS_TOKEN is not set")
	}
	return token, nil
}

func main() {
	config.LoadEnvFile()

	characterID := flag.Int("character", config.GetIntEnv("CHARACTER_ID", 0), "character id to fetch assets for")
	watch := flag.Bool("watch", false, "keep running with the background refresh scheduler")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry := logging.NewTelemetryManager()
	if err := telemetry.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	if *characterID == 0 {
		slog.Error("No character id given; set -character or CHARACTER_ID")
		os.Exit(1)
	}

	if err := run(ctx, int32(*characterID), *watch); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, characterID int32, watch bool) error {
	sdeService, err := sde.Open(config.GetEnv("SDE_DB_PATH", "sde.sqlite"))
	if err != nil {
		return err
	}
	defer sdeService.Close()

	gateway := evegateway.NewClient()
	tokens := envTokenProvider{}

	assetsClient := assets.NewAssetsClient(
		gateway.BaseURL(), gateway.UserAgent(),
		gateway.CacheManager(), gateway.RetryClient(), gateway.RateLimiter(),
	)
	structuresClient := structures.NewStructuresClient(
		gateway.BaseURL(), gateway.UserAgent(),
		gateway.RetryClient(), gateway.RateLimiter(),
	)

	structureCache, err := cache.NewTiered[models.LocationInfoDetail](
		config.GetEnv("CACHE_DIR", defaultCacheDir()),
		config.GetIntEnv("STRUCTURE_CACHE_SIZE", 512),
		services.StructureCacheTTL,
	)
	if err != nil {
		return err
	}

	resolver := services.NewLocationResolver(sdeService, structuresClient, tokens, structureCache)
	service := services.NewService(assetsClient, resolver, tokens, sdeService)

	roots, err := service.FetchAssetTree(ctx, characterID, func(p models.Progress) {
		switch p.State {
		case models.ProgressFetchingPage:
			slog.Info("Fetching assets", "page", p.Step, "total_pages", p.Total)
		case models.ProgressBuildingTree:
			slog.Info("Building tree", "step", p.Step, "total_steps", p.Total)
		}
	})
	if err != nil {
		return err
	}

	printForest(service, roots)

	if !watch {
		return nil
	}

	tasks := services.NewScheduledTasks(service, gateway, func() []int32 {
		return []int32{characterID}
	})
	if err := tasks.Start(ctx); err != nil {
		return err
	}
	defer tasks.Stop()

	<-ctx.Done()
	slog.Info("Shutting down")
	return nil
}

func printForest(service *services.Service, roots []*models.AssetTreeNode) {
	total := 0
	for _, root := range roots {
		total += root.TotalCount()
	}
	fmt.Printf("%d assets across %d locations\n\n", total, len(roots))

	for _, root := range roots {
		location := root.Name
		if location == "" {
			location = fmt.Sprintf("location %d", root.LocationID)
		}
		if root.LocationUnknown {
			location += " (unknown)"
		}
		if root.SecurityStatus != nil {
			// One decimal, truncated not rounded
			location += fmt.Sprintf(" [%.1f]", float64(int(*root.SecurityStatus*10))/10)
		}
		fmt.Println(location)

		for _, group := range service.Group(root) {
			fmt.Printf("  %s\n", group.Flag)
			for _, item := range group.Items {
				name := item.TypeName
				if item.Name != "" {
					name = item.Name
				}
				suffix := ""
				if item.Quantity > 1 {
					suffix = fmt.Sprintf(" x%d", item.Quantity)
				}
				if item.IsContainer() {
					suffix += fmt.Sprintf(" (%d items)", item.TotalCount()-1)
				}
				fmt.Printf("    %s%s\n", name, suffix)
			}
		}
		fmt.Println()
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "aura", "structures")
	}
	return filepath.Join(".aura-cache", "structures")
}
