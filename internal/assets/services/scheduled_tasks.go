package services

import (
	"context"

	"log/slog"

	"github.com/robfig/cron/v3"

	"go-aura/pkg/config"
	"go-aura/pkg/evegateway"
)

// OwnerLister supplies the character ids whose assets are refreshed in the
// background.
type OwnerLister func() []int32

// ScheduledTasks runs the periodic asset refresh and error-limit
// bookkeeping on a cron schedule.
type ScheduledTasks struct {
	cron    *cron.Cron
	service *Service
	gateway *evegateway.Client
	owners  OwnerLister
}

// NewScheduledTasks creates the scheduler. owners is consulted on every
// tick so newly added characters join the rotation without a restart.
func NewScheduledTasks(service *Service, gateway *evegateway.Client, owners OwnerLister) *ScheduledTasks {
	return &ScheduledTasks{
		cron:    cron.New(),
		service: service,
		gateway: gateway,
		owners:  owners,
	}
}

// Start registers the cron entries and begins scheduling.
//
//	ASSETS_REFRESH_CRON   asset refresh schedule (default every 6 hours)
//	ESI_LIMITS_CRON       error-limit report schedule (default hourly)
//	CACHE_SWEEP_CRON      expired cache file sweep (default daily)
func (t *ScheduledTasks) Start(ctx context.Context) error {
	refreshSpec := config.GetEnv("ASSETS_REFRESH_CRON", "0 */6 * * *")
	if _, err := t.cron.AddFunc(refreshSpec, func() { t.refreshAssets(ctx) }); err != nil {
		return err
	}

	limitsSpec := config.GetEnv("ESI_LIMITS_CRON", "0 * * * *")
	if _, err := t.cron.AddFunc(limitsSpec, func() { t.reportErrorLimits(ctx) }); err != nil {
		return err
	}

	sweepSpec := config.GetEnv("CACHE_SWEEP_CRON", "0 3 * * *")
	if _, err := t.cron.AddFunc(sweepSpec, func() { t.sweepCaches(ctx) }); err != nil {
		return err
	}

	t.cron.Start()
	slog.InfoContext(ctx, "Scheduled tasks started", "refresh_schedule", refreshSpec)
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (t *ScheduledTasks) Stop() {
	stopCtx := t.cron.Stop()
	<-stopCtx.Done()
	slog.Info("Scheduled tasks stopped")
}

func (t *ScheduledTasks) refreshAssets(ctx context.Context) {
	owners := t.owners()
	if len(owners) == 0 {
		return
	}

	results := t.service.RefreshAll(ctx, owners)
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		slog.WarnContext(ctx, "Background asset refresh finished with failures",
			"owners", len(owners), "failed", failed)
	}
}

func (t *ScheduledTasks) sweepCaches(ctx context.Context) {
	if removed := t.service.SweepCaches(); removed > 0 {
		slog.InfoContext(ctx, "Swept expired cache files", "removed", removed)
	}
}

func (t *ScheduledTasks) reportErrorLimits(ctx context.Context) {
	limits := t.gateway.ErrorLimits()
	if limits.Remain == 0 && limits.Reset.IsZero() {
		// No request has populated the limits yet
		return
	}
	slog.InfoContext(ctx, "ESI error limit status",
		"remain", limits.Remain, "reset_at", limits.Reset)
}
