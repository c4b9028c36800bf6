package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/cashback-activation-service/internal/application"
)

// MaintenanceWorker periodically expires activations, recovers stuck payouts
// and purges data past retention.
type MaintenanceWorker struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewMaintenanceWorker(logger *slog.Logger, service *application.Service, interval time.Duration) *MaintenanceWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MaintenanceWorker{
		logger:   logger,
		service:  service,
		interval: interval,
	}
}

func (w *MaintenanceWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		report, err := w.service.RunMaintenance(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "maintenance iteration failed",
				"module", "events.maintenance_worker",
				"layer", "adapter",
				"operation", "run_maintenance",
				"outcome", "failure",
				"error", err,
			)
		} else {
			w.logger.InfoContext(ctx, "maintenance iteration completed",
				"module", "events.maintenance_worker",
				"layer", "adapter",
				"operation", "run_maintenance",
				"outcome", "success",
				"expired_activations", report.ExpiredActivations,
				"recovered_payouts", report.RecoveredPayouts,
				"purged_activations", report.PurgedActivations,
				"purged_clicks", report.PurgedClicks,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
