package application

import (
	"context"
	"fmt"
)

// RunMaintenance expires lapsed activations, recovers stuck payouts and
// purges history older than the retention period.
func (s *Service) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	now := s.nowFn()
	var report MaintenanceReport

	expired, err := s.activations.ExpirePending(ctx, now, s.cfg.MaintenanceBatch)
	if err != nil {
		return report, fmt.Errorf("expire activations: %w", err)
	}
	report.ExpiredActivations = expired

	recovered, err := s.RecoverStalePayouts(ctx)
	if err != nil {
		return report, err
	}
	report.RecoveredPayouts = recovered

	cutoff := now.Add(-s.cfg.RetentionPeriod)
	if s.clicks != nil {
		purged, err := s.clicks.PurgeBefore(ctx, cutoff)
		if err != nil {
			return report, fmt.Errorf("purge clicks: %w", err)
		}
		report.PurgedClicks = purged
	}
	purged, err := s.activations.PurgeBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("purge activations: %w", err)
	}
	report.PurgedActivations = purged

	s.logger().InfoContext(ctx, "maintenance pass completed",
		"operation", "run_maintenance",
		"outcome", "success",
		"expired_activations", report.ExpiredActivations,
		"recovered_payouts", report.RecoveredPayouts,
		"purged_clicks", report.PurgedClicks,
		"purged_activations", report.PurgedActivations,
	)
	return report, nil
}
