package application

import (
	"context"
	"fmt"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

// EvaluateFraud recomputes heuristic flags from activation history. It has no side effects.
func (s *Service) EvaluateFraud(ctx context.Context, subjectID, ipAddress string) ([]domain.FraudFlag, error) {
	now := s.nowFn()
	th := s.cfg.Fraud
	flags := make([]domain.FraudFlag, 0, 3)

	daily, err := s.activations.CountBySubjectSince(ctx, subjectID, now.Add(-th.Window))
	if err != nil {
		return nil, fmt.Errorf("count subject activations: %w", err)
	}
	if daily >= th.MaxPerSubject {
		flags = append(flags, domain.FraudFlag{
			Type:     domain.FraudHighFrequency,
			Message:  fmt.Sprintf("%d activations in 24h (limit: %d)", daily, th.MaxPerSubject),
			Severity: domain.SeverityHigh,
		})
	}

	if ipAddress != "" {
		shared, err := s.activations.CountByIPSince(ctx, ipAddress, now.Add(-th.Window))
		if err != nil {
			return nil, fmt.Errorf("count ip activations: %w", err)
		}
		if shared >= th.MaxPerIP {
			flags = append(flags, domain.FraudFlag{
				Type:     domain.FraudIPSharing,
				Message:  fmt.Sprintf("%d activations from same IP in 24h (limit: %d)", shared, th.MaxPerIP),
				Severity: domain.SeverityMedium,
			})
		}
	}

	burst, err := s.activations.CountBySubjectSince(ctx, subjectID, now.Add(-th.RapidWindow))
	if err != nil {
		return nil, fmt.Errorf("count recent activations: %w", err)
	}
	if burst >= th.RapidFireLimit {
		flags = append(flags, domain.FraudFlag{
			Type:     domain.FraudRapidFire,
			Message:  fmt.Sprintf("%d activations in 5 minutes", burst),
			Severity: domain.SeverityHigh,
		})
	}

	for _, f := range flags {
		s.metrics.FraudFlagRaised(f.Type)
	}
	return flags, nil
}

// autoFlag marks the user for review when any flag is high severity.
// The flag is one-way; repeated calls keep the first reason.
func (s *Service) autoFlag(ctx context.Context, user domain.User, flags []domain.FraudFlag) (bool, error) {
	if !domain.HasHighSeverity(flags) {
		return false, nil
	}
	reason := domain.HighSeverityReason(flags)
	flipped, err := s.users.FlagFraud(ctx, user.UserID, reason, s.nowFn())
	if err != nil {
		return false, fmt.Errorf("flag user: %w", err)
	}
	if flipped {
		s.logger().WarnContext(ctx, "user flagged for fraud review",
			"operation", "auto_flag",
			"outcome", "flagged",
			"user_id", user.UserID,
			"reason", reason,
		)
		s.emit(ctx, "fraud.user_flagged", user.UserID, map[string]any{
			"user_id": user.UserID,
			"reason":  reason,
		})
	}
	return true, nil
}
