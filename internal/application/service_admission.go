package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// Admit runs the activation admission pipeline. The order of checks is fixed:
// pause and rate gate, signature, account, fraud block, dedup, heuristics,
// atomic insert, token issuance.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error) {
	result, err := s.admit(ctx, req)
	s.metrics.AdmissionOutcome(admissionOutcome(err))
	return result, err
}

func (s *Service) admit(ctx context.Context, req AdmitRequest) (AdmitResult, error) {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.SubjectID == "" || req.ProductID == "" {
		return AdmitResult{}, fmt.Errorf("%w: subject and product are required", domain.ErrInvalidInput)
	}
	if req.ProductURL != "" {
		if err := validateProductURL(req.ProductURL); err != nil {
			return AdmitResult{}, err
		}
		if !s.cfg.allowsProductURL(req.ProductURL) {
			s.logger().WarnContext(ctx, "product url outside the store dropped",
				"operation", "admit_activation",
				"outcome", "sanitized",
				"product_id", req.ProductID,
			)
			req.ProductURL = ""
		}
	}

	if s.AdmissionPaused(ctx) {
		return AdmitResult{}, domain.ErrAdmissionPaused
	}
	if err := s.enforceRateLimit(ctx, activationRateKey(req), s.cfg.ActivationRateLimit, s.cfg.ActivationRateWindow); err != nil {
		return AdmitResult{}, err
	}

	now := s.nowFn()
	if err := s.authenticator.Authenticate(ports.SignedRequest{
		SubjectID:       req.SubjectID,
		ProductID:       req.ProductID,
		TimestampMillis: req.TimestampMillis,
		Signature:       req.Signature,
	}, now); err != nil {
		return AdmitResult{}, err
	}

	user, err := s.users.GetOrCreate(ctx, req.SubjectID, now, now.Add(s.cfg.NewUserHold))
	if err != nil {
		return AdmitResult{}, fmt.Errorf("load user: %w", err)
	}
	if user.IsFraudFlagged {
		return AdmitResult{}, domain.ErrFraudBlocked
	}

	windowStart := now.Add(-s.cfg.DedupWindow)
	exists, err := s.activations.ExistsSince(ctx, req.SubjectID, req.ProductID, windowStart)
	if err != nil {
		return AdmitResult{}, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return AdmitResult{}, domain.ErrDuplicateActivation
	}

	flags, err := s.EvaluateFraud(ctx, req.SubjectID, req.IPAddress)
	if err != nil {
		return AdmitResult{}, err
	}
	if flagged, err := s.autoFlag(ctx, user, flags); err != nil {
		return AdmitResult{}, err
	} else if flagged {
		return AdmitResult{}, domain.ErrRateExceeded
	}
	for _, f := range flags {
		s.logger().WarnContext(ctx, "suspicious activation pattern",
			"operation", "admit_activation",
			"outcome", "flagged",
			"flag_type", f.Type,
			"severity", string(f.Severity),
			"message", f.Message,
		)
	}

	activation := domain.Activation{
		ActivationID: uuid.NewString(),
		UserID:       user.UserID,
		SubjectID:    req.SubjectID,
		ProductID:    req.ProductID,
		ProductTitle: req.ProductTitle,
		ProductPrice: req.ProductPrice,
		ProductURL:   req.ProductURL,
		SellerInfo:   req.SellerInfo,
		Signature:    req.Signature,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Status:       domain.ActivationPending,
		ActivatedAt:  now,
		ExpiresAt:    now.Add(s.cfg.ActivationTTL),
	}
	if err := s.activations.CreateWithinWindow(ctx, activation, windowStart); err != nil {
		if errors.Is(err, domain.ErrDuplicateActivation) {
			return AdmitResult{}, err
		}
		return AdmitResult{}, fmt.Errorf("create activation: %w", err)
	}

	token, claims, err := s.tokens.Issue(activation.ActivationID, activation.ProductID, now)
	if err != nil {
		return AdmitResult{}, fmt.Errorf("issue redirect token: %w", err)
	}
	if err := s.activations.SetRedirectToken(ctx, activation.ActivationID, token); err != nil {
		return AdmitResult{}, fmt.Errorf("store redirect token: %w", err)
	}

	s.emit(ctx, "activation.created", user.UserID, map[string]any{
		"activation_id": activation.ActivationID,
		"user_id":       user.UserID,
		"product_id":    activation.ProductID,
		"activated_at":  activation.ActivatedAt,
		"expires_at":    activation.ExpiresAt,
	})
	s.logger().InfoContext(ctx, "activation admitted",
		"operation", "admit_activation",
		"outcome", "success",
		"activation_id", activation.ActivationID,
		"user_id", user.UserID,
	)

	return AdmitResult{
		ActivationID: activation.ActivationID,
		RedirectURL:  strings.TrimRight(s.cfg.RedirectBaseURL, "/") + "/r/" + token,
		ExpiresIn:    int(claims.ExpiresAt.Sub(claims.IssuedAt).Seconds()),
		ExpiresAt:    claims.ExpiresAt,
	}, nil
}

// AdmissionPaused reads the operator switch. An unreadable switch admits traffic.
func (s *Service) AdmissionPaused(ctx context.Context) bool {
	if s.admission == nil {
		return false
	}
	paused, err := s.admission.Paused(ctx)
	if err != nil {
		s.logger().WarnContext(ctx, "admission switch unavailable",
			"operation", "admission_paused",
			"outcome", "warning",
			"error", err,
		)
		return false
	}
	return paused
}

// SetAdmissionPaused toggles admission for every replica sharing the control backend.
func (s *Service) SetAdmissionPaused(ctx context.Context, paused bool, actor string) error {
	if s.admission == nil {
		return fmt.Errorf("%w: admission control not configured", domain.ErrInvalidInput)
	}
	if err := s.admission.SetPaused(ctx, paused); err != nil {
		return fmt.Errorf("set admission pause: %w", err)
	}
	s.logger().InfoContext(ctx, "admission pause changed",
		"operation", "set_admission_paused",
		"outcome", "success",
		"paused", paused,
		"actor", actor,
	)
	s.emit(ctx, "admission.pause_changed", "admission", map[string]any{
		"paused": paused,
		"actor":  actor,
	})
	return nil
}

func activationRateKey(req AdmitRequest) string {
	if req.SubjectID != "" {
		return "activation:" + req.SubjectID
	}
	if req.IPAddress != "" {
		return "activation:ip:" + req.IPAddress
	}
	return ""
}

func validateProductURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: product_url must be an absolute http(s) url", domain.ErrInvalidInput)
	}
	return nil
}

func admissionOutcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, domain.ErrAuthInvalid), errors.Is(err, domain.ErrAuthExpired):
		return "auth_failed"
	case errors.Is(err, domain.ErrDuplicateActivation):
		return "duplicate"
	case errors.Is(err, domain.ErrFraudBlocked):
		return "fraud_blocked"
	case errors.Is(err, domain.ErrRateExceeded):
		return "rate_exceeded"
	case errors.Is(err, domain.ErrAdmissionPaused):
		return "paused"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
