package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

// Redeem verifies a redirect token and returns the affiliate destination.
// The click is recorded without blocking the caller.
func (s *Service) Redeem(ctx context.Context, token string, meta ClickMeta) (string, error) {
	target, err := s.redeem(ctx, token, meta)
	s.metrics.RedirectOutcome(redirectOutcome(err))
	return target, err
}

func (s *Service) redeem(ctx context.Context, token string, meta ClickMeta) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrTokenInvalid
	}
	now := s.nowFn()
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return "", err
	}

	activation, err := s.activations.GetByID(ctx, claims.ActivationID)
	if err != nil {
		if errors.Is(err, domain.ErrActivationNotFound) || errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrActivationNotFound
		}
		return "", fmt.Errorf("load activation: %w", err)
	}
	if activation.RedirectToken == "" || activation.RedirectToken != token {
		return "", domain.ErrTokenMismatch
	}

	productID := activation.ProductID
	if productID == "" {
		productID = claims.ProductID
	}
	target, err := s.affiliateURL(activation.ProductURL, productID, activation.ActivationID)
	if err != nil {
		return "", err
	}

	if s.clickRecorder != nil {
		s.clickRecorder.Record(ctx, domain.ClickLog{
			ClickID:      uuid.NewString(),
			ActivationID: activation.ActivationID,
			ClickedAt:    now,
			IPAddress:    meta.IPAddress,
			UserAgent:    meta.UserAgent,
			Referer:      meta.Referer,
		})
	}
	s.logger().InfoContext(ctx, "redirect issued",
		"operation", "redeem_redirect",
		"outcome", "success",
		"activation_id", activation.ActivationID,
	)
	return target, nil
}

// affiliateURL decorates the product page with affiliate tracking parameters.
// Stored product URLs outside the store hosts are ignored in favour of the
// canonical product path.
func (s *Service) affiliateURL(productURL, productID, activationID string) (string, error) {
	raw := productURL
	if raw == "" || !s.cfg.allowsProductURL(raw) {
		raw = strings.TrimRight(s.cfg.ProductBaseURL, "/") + "/products/" + url.PathEscape(productID)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("build affiliate url for activation %s: invalid product url", activationID)
	}
	q := u.Query()
	q.Set("aff_code", s.cfg.AffiliateCode)
	q.Set("aff_trace", activationID)
	q.Set("aff_source", s.cfg.AffiliateSource)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// allowsProductURL reports whether raw is an http(s) URL on a store host.
func (c Config) allowsProductURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.User != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if base, err := url.Parse(c.ProductBaseURL); err == nil && strings.EqualFold(base.Hostname(), host) {
		return true
	}
	for _, allowed := range c.ProductHosts {
		if strings.EqualFold(strings.TrimSpace(allowed), host) {
			return true
		}
	}
	return false
}

func redirectOutcome(err error) string {
	switch {
	case err == nil:
		return "redirected"
	case errors.Is(err, domain.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, domain.ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, domain.ErrTokenMismatch):
		return "token_mismatch"
	case errors.Is(err, domain.ErrActivationNotFound):
		return "not_found"
	default:
		return "error"
	}
}
