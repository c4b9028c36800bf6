package application_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
)

func TestRedeemBuildsAffiliateURLAndLogsClick(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res := f.admit(t, "subject-r1", "prod-7")
	token := tokenFromRedirect(t, res.RedirectURL)

	f.clock.Advance(30 * time.Second)
	target, err := f.service.Redeem(context.Background(), token, application.ClickMeta{
		IPAddress: "198.51.100.4",
		UserAgent: "browser",
		Referer:   "https://www.daraz.com.np/",
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	if u.Host != "www.daraz.com.np" || u.Path != "/products/prod-7.html" {
		t.Fatalf("unexpected destination %s", target)
	}
	q := u.Query()
	if q.Get("aff_code") != "AFF-SECRET-CODE" || q.Get("aff_trace") != res.ActivationID || q.Get("aff_source") != "daraz_cashback_ext" {
		t.Fatalf("affiliate parameters missing in %s", target)
	}

	clicks := f.store.Clicks()
	if len(clicks) != 1 {
		t.Fatalf("expected one click log, got %d", len(clicks))
	}
	if clicks[0].ActivationID != res.ActivationID || clicks[0].IPAddress != "198.51.100.4" || clicks[0].Referer == "" {
		t.Fatalf("unexpected click log %+v", clicks[0])
	}
}

func TestRedeemFallsBackToProductPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	req := f.signedRequest("subject-r2", "prod-55")
	req.ProductURL = ""
	res, err := f.service.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	target, err := f.service.Redeem(context.Background(), tokenFromRedirect(t, res.RedirectURL), application.ClickMeta{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !strings.HasPrefix(target, "https://www.daraz.com.np/products/prod-55?") {
		t.Fatalf("unexpected fallback url %s", target)
	}
}

func TestRedeemTokenExpiresAfterFiveMinutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res := f.admit(t, "subject-r3", "prod-1")
	token := tokenFromRedirect(t, res.RedirectURL)

	f.clock.Advance(301 * time.Second)
	_, err := f.service.Redeem(context.Background(), token, application.ClickMeta{})
	expectErr(t, err, domain.ErrTokenExpired)
	if len(f.store.Clicks()) != 0 {
		t.Fatalf("expired redirect must not log a click")
	}
}

func TestRedeemRejectsTokenNotStoredForActivation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res := f.admit(t, "subject-r4", "prod-1")

	other, _, err := f.tokens.Issue(res.ActivationID, "prod-1", f.clock.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = f.service.Redeem(context.Background(), other, application.ClickMeta{})
	expectErr(t, err, domain.ErrTokenMismatch)

	orphan, _, err := f.tokens.Issue("00000000-0000-0000-0000-000000000000", "prod-1", f.clock.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = f.service.Redeem(context.Background(), orphan, application.ClickMeta{})
	expectErr(t, err, domain.ErrActivationNotFound)

	_, err = f.service.Redeem(context.Background(), "garbage", application.ClickMeta{})
	expectErr(t, err, domain.ErrTokenInvalid)
}

func TestRedeemNeverLeavesTheStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.signedRequest("subject-r9", "prod-90")
	req.ProductURL = "https://evil.example.net/landing"
	res, err := f.service.Admit(ctx, req)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	stored, err := f.repos.Activations.GetByID(ctx, res.ActivationID)
	if err != nil {
		t.Fatalf("load activation: %v", err)
	}
	if stored.ProductURL != "" {
		t.Fatalf("foreign product url must not be stored, got %q", stored.ProductURL)
	}
	target, err := f.service.Redeem(ctx, tokenFromRedirect(t, res.RedirectURL), application.ClickMeta{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !strings.HasPrefix(target, "https://www.daraz.com.np/products/prod-90?") {
		t.Fatalf("redirect left the store: %s", target)
	}
}

func TestRedeemIgnoresForeignStoredProductURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	user, err := f.repos.Users.GetOrCreate(ctx, "subject-r10", now, now)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	activation := domain.Activation{
		ActivationID: "5b0f7d1e-6c2a-4e8b-9f3d-1a2b3c4d5e6f",
		UserID:       user.UserID,
		SubjectID:    user.SubjectID,
		ProductID:    "prod-91",
		ProductURL:   "https://user:pw@evil.example.net/prod-91",
		Status:       domain.ActivationPending,
		ActivatedAt:  now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	if err := f.repos.Activations.CreateWithinWindow(ctx, activation, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("create activation: %v", err)
	}
	token, _, err := f.tokens.Issue(activation.ActivationID, activation.ProductID, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if err := f.repos.Activations.SetRedirectToken(ctx, activation.ActivationID, token); err != nil {
		t.Fatalf("store token: %v", err)
	}

	target, err := f.service.Redeem(ctx, token, application.ClickMeta{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !strings.HasPrefix(target, "https://www.daraz.com.np/products/prod-91?") {
		t.Fatalf("redirect left the store: %s", target)
	}
}

func TestRedeemHonoursConfiguredProductHosts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *application.Config) {
		cfg.ProductHosts = []string{"pages.daraz.com.np"}
	})
	req := f.signedRequest("subject-r11", "prod-92")
	req.ProductURL = "https://Pages.Daraz.com.np/campaign/prod-92"
	res, err := f.service.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	target, err := f.service.Redeem(context.Background(), tokenFromRedirect(t, res.RedirectURL), application.ClickMeta{})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !strings.HasPrefix(target, "https://Pages.Daraz.com.np/campaign/prod-92?") {
		t.Fatalf("allowlisted product url not used: %s", target)
	}
}
