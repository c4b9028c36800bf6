package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyPurchaseTiming(t *testing.T) {
	t.Parallel()

	activatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		delta time.Duration
		want  PurchaseStatus
	}{
		{name: "too fast", delta: 30 * time.Second, want: PurchasePendingVerification},
		{name: "lower bound", delta: time.Minute, want: PurchaseApproved},
		{name: "plausible", delta: 2 * time.Hour, want: PurchaseApproved},
		{name: "upper bound", delta: 30 * 24 * time.Hour, want: PurchaseApproved},
		{name: "too late", delta: 45 * 24 * time.Hour, want: PurchasePendingVerification},
		{name: "before activation", delta: -time.Hour, want: PurchasePendingVerification},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyPurchaseTiming(activatedAt, activatedAt.Add(tc.delta), time.Minute, 30*24*time.Hour)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestFraudHoldErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	until := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	err := fmt.Errorf("request payout: %w", &FraudHoldError{Until: until})
	if !errors.Is(err, ErrFraudHold) {
		t.Fatalf("expected fraud hold sentinel match")
	}
	var holdErr *FraudHoldError
	if !errors.As(err, &holdErr) || !holdErr.Until.Equal(until) {
		t.Fatalf("expected hold error to carry until, got %v", holdErr)
	}
}

func TestHighSeverityReason(t *testing.T) {
	t.Parallel()

	flags := []FraudFlag{
		{Type: FraudHighFrequency, Message: "too many activations", Severity: SeverityHigh},
		{Type: FraudIPSharing, Message: "shared ip", Severity: SeverityMedium},
		{Type: FraudRapidFire, Message: "rapid activations", Severity: SeverityHigh},
	}
	if !HasHighSeverity(flags) {
		t.Fatalf("expected high severity")
	}
	if got := HighSeverityReason(flags); got != "too many activations; rapid activations" {
		t.Fatalf("unexpected reason %q", got)
	}
	if HasHighSeverity(flags[1:2]) {
		t.Fatalf("medium flag must not count as high")
	}
}

func TestParsePayoutMethod(t *testing.T) {
	t.Parallel()

	if m, err := ParsePayoutMethod(" Khalti "); err != nil || m != PayoutMethodKhalti {
		t.Fatalf("expected khalti, got %q %v", m, err)
	}
	if _, err := ParsePayoutMethod("paypal"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStaleCutoffsCovers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	cutoffs := StaleCutoffs{PendingBefore: now.Add(-10 * time.Minute), ProcessingBefore: now.Add(-10 * time.Minute)}
	longAgo := now.Add(-time.Hour)
	justNow := now.Add(-time.Second)

	cases := []struct {
		name   string
		payout Payout
		want   bool
	}{
		{"old pending", Payout{Status: PayoutPending, RequestedAt: longAgo}, true},
		{"fresh pending", Payout{Status: PayoutPending, RequestedAt: justNow}, false},
		{"queued long then just started", Payout{Status: PayoutProcessing, RequestedAt: longAgo, ProcessingStartedAt: &justNow}, false},
		{"executor call overdue", Payout{Status: PayoutProcessing, RequestedAt: longAgo, ProcessingStartedAt: &longAgo}, true},
		{"processing without start", Payout{Status: PayoutProcessing, RequestedAt: longAgo}, true},
		{"terminal", Payout{Status: PayoutFailed, RequestedAt: longAgo}, false},
	}
	for _, tc := range cases {
		if got := cutoffs.Covers(tc.payout); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
