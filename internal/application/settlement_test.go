package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
)

func TestSettleCreditsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	res := f.admit(t, "subject-s1", "prod-1")
	f.clock.Advance(2 * time.Hour)

	first, err := f.service.Settle(ctx, application.SettleRequest{ActivationID: res.ActivationID, OrderID: "order-1"})
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if first.Status != domain.PurchaseApproved || first.ApprovedAt == nil {
		t.Fatalf("expected approved purchase, got %+v", first)
	}

	second, err := f.service.Settle(ctx, application.SettleRequest{ActivationID: res.ActivationID, OrderID: "order-1"})
	expectErr(t, err, domain.ErrDuplicatePurchase)
	if second.PurchaseID != first.PurchaseID {
		t.Fatalf("duplicate settle should return the stored purchase")
	}

	view, err := f.service.GetBalance(ctx, "subject-s1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !view.Balance.Equal(decimal.NewFromInt(5)) || !view.TotalEarned.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected single credit of 5, got balance=%s earned=%s", view.Balance, view.TotalEarned)
	}

	activation, err := f.repos.Activations.GetByID(ctx, res.ActivationID)
	if err != nil {
		t.Fatalf("load activation: %v", err)
	}
	if activation.Status != domain.ActivationCompleted {
		t.Fatalf("expected completed activation, got %s", activation.Status)
	}
}

func TestSettleConcurrentCreditsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res := f.admit(t, "subject-s2", "prod-1")
	f.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.service.Settle(context.Background(), application.SettleRequest{ActivationID: res.ActivationID})
		}()
	}
	wg.Wait()

	if got := f.balance(t, "subject-s2"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected balance 5 after concurrent settles, got %s", got)
	}
}

func TestSettleTimingPlausibility(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		delay      time.Duration
		wantStatus domain.PurchaseStatus
		wantCredit int64
	}{
		{name: "thirty seconds", delay: 30 * time.Second, wantStatus: domain.PurchasePendingVerification, wantCredit: 0},
		{name: "two hours", delay: 2 * time.Hour, wantStatus: domain.PurchaseApproved, wantCredit: 5},
		{name: "forty five days", delay: 45 * 24 * time.Hour, wantStatus: domain.PurchasePendingVerification, wantCredit: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			res := f.admit(t, "subject-timing", "prod-1")
			activatedAt := f.clock.Now()
			purchasedAt := activatedAt.Add(tc.delay)
			f.clock.Advance(tc.delay + time.Minute)

			p, err := f.service.Settle(context.Background(), application.SettleRequest{
				ActivationID: res.ActivationID,
				PurchaseDate: &purchasedAt,
			})
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if p.Status != tc.wantStatus {
				t.Fatalf("expected %s, got %s", tc.wantStatus, p.Status)
			}
			if got := f.balance(t, "subject-timing"); !got.Equal(decimal.NewFromInt(tc.wantCredit)) {
				t.Fatalf("expected balance %d, got %s", tc.wantCredit, got)
			}
		})
	}
}

func TestSettleUnknownActivation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.service.Settle(context.Background(), application.SettleRequest{ActivationID: "4b7c9ff4-2a42-4c09-9a7b-3c8f3e9a1b11"})
	expectErr(t, err, domain.ErrActivationNotFound)

	_, err = f.service.Settle(context.Background(), application.SettleRequest{})
	expectErr(t, err, domain.ErrInvalidInput)

	_, err = f.service.Settle(context.Background(), application.SettleRequest{ActivationID: "ORD-not-an-activation"})
	expectErr(t, err, domain.ErrInvalidInput)
}
