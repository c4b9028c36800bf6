package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

func hundredCashback(cfg *application.Config) {
	cfg.CashbackAmount = decimal.NewFromInt(100)
}

func payoutRequest(subjectID string, amount int64) application.PayoutRequest {
	return application.PayoutRequest{
		SubjectID:        subjectID,
		Amount:           decimal.NewFromInt(amount),
		Method:           "esewa",
		PayoutIdentifier: "hashed-wallet-id",
	}
}

func TestConcurrentPayoutsNeverOverdraw(t *testing.T) {
	t.Parallel()

	f := newFixture(t, hundredCashback)
	f.fundedUser(t, "subject-p1", 1)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		accepted     int
		insufficient int
		others       []error
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.RequestPayout(context.Background(), payoutRequest("subject-p1", 100))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrInsufficientBalance):
				insufficient++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if accepted != 1 || insufficient != 1 {
		t.Fatalf("expected one accepted and one insufficient, got %d and %d", accepted, insufficient)
	}
	if got := f.balance(t, "subject-p1"); !got.IsZero() {
		t.Fatalf("expected zero balance, got %s", got)
	}
	if len(f.dispatcher.IDs()) != 1 {
		t.Fatalf("expected one dispatched payout")
	}
}

func TestPayoutBlockedDuringFraudHold(t *testing.T) {
	t.Parallel()

	f := newFixture(t, hundredCashback)
	ctx := context.Background()
	res := f.admit(t, "subject-p2", "prod-1")
	f.clock.Advance(2 * time.Hour)
	if _, err := f.service.Settle(ctx, application.SettleRequest{ActivationID: res.ActivationID}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	_, err := f.service.RequestPayout(ctx, payoutRequest("subject-p2", 100))
	var holdErr *domain.FraudHoldError
	if !errors.As(err, &holdErr) || !errors.Is(err, domain.ErrFraudHold) {
		t.Fatalf("expected fraud hold error, got %v", err)
	}
	if !f.clock.Now().Before(holdErr.Until) {
		t.Fatalf("hold should end in the future")
	}

	view, err := f.service.GetBalance(ctx, "subject-p2")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !view.FraudHold || view.FraudHoldUntil == nil || !view.FraudHoldUntil.Equal(holdErr.Until) {
		t.Fatalf("balance view should report the hold, got %+v", view)
	}

	f.clock.Advance(holdErr.Until.Sub(f.clock.Now()) + time.Second)
	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p2", 100))
	if err != nil {
		t.Fatalf("payout after hold: %v", err)
	}
	if receipt.Status != domain.PayoutPending {
		t.Fatalf("expected pending receipt, got %s", receipt.Status)
	}
}

func TestPayoutPrechecksInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.RequestPayout(ctx, payoutRequest("nobody", 50))
	expectErr(t, err, domain.ErrBelowMinimumPayout)

	_, err = f.service.RequestPayout(ctx, payoutRequest("nobody", 100))
	expectErr(t, err, domain.ErrNotFound)

	bad := payoutRequest("nobody", 100)
	bad.Method = "paypal"
	_, err = f.service.RequestPayout(ctx, bad)
	expectErr(t, err, domain.ErrInvalidInput)

	f.fundedUser(t, "subject-p3", 1)
	_, err = f.service.RequestPayout(ctx, payoutRequest("subject-p3", 100))
	expectErr(t, err, domain.ErrInsufficientBalance)
}

func TestProcessPayoutCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, hundredCashback)
	ctx := context.Background()
	f.fundedUser(t, "subject-p4", 2)

	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p4", 150))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	view, err := f.service.GetBalance(ctx, "subject-p4")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !view.Balance.Equal(decimal.NewFromInt(50)) || !view.PendingPayouts.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected balance view %+v", view)
	}

	if err := f.service.ProcessPayout(ctx, receipt.PayoutID); err != nil {
		t.Fatalf("process: %v", err)
	}
	payout, err := f.service.GetPayout(ctx, receipt.PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Status != domain.PayoutCompleted || payout.TransactionID != "tx-1" || payout.ProcessedAt == nil {
		t.Fatalf("expected completed payout, got %+v", payout)
	}
	if got := f.balance(t, "subject-p4"); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("completed payout must not refund, balance %s", got)
	}

	if err := f.service.ProcessPayout(ctx, receipt.PayoutID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if f.executor.calls != 1 {
		t.Fatalf("executor must run once, ran %d times", f.executor.calls)
	}
}

func TestProcessPayoutFailureRefundsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, hundredCashback)
	ctx := context.Background()
	f.fundedUser(t, "subject-p5", 1)
	f.executor.result = ports.PayoutResult{Success: false, Message: "Invalid recipient"}

	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p5", 100))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if err := f.service.ProcessPayout(ctx, receipt.PayoutID); err != nil {
		t.Fatalf("process: %v", err)
	}
	payout, err := f.service.GetPayout(ctx, receipt.PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Status != domain.PayoutFailed || payout.FailureReason != "Invalid recipient" || payout.RefundedAt == nil {
		t.Fatalf("expected failed refunded payout, got %+v", payout)
	}
	if got := f.balance(t, "subject-p5"); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected refund to 100, got %s", got)
	}

	f.clock.Advance(time.Hour)
	if _, err := f.service.RecoverStalePayouts(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	refunded, err := f.repos.Payouts.FailAndRefund(ctx, receipt.PayoutID, "again", f.clock.Now())
	if err != nil {
		t.Fatalf("fail again: %v", err)
	}
	if refunded {
		t.Fatalf("second refund must be a no-op")
	}
	if got := f.balance(t, "subject-p5"); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance changed after repeated failure: %s", got)
	}
}

func TestProcessPayoutTimeoutIsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *application.Config) {
		hundredCashback(cfg)
		cfg.ExecutorTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()
	f.fundedUser(t, "subject-p6", 1)
	f.executor.block = true

	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p6", 100))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if err := f.service.ProcessPayout(ctx, receipt.PayoutID); err != nil {
		t.Fatalf("process: %v", err)
	}
	payout, err := f.service.GetPayout(ctx, receipt.PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Status != domain.PayoutFailed || payout.FailureReason != "payout executor timed out" {
		t.Fatalf("expected timed out failure, got %+v", payout)
	}
	if got := f.balance(t, "subject-p6"); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected refund after timeout, got %s", got)
	}
}

func TestRecoverStalePayoutsRefundsAbandoned(t *testing.T) {
	t.Parallel()

	f := newFixture(t, hundredCashback)
	ctx := context.Background()
	f.fundedUser(t, "subject-p7", 1)

	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p7", 100))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	recovered, err := f.service.RecoverStalePayouts(ctx)
	if err != nil || recovered != 0 {
		t.Fatalf("fresh payout must not be recovered, got %d %v", recovered, err)
	}

	f.clock.Advance(time.Hour)
	recovered, err = f.service.RecoverStalePayouts(ctx)
	if err != nil || recovered != 1 {
		t.Fatalf("expected one recovered payout, got %d %v", recovered, err)
	}
	payout, err := f.service.GetPayout(ctx, receipt.PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Status != domain.PayoutFailed {
		t.Fatalf("expected failed payout, got %s", payout.Status)
	}
	if got := f.balance(t, "subject-p7"); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected refunded balance, got %s", got)
	}

	if err := f.service.ProcessPayout(ctx, receipt.PayoutID); err != nil {
		t.Fatalf("late process: %v", err)
	}
	if f.executor.calls != 0 {
		t.Fatalf("recovered payout must not reach the executor")
	}
}

func TestGetPayoutValidatesID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.service.GetPayout(context.Background(), "not-a-uuid")
	expectErr(t, err, domain.ErrInvalidInput)
	_, err = f.service.GetPayout(context.Background(), "4b7c9ff4-2a42-4c09-9a7b-3c8f3e9a1b11")
	expectErr(t, err, domain.ErrNotFound)
}

func startGatedPayout(t *testing.T, f *fixture, payoutID string) (release func(ports.PayoutResult), done <-chan error) {
	t.Helper()
	entered, release := f.executor.hold()
	errc := make(chan error, 1)
	go func() { errc <- f.service.ProcessPayout(context.Background(), payoutID) }()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("executor was never called")
	}
	return release, errc
}

func waitPayout(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("process: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("payout processing did not return")
	}
}

func TestQueuedPayoutIsNotRefundedWhileExecuting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, hundredCashback)
	ctx := context.Background()
	f.fundedUser(t, "subject-p8", 1)

	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p8", 100))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}

	// The payout sat in the queue past the stale age before a worker got to it.
	f.clock.Advance(10*time.Minute + 25*time.Second)
	release, done := startGatedPayout(t, f, receipt.PayoutID)

	f.clock.Advance(10 * time.Second)
	report, err := f.service.RunMaintenance(ctx)
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if report.RecoveredPayouts != 0 {
		t.Fatalf("payout with a running executor call must not be recovered, got %d", report.RecoveredPayouts)
	}

	release(ports.PayoutResult{Success: true, TransactionID: "paid-externally"})
	waitPayout(t, done)

	payout, err := f.service.GetPayout(ctx, receipt.PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Status != domain.PayoutCompleted || payout.TransactionID != "paid-externally" {
		t.Fatalf("expected completed payout, got %+v", payout)
	}
	if payout.ProcessingStartedAt == nil {
		t.Fatalf("expected processing start to be recorded")
	}
	if got := f.balance(t, "subject-p8"); !got.IsZero() {
		t.Fatalf("paid payout must not be refunded, balance %s", got)
	}
}

func TestProcessPayoutTrustsSuccessAtDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *application.Config) {
		hundredCashback(cfg)
		cfg.ExecutorTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()
	f.fundedUser(t, "subject-p9", 1)
	f.executor.answerAtDeadline = true
	f.executor.result = ports.PayoutResult{Success: true, TransactionID: "tx-deadline"}

	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p9", 100))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if err := f.service.ProcessPayout(ctx, receipt.PayoutID); err != nil {
		t.Fatalf("process: %v", err)
	}
	payout, err := f.service.GetPayout(ctx, receipt.PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Status != domain.PayoutCompleted || payout.TransactionID != "tx-deadline" {
		t.Fatalf("success reported at the deadline must complete, got %+v", payout)
	}
	if got := f.balance(t, "subject-p9"); !got.IsZero() {
		t.Fatalf("completed payout must not refund, balance %s", got)
	}
}

func TestLateSuccessAfterRecoveryIsFlaggedForReconciliation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, hundredCashback)
	ctx := context.Background()
	f.fundedUser(t, "subject-p10", 1)

	receipt, err := f.service.RequestPayout(ctx, payoutRequest("subject-p10", 100))
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	release, done := startGatedPayout(t, f, receipt.PayoutID)

	f.clock.Advance(time.Hour)
	recovered, err := f.service.RecoverStalePayouts(ctx)
	if err != nil || recovered != 1 {
		t.Fatalf("expected executor call past its deadline to be recovered, got %d %v", recovered, err)
	}

	release(ports.PayoutResult{Success: true, TransactionID: "tx-late"})
	waitPayout(t, done)

	payout, err := f.service.GetPayout(ctx, receipt.PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Status != domain.PayoutFailed {
		t.Fatalf("ledger state must not flip after refund, got %s", payout.Status)
	}
	events := f.store.OutboxEvents()
	if events[len(events)-1] != "payout.reconciliation_required" {
		t.Fatalf("expected reconciliation event, got %v", events)
	}
}
