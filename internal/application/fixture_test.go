package application_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/adapters/memory"
	"github.com/viralforge/cashback-activation-service/internal/adapters/security"
	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Dispatch(payoutID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, payoutID)
}

func (d *recordingDispatcher) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type syncClickRecorder struct {
	repo ports.ClickRepository
}

func (r syncClickRecorder) Record(ctx context.Context, click domain.ClickLog) {
	_ = r.repo.Append(ctx, click)
}

type scriptedExecutor struct {
	mu     sync.Mutex
	result ports.PayoutResult
	err    error
	block  bool
	calls  int
	// answerAtDeadline waits for the deadline, then returns result anyway.
	answerAtDeadline bool
	// gate, when set, holds the call until it is closed; entered is closed
	// once the call is waiting on it.
	gate    chan struct{}
	entered chan struct{}
}

func (e *scriptedExecutor) Execute(ctx context.Context, _ ports.PayoutInstruction) (ports.PayoutResult, error) {
	e.mu.Lock()
	e.calls++
	block, late, gate, entered := e.block, e.answerAtDeadline, e.gate, e.entered
	e.mu.Unlock()
	switch {
	case block:
		<-ctx.Done()
		return ports.PayoutResult{}, ctx.Err()
	case late:
		<-ctx.Done()
	case gate != nil:
		close(entered)
		<-gate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.err
}

// hold makes the next executor call wait until the returned release is called.
func (e *scriptedExecutor) hold() (entered <-chan struct{}, release func(ports.PayoutResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	gate := make(chan struct{})
	in := make(chan struct{})
	e.gate, e.entered = gate, in
	return in, func(result ports.PayoutResult) {
		e.mu.Lock()
		e.result = result
		e.mu.Unlock()
		close(gate)
	}
}

type fixture struct {
	service    *application.Service
	store      *memory.Store
	repos      memory.Repositories
	auth       *security.HMACAuthenticator
	tokens     *security.RedirectTokenSigner
	clock      *fakeClock
	admission  *memory.AdmissionSwitch
	dispatcher *recordingDispatcher
	executor   *scriptedExecutor
}

func newFixture(t *testing.T, mutate func(*application.Config)) *fixture {
	t.Helper()

	auth, err := security.NewHMACAuthenticator("fixture-hmac-secret", 5*time.Minute)
	if err != nil {
		t.Fatalf("hmac authenticator: %v", err)
	}
	tokens, err := security.NewRedirectTokenSigner("fixture-jwt-secret", 5*time.Minute)
	if err != nil {
		t.Fatalf("redirect signer: %v", err)
	}

	cfg := application.DefaultConfig()
	cfg.RedirectBaseURL = "https://cashback.example.com"
	cfg.AffiliateCode = "AFF-SECRET-CODE"
	cfg.ActivationRateLimit = 0
	cfg.PayoutRateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	store := memory.NewStore()
	repos := memory.NewRepositories(store)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	admission := memory.NewAdmissionSwitch(false)
	dispatcher := &recordingDispatcher{}
	executor := &scriptedExecutor{result: ports.PayoutResult{Success: true, TransactionID: "tx-1"}}

	var limiter ports.RateLimiter
	if cfg.ActivationRateLimit > 0 || cfg.PayoutRateLimit > 0 {
		limiter = memory.NewSlidingWindowLimiter()
	}

	svc := application.NewService(application.Dependencies{
		Config:        cfg,
		Users:         repos.Users,
		Activations:   repos.Activations,
		Settlements:   repos.Settlements,
		Payouts:       repos.Payouts,
		Outbox:        repos.Outbox,
		Clicks:        repos.Clicks,
		ClickRecorder: syncClickRecorder{repo: repos.Clicks},
		RateLimiter:   limiter,
		Admission:     admission,
		Authenticator: auth,
		Tokens:        tokens,
		Executor:      executor,
		Dispatcher:    dispatcher,
		Clock:         clock.Now,
	})

	return &fixture{
		service:    svc,
		store:      store,
		repos:      repos,
		auth:       auth,
		tokens:     tokens,
		clock:      clock,
		admission:  admission,
		dispatcher: dispatcher,
		executor:   executor,
	}
}

func (f *fixture) signedRequest(subjectID, productID string) application.AdmitRequest {
	ts := f.clock.Now().UnixMilli()
	return application.AdmitRequest{
		SubjectID:       subjectID,
		ProductID:       productID,
		ProductTitle:    "Wireless Earbuds",
		ProductPrice:    decimal.NewFromInt(2499),
		ProductURL:      "https://www.daraz.com.np/products/" + productID + ".html",
		TimestampMillis: ts,
		Signature:       f.auth.Sign(subjectID, productID, ts),
		IPAddress:       "203.0.113.7",
		UserAgent:       "fixture-agent",
	}
}

func (f *fixture) admit(t *testing.T, subjectID, productID string) application.AdmitResult {
	t.Helper()
	res, err := f.service.Admit(context.Background(), f.signedRequest(subjectID, productID))
	if err != nil {
		t.Fatalf("admit %s/%s failed: %v", subjectID, productID, err)
	}
	return res
}

// fundedUser creates a user, settles enough approved purchases to reach
// the balance and moves the clock past the new-user hold.
func (f *fixture) fundedUser(t *testing.T, subjectID string, purchases int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < purchases; i++ {
		res := f.admit(t, subjectID, fmt.Sprintf("funding-%d", i))
		f.clock.Advance(2 * time.Hour)
		if _, err := f.service.Settle(ctx, application.SettleRequest{ActivationID: res.ActivationID}); err != nil {
			t.Fatalf("settle funding purchase: %v", err)
		}
	}
	f.clock.Advance(31 * 24 * time.Hour)
}

func (f *fixture) balance(t *testing.T, subjectID string) decimal.Decimal {
	t.Helper()
	view, err := f.service.GetBalance(context.Background(), subjectID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return view.Balance
}

func tokenFromRedirect(t *testing.T, redirectURL string) string {
	t.Helper()
	idx := strings.LastIndex(redirectURL, "/r/")
	if idx < 0 {
		t.Fatalf("redirect url %q has no token", redirectURL)
	}
	return redirectURL[idx+len("/r/"):]
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
