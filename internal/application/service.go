package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

type Service struct {
	cfg           Config
	users         ports.UserRepository
	activations   ports.ActivationRepository
	settlements   ports.SettlementRepository
	payouts       ports.PayoutRepository
	outbox        ports.OutboxRepository
	clicks        ports.ClickRepository
	clickRecorder ports.ClickRecorder
	limiter       ports.RateLimiter
	admission     ports.AdmissionControl
	authenticator ports.RequestAuthenticator
	tokens        ports.RedirectTokenService
	executor      ports.PayoutExecutor
	dispatcher    ports.PayoutDispatcher
	metrics       ports.Metrics
	nowFn         func() time.Time
}

type Dependencies struct {
	Config        Config
	Users         ports.UserRepository
	Activations   ports.ActivationRepository
	Settlements   ports.SettlementRepository
	Payouts       ports.PayoutRepository
	Outbox        ports.OutboxRepository
	Clicks        ports.ClickRepository
	ClickRecorder ports.ClickRecorder
	RateLimiter   ports.RateLimiter
	Admission     ports.AdmissionControl
	Authenticator ports.RequestAuthenticator
	Tokens        ports.RedirectTokenService
	Executor      ports.PayoutExecutor
	Dispatcher    ports.PayoutDispatcher
	Metrics       ports.Metrics
	Clock         func() time.Time
}

func NewService(deps Dependencies) *Service {
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		cfg:           deps.Config.withDefaults(),
		users:         deps.Users,
		activations:   deps.Activations,
		settlements:   deps.Settlements,
		payouts:       deps.Payouts,
		outbox:        deps.Outbox,
		clicks:        deps.Clicks,
		clickRecorder: deps.ClickRecorder,
		limiter:       deps.RateLimiter,
		admission:     deps.Admission,
		authenticator: deps.Authenticator,
		tokens:        deps.Tokens,
		executor:      deps.Executor,
		dispatcher:    deps.Dispatcher,
		metrics:       metrics,
		nowFn:         nowFn,
	}
}

func (s *Service) logger() *slog.Logger {
	return slog.Default().With(
		"service", s.cfg.ServiceName,
		"module", "application",
		"layer", "application",
	)
}

// emit writes an audit event to the outbox. Failures are logged and dropped.
func (s *Service) emit(ctx context.Context, eventType, partitionKey string, data map[string]any) {
	if s.outbox == nil {
		return
	}
	now := s.nowFn()
	payload, err := json.Marshal(map[string]any{
		"event_type":  eventType,
		"occurred_at": now,
		"data":        data,
	})
	if err == nil {
		err = s.outbox.Enqueue(ctx, ports.OutboxEvent{
			EventID:      uuid.NewString(),
			EventType:    eventType,
			PartitionKey: partitionKey,
			Payload:      payload,
			OccurredAt:   now,
		})
	}
	if err != nil {
		s.logger().WarnContext(ctx, "audit event dropped",
			"operation", "emit_event",
			"outcome", "failure",
			"event_type", eventType,
			"error", err,
		)
	}
}

// enforceRateLimit fails open when the limiter backend is unavailable.
func (s *Service) enforceRateLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	if s.limiter == nil || limit <= 0 || window <= 0 || key == "" {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, key, limit, window, s.nowFn())
	if err != nil {
		s.logger().WarnContext(ctx, "rate-limit state unavailable",
			"operation", "rate_limit",
			"outcome", "warning",
			"key", key,
			"error", err,
		)
		return nil
	}
	if !allowed {
		return domain.ErrRateExceeded
	}
	return nil
}

type noopMetrics struct{}

func (noopMetrics) AdmissionOutcome(string)  {}
func (noopMetrics) RedirectOutcome(string)   {}
func (noopMetrics) SettlementOutcome(string) {}
func (noopMetrics) PayoutOutcome(string)     {}
func (noopMetrics) FraudFlagRaised(string)   {}
