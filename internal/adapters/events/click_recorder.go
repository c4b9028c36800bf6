package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// AsyncClickRecorder buffers click logs so redirects never wait on storage.
// A full buffer drops the click; click logs are analytics, not ledger data.
type AsyncClickRecorder struct {
	logger *slog.Logger
	clicks ports.ClickRepository
	queue  chan domain.ClickLog
}

func NewAsyncClickRecorder(logger *slog.Logger, clicks ports.ClickRepository, buffer int) *AsyncClickRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AsyncClickRecorder{
		logger: logger,
		clicks: clicks,
		queue:  make(chan domain.ClickLog, buffer),
	}
}

func (r *AsyncClickRecorder) Record(ctx context.Context, click domain.ClickLog) {
	select {
	case r.queue <- click:
	default:
		r.logger.WarnContext(ctx, "click log dropped",
			"module", "events.click_recorder",
			"layer", "adapter",
			"operation", "record_click",
			"outcome", "dropped",
			"activation_id", click.ActivationID,
		)
	}
}

// Run persists queued clicks until ctx is cancelled, then flushes what is left.
func (r *AsyncClickRecorder) Run(ctx context.Context) error {
	for {
		select {
		case click := <-r.queue:
			r.persist(ctx, click)
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		}
	}
}

func (r *AsyncClickRecorder) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		select {
		case click := <-r.queue:
			r.persist(ctx, click)
		default:
			return
		}
	}
}

func (r *AsyncClickRecorder) persist(ctx context.Context, click domain.ClickLog) {
	if err := r.clicks.Append(ctx, click); err != nil {
		r.logger.ErrorContext(ctx, "click log write failed",
			"module", "events.click_recorder",
			"layer", "adapter",
			"operation", "append_click",
			"outcome", "failure",
			"activation_id", click.ActivationID,
			"error", err,
		)
	}
}
