package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// RelayOptions tunes how often and how much of the ledger event outbox is
// drained. Zero values fall back to the service defaults.
type RelayOptions struct {
	PollInterval time.Duration
	BatchSize    int
	LeaseTTL     time.Duration
	MaxAttempts  int
}

func (o RelayOptions) withDefaults() RelayOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	return o
}

type relayOutcome int

const (
	relayDelivered relayOutcome = iota
	relayDeferred
	relayParked
)

// LedgerRelay ships audit events written alongside ledger mutations to the
// broker. Each event is keyed by the affected user so a consumer sees one
// user's history in order.
type LedgerRelay struct {
	logger    *slog.Logger
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	opts      RelayOptions
	now       func() time.Time
}

func NewLedgerRelay(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, opts RelayOptions) *LedgerRelay {
	return &LedgerRelay{
		logger:    logger,
		outbox:    outbox,
		publisher: publisher,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run relays pending ledger events until ctx is cancelled.
func (r *LedgerRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "ledger event relay pass failed",
				"module", "events.ledger_relay",
				"layer", "adapter",
				"operation", "relay_ledger_events",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce leases one batch of ledger events and reports how many reached
// the broker. A bookkeeping error on a single event is logged and the lease
// is left to lapse so the event is offered again on a later pass.
func (r *LedgerRelay) ProcessOnce(ctx context.Context) (int, error) {
	lease := uuid.NewString()
	batch, err := r.outbox.ClaimUnpublished(ctx, r.opts.BatchSize, lease, r.now().Add(r.opts.LeaseTTL))
	if err != nil {
		return 0, fmt.Errorf("lease ledger events: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var delivered, deferred, parked int
	for _, rec := range batch {
		outcome, err := r.relay(ctx, lease, rec)
		if err != nil {
			r.logger.WarnContext(ctx, "ledger event bookkeeping failed",
				"module", "events.ledger_relay",
				"layer", "adapter",
				"operation", "record_relay_outcome",
				"outcome", "failure",
				"outbox_id", rec.OutboxID,
				"event_type", rec.EventType,
				"user_id", rec.PartitionKey,
				"error", err,
			)
		}
		switch outcome {
		case relayDelivered:
			delivered++
		case relayDeferred:
			deferred++
		case relayParked:
			parked++
		}
	}

	r.logger.InfoContext(ctx, "ledger events relayed",
		"module", "events.ledger_relay",
		"layer", "adapter",
		"operation", "relay_ledger_events",
		"outcome", "success",
		"leased", len(batch),
		"delivered", delivered,
		"deferred", deferred,
		"parked", parked,
	)
	return delivered, nil
}

// relay publishes one event and records where it ended up. Events that have
// used up their attempts are parked without another publish so a poisoned
// payout or settlement event cannot stall the user's partition.
func (r *LedgerRelay) relay(ctx context.Context, lease string, rec ports.OutboxRecord) (relayOutcome, error) {
	at := r.now()
	if rec.RetryCount >= r.opts.MaxAttempts {
		return relayParked, r.outbox.MarkDeadLettered(ctx, rec.OutboxID, lease, "attempts exhausted before publish", at)
	}

	pubErr := r.publisher.Publish(ctx, rec.EventType, rec.PartitionKey, rec.Payload)
	if pubErr == nil {
		return relayDelivered, r.outbox.MarkPublished(ctx, rec.OutboxID, lease, at)
	}

	attempt := rec.RetryCount + 1
	if attempt >= r.opts.MaxAttempts {
		r.logger.ErrorContext(ctx, "ledger event parked after final attempt",
			"module", "events.ledger_relay",
			"layer", "adapter",
			"operation", "publish_ledger_event",
			"outcome", "dead_lettered",
			"outbox_id", rec.OutboxID,
			"event_type", rec.EventType,
			"user_id", rec.PartitionKey,
			"attempt", attempt,
			"error", pubErr,
		)
		return relayParked, r.outbox.MarkDeadLettered(ctx, rec.OutboxID, lease, pubErr.Error(), at)
	}

	r.logger.WarnContext(ctx, "ledger event publish deferred",
		"module", "events.ledger_relay",
		"layer", "adapter",
		"operation", "publish_ledger_event",
		"outcome", "retry",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"user_id", rec.PartitionKey,
		"attempt", attempt,
		"error", pubErr,
	)
	return relayDeferred, r.outbox.MarkFailed(ctx, rec.OutboxID, lease, pubErr.Error(), at)
}
