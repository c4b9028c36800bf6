package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/viralforge/cashback-activation-service/internal/ports"
)

type outboxRepository struct {
	store *Store
}

func (r *outboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.outbox[event.EventID]; exists {
		return fmt.Errorf("outbox event %s already enqueued", event.EventID)
	}
	r.store.outbox[event.EventID] = ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      event.Payload,
		CreatedAt:    event.OccurredAt,
	}
	r.store.outboxOrder = append(r.store.outboxOrder, event.EventID)
	return nil
}

func (r *outboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now().UTC()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.store.outboxOrder {
		if len(out) >= limit {
			break
		}
		rec := r.store.outbox[id]
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && rec.ClaimUntil.After(now) {
			continue
		}
		until := claimUntil
		rec.ClaimToken = claimToken
		rec.ClaimUntil = &until
		r.store.outbox[id] = rec
		out = append(out, rec)
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(_ context.Context, outboxID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.PublishedAt = &at
	})
}

func (r *outboxRepository) MarkFailed(_ context.Context, outboxID, claimToken, errMsg string, _ time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = errMsg
	})
}

func (r *outboxRepository) MarkDeadLettered(_ context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = errMsg
		rec.DeadLetteredAt = &at
	})
}

func (r *outboxRepository) update(outboxID, claimToken string, mutate func(*ports.OutboxRecord)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.outbox[outboxID]
	if !ok || rec.ClaimToken != claimToken {
		return nil
	}
	mutate(&rec)
	rec.ClaimToken = ""
	rec.ClaimUntil = nil
	r.store.outbox[outboxID] = rec
	return nil
}
