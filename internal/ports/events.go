package ports

import (
	"context"
	"time"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

// EventPublisher is the outbound broker port used by the outbox worker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error
}

type OutboxEvent struct {
	EventID      string
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

type OutboxRecord struct {
	OutboxID       string
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	ClaimToken     string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
}

// ClickRecorder accepts click logs without blocking the redirect.
type ClickRecorder interface {
	Record(ctx context.Context, click domain.ClickLog)
}

// PayoutDispatcher hands a reserved payout to asynchronous processing.
type PayoutDispatcher interface {
	Dispatch(payoutID string)
}
