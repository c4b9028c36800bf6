package events

import (
	"context"
	"log/slog"
	"sync"
)

// PayoutHandler settles one reserved payout with the executor.
type PayoutHandler func(ctx context.Context, payoutID string) error

// PayoutQueue runs payout execution off the request path on a fixed pool of
// workers. Dispatch never blocks; a payout that does not fit in the buffer
// stays pending and is picked up by the stale-payout sweep.
type PayoutQueue struct {
	logger  *slog.Logger
	queue   chan string
	workers int
}

func NewPayoutQueue(logger *slog.Logger, buffer, workers int) *PayoutQueue {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &PayoutQueue{
		logger:  logger,
		queue:   make(chan string, buffer),
		workers: workers,
	}
}

func (q *PayoutQueue) Dispatch(payoutID string) {
	select {
	case q.queue <- payoutID:
	default:
		q.logger.Warn("payout queue full; left for sweeper",
			"module", "events.payout_queue",
			"layer", "adapter",
			"operation", "dispatch_payout",
			"outcome", "dropped",
			"payout_id", payoutID,
		)
	}
}

// Run blocks until ctx is cancelled and every in-flight payout has returned.
func (q *PayoutQueue) Run(ctx context.Context, handle PayoutHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.queue:
					// In-flight payouts finish even during shutdown.
					if err := handle(context.WithoutCancel(ctx), id); err != nil {
						q.logger.ErrorContext(ctx, "payout processing failed",
							"module", "events.payout_queue",
							"layer", "adapter",
							"operation", "process_payout",
							"outcome", "failure",
							"payout_id", id,
							"error", err,
						)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}
