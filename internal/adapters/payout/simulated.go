package payout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// SimulatedExecutor stands in for a wallet provider. It is deterministic:
// the same instruction always produces the same result.
type SimulatedExecutor struct {
	provider        string
	failIdentifiers map[string]struct{}
	maxAmount       decimal.Decimal
	latency         time.Duration
}

type SimulatedOption func(*SimulatedExecutor)

// WithFailingIdentifiers makes payouts to these wallet identifiers fail.
func WithFailingIdentifiers(ids ...string) SimulatedOption {
	return func(e *SimulatedExecutor) {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id != "" {
				e.failIdentifiers[id] = struct{}{}
			}
		}
	}
}

// WithMaxAmount rejects payouts above the ceiling. Zero means no ceiling.
func WithMaxAmount(ceiling decimal.Decimal) SimulatedOption {
	return func(e *SimulatedExecutor) { e.maxAmount = ceiling }
}

// WithLatency delays every call, honoring context cancellation.
func WithLatency(d time.Duration) SimulatedOption {
	return func(e *SimulatedExecutor) { e.latency = d }
}

func NewSimulatedExecutor(provider string, opts ...SimulatedOption) *SimulatedExecutor {
	e := &SimulatedExecutor{
		provider:        strings.ToUpper(provider),
		failIdentifiers: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *SimulatedExecutor) Execute(ctx context.Context, in ports.PayoutInstruction) (ports.PayoutResult, error) {
	if e.latency > 0 {
		timer := time.NewTimer(e.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ports.PayoutResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return ports.PayoutResult{}, err
	}

	if _, blocked := e.failIdentifiers[in.Identifier]; blocked {
		return ports.PayoutResult{Message: fmt.Sprintf("%s rejected wallet %s", e.provider, in.Identifier)}, nil
	}
	if e.maxAmount.IsPositive() && in.Amount.GreaterThan(e.maxAmount) {
		return ports.PayoutResult{
			Message: fmt.Sprintf("%s limit exceeded: %s > %s", e.provider, in.Amount.StringFixed(2), e.maxAmount.StringFixed(2)),
		}, nil
	}
	return ports.PayoutResult{
		Success:       true,
		TransactionID: transactionID(e.provider, in.PayoutID),
	}, nil
}

func transactionID(provider, payoutID string) string {
	compact := strings.ToUpper(strings.ReplaceAll(payoutID, "-", ""))
	if len(compact) > 16 {
		compact = compact[:16]
	}
	return "SIM-" + provider + "-" + compact
}
