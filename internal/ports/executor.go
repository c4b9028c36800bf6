package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

type PayoutInstruction struct {
	PayoutID   string
	Method     domain.PayoutMethod
	Amount     decimal.Decimal
	Identifier string
}

type PayoutResult struct {
	Success       bool
	TransactionID string
	Message       string
}

// PayoutExecutor moves money out to a wallet provider.
type PayoutExecutor interface {
	Execute(ctx context.Context, instruction PayoutInstruction) (PayoutResult, error)
}
