package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

// UserRepository stores cashback accounts keyed by subject identifier.
type UserRepository interface {
	GetBySubject(ctx context.Context, subjectID string) (domain.User, error)
	// GetOrCreate is an idempotent upsert; holdUntil applies only to new rows.
	GetOrCreate(ctx context.Context, subjectID string, now, holdUntil time.Time) (domain.User, error)
	// FlagFraud only ever moves a user from unflagged to flagged and reports whether it did.
	FlagFraud(ctx context.Context, userID, reason string, at time.Time) (bool, error)
}

// ActivationRepository persists activations.
type ActivationRepository interface {
	ExistsSince(ctx context.Context, subjectID, productID string, since time.Time) (bool, error)
	CountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (int, error)
	CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error)
	// CreateWithinWindow re-checks the dedup window and inserts atomically.
	// It returns domain.ErrDuplicateActivation when another activation already
	// exists for the subject and product at or after windowStart.
	CreateWithinWindow(ctx context.Context, activation domain.Activation, windowStart time.Time) error
	// SetRedirectToken writes the token only if none is stored yet.
	SetRedirectToken(ctx context.Context, activationID, token string) error
	GetByID(ctx context.Context, activationID string) (domain.Activation, error)
	ExpirePending(ctx context.Context, now time.Time, limit int) (int, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type ClickRepository interface {
	Append(ctx context.Context, click domain.ClickLog) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type SettlementParams struct {
	Purchase domain.Purchase
	// Credit is added to balance and total earned in the same transaction; zero for unapproved purchases.
	Credit decimal.Decimal
}

// SettlementRepository reconciles purchases against activations.
type SettlementRepository interface {
	// Settle inserts the purchase, completes the activation and credits the
	// user in one transaction. On a repeated activation it returns the stored
	// purchase together with domain.ErrDuplicatePurchase.
	Settle(ctx context.Context, params SettlementParams) (domain.Purchase, error)
	GetByActivation(ctx context.Context, activationID string) (domain.Purchase, error)
}

// PayoutRepository owns the payout ledger. All balance movements happen here.
type PayoutRepository interface {
	// Reserve debits the balance only if it covers the amount and inserts the
	// payout as pending, atomically. It returns domain.ErrInsufficientBalance
	// when the conditional debit matches no row.
	Reserve(ctx context.Context, payout domain.Payout) error
	// MarkProcessing claims a pending payout for execution and stamps the
	// start of the executor call.
	MarkProcessing(ctx context.Context, payoutID string, at time.Time) (bool, error)
	Complete(ctx context.Context, payoutID, transactionID string, at time.Time) (bool, error)
	// FailAndRefund moves a non-terminal payout to failed and credits the
	// amount back. It reports false without side effects when the payout is
	// already terminal.
	FailAndRefund(ctx context.Context, payoutID, reason string, at time.Time) (bool, error)
	// RefundStale behaves like FailAndRefund but re-checks cutoffs under the
	// row lock, so a payout claimed by a worker since it was listed is kept.
	RefundStale(ctx context.Context, payoutID, reason string, at time.Time, cutoffs domain.StaleCutoffs) (bool, error)
	Get(ctx context.Context, payoutID string) (domain.Payout, error)
	SumOpenByUser(ctx context.Context, userID string) (decimal.Decimal, error)
	ListStale(ctx context.Context, cutoffs domain.StaleCutoffs, limit int) ([]domain.Payout, error)
}
