package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the cashback account behind one opaque subject identifier.
// Balance never goes negative and TotalEarned never decreases.
type User struct {
	UserID           string
	SubjectID        string
	Balance          decimal.Decimal
	TotalEarned      decimal.Decimal
	ActivationCount  int
	LastActivationAt *time.Time
	FraudHoldUntil   time.Time
	IsFraudFlagged   bool
	FraudReason      string
	PayoutMethod     string
	PayoutIdentifier string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OnFraudHold reports whether payouts are still blocked at now.
func (u User) OnFraudHold(now time.Time) bool {
	return now.Before(u.FraudHoldUntil)
}
