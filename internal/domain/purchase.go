package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchaseApproved            PurchaseStatus = "approved"
	PurchasePendingVerification PurchaseStatus = "pending_verification"
	PurchaseRejected            PurchaseStatus = "rejected"
)

// Purchase is the settlement outcome for an activation. One per activation.
type Purchase struct {
	PurchaseID       string
	ActivationID     string
	UserID           string
	OrderID          string
	PurchaseDate     time.Time
	CommissionEarned decimal.Decimal
	CashbackAmount   decimal.Decimal
	Status           PurchaseStatus
	ApprovedBy       string
	ApprovedAt       *time.Time
	CreatedAt        time.Time
}

// ClassifyPurchaseTiming approves a purchase only when it lands between
// minDelay and maxDelay after the activation, both bounds inclusive.
func ClassifyPurchaseTiming(activatedAt, purchasedAt time.Time, minDelay, maxDelay time.Duration) PurchaseStatus {
	delta := purchasedAt.Sub(activatedAt)
	if delta < minDelay || delta > maxDelay {
		return PurchasePendingVerification
	}
	return PurchaseApproved
}
