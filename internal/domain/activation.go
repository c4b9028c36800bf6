package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ActivationStatus string

const (
	ActivationPending   ActivationStatus = "pending"
	ActivationCompleted ActivationStatus = "completed"
	ActivationExpired   ActivationStatus = "expired"
	ActivationRejected  ActivationStatus = "rejected"
)

// Activation records a user's intent to buy one product through the affiliate link.
// At most one activation exists per (subject, product) inside the dedup window.
type Activation struct {
	ActivationID  string
	UserID        string
	SubjectID     string
	ProductID     string
	ProductTitle  string
	ProductPrice  decimal.Decimal
	ProductURL    string
	SellerInfo    string
	Signature     string
	IPAddress     string
	UserAgent     string
	RedirectToken string
	Status        ActivationStatus
	ActivatedAt   time.Time
	ExpiresAt     time.Time
}

// ClickLog is an append-only record of one redirect through the affiliate link.
type ClickLog struct {
	ClickID      string
	ActivationID string
	ClickedAt    time.Time
	IPAddress    string
	UserAgent    string
	Referer      string
}
