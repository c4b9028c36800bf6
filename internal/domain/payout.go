package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PayoutMethod string

const (
	PayoutMethodEsewa  PayoutMethod = "esewa"
	PayoutMethodKhalti PayoutMethod = "khalti"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout is a withdrawal request. The amount leaves the balance when the
// payout is created and returns exactly once if it fails.
type Payout struct {
	PayoutID            string
	UserID              string
	Amount              decimal.Decimal
	Method              PayoutMethod
	PayoutIdentifier    string
	Status              PayoutStatus
	TransactionID       string
	FailureReason       string
	RequestedAt         time.Time
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	RefundedAt          *time.Time
}

// StaleCutoffs decides when an open payout counts as abandoned. Pending
// payouts never reached the executor and age from the request; processing
// payouts age from the start of the executor call.
type StaleCutoffs struct {
	PendingBefore    time.Time
	ProcessingBefore time.Time
}

func (c StaleCutoffs) Covers(p Payout) bool {
	switch p.Status {
	case PayoutPending:
		return p.RequestedAt.Before(c.PendingBefore)
	case PayoutProcessing:
		started := p.RequestedAt
		if p.ProcessingStartedAt != nil {
			started = *p.ProcessingStartedAt
		}
		return started.Before(c.ProcessingBefore)
	default:
		return false
	}
}

func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

func ParsePayoutMethod(raw string) (PayoutMethod, error) {
	switch PayoutMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PayoutMethodEsewa:
		return PayoutMethodEsewa, nil
	case PayoutMethodKhalti:
		return PayoutMethodKhalti, nil
	default:
		return "", fmt.Errorf("%w: unsupported payout method %q", ErrInvalidInput, raw)
	}
}
