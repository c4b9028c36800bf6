package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthInvalid covers malformed and mismatched request signatures alike,
	// so callers cannot distinguish the two.
	ErrAuthInvalid = errors.New("invalid request signature")
	ErrAuthExpired = errors.New("request timestamp outside allowed window")

	ErrDuplicateActivation = errors.New("duplicate activation")
	ErrFraudBlocked        = errors.New("user blocked for fraud review")
	ErrRateExceeded        = errors.New("rate exceeded")
	ErrAdmissionPaused     = errors.New("activation admission paused")

	ErrTokenExpired       = errors.New("redirect token expired")
	ErrTokenInvalid       = errors.New("redirect token invalid")
	ErrTokenMismatch      = errors.New("redirect token does not match activation")
	ErrActivationNotFound = errors.New("activation not found")

	// ErrDuplicatePurchase is returned together with the purchase that was
	// already recorded for the activation.
	ErrDuplicatePurchase   = errors.New("purchase already settled")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrFraudHold           = errors.New("account under fraud hold")
	ErrBelowMinimumPayout  = errors.New("amount below minimum payout")
)

// FraudHoldError carries the instant the hold lifts.
// errors.Is(err, ErrFraudHold) reports true for it.
type FraudHoldError struct {
	Until time.Time
}

func (e *FraudHoldError) Error() string {
	return fmt.Sprintf("%s until %s", ErrFraudHold.Error(), e.Until.UTC().Format(time.RFC3339))
}

func (e *FraudHoldError) Is(target error) bool {
	return target == ErrFraudHold
}
