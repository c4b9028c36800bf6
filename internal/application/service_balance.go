package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

// GetBalance reports the account summary. Unknown subjects read as an empty account.
func (s *Service) GetBalance(ctx context.Context, subjectID string) (BalanceView, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return BalanceView{}, fmt.Errorf("%w: subject is required", domain.ErrInvalidInput)
	}
	view := BalanceView{
		SubjectID:      subjectID,
		Balance:        decimal.Zero,
		TotalEarned:    decimal.Zero,
		PendingPayouts: decimal.Zero,
	}
	user, err := s.users.GetBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return view, nil
		}
		return BalanceView{}, fmt.Errorf("load user: %w", err)
	}
	pending, err := s.payouts.SumOpenByUser(ctx, user.UserID)
	if err != nil {
		return BalanceView{}, fmt.Errorf("sum open payouts: %w", err)
	}

	view.Balance = user.Balance
	view.TotalEarned = user.TotalEarned
	view.ActivationCount = user.ActivationCount
	view.PendingPayouts = pending
	if user.OnFraudHold(s.nowFn()) {
		until := user.FraudHoldUntil
		view.FraudHold = true
		view.FraudHoldUntil = &until
	}
	return view, nil
}
