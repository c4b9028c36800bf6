package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// RequestPayout reserves the amount from the balance and queues the payout.
// Checks run in order: amount, account, fraud hold, balance.
func (s *Service) RequestPayout(ctx context.Context, req PayoutRequest) (PayoutReceipt, error) {
	receipt, err := s.requestPayout(ctx, req)
	if err != nil {
		s.metrics.PayoutOutcome(payoutRejection(err))
	} else {
		s.metrics.PayoutOutcome("requested")
	}
	return receipt, err
}

func (s *Service) requestPayout(ctx context.Context, req PayoutRequest) (PayoutReceipt, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	identifier := strings.TrimSpace(req.PayoutIdentifier)
	if subjectID == "" || identifier == "" {
		return PayoutReceipt{}, fmt.Errorf("%w: subject and payout identifier are required", domain.ErrInvalidInput)
	}
	method, err := domain.ParsePayoutMethod(req.Method)
	if err != nil {
		return PayoutReceipt{}, err
	}
	amount := req.Amount.Round(2)
	if amount.LessThan(s.cfg.MinimumPayout) {
		return PayoutReceipt{}, fmt.Errorf("%w: minimum payout is %s", domain.ErrBelowMinimumPayout, s.cfg.MinimumPayout.StringFixed(2))
	}
	if err := s.enforceRateLimit(ctx, "payout:"+subjectID, s.cfg.PayoutRateLimit, s.cfg.PayoutRateWindow); err != nil {
		return PayoutReceipt{}, err
	}

	user, err := s.users.GetBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return PayoutReceipt{}, domain.ErrNotFound
		}
		return PayoutReceipt{}, fmt.Errorf("load user: %w", err)
	}
	now := s.nowFn()
	if user.OnFraudHold(now) {
		return PayoutReceipt{}, &domain.FraudHoldError{Until: user.FraudHoldUntil}
	}
	if user.Balance.LessThan(amount) {
		return PayoutReceipt{}, domain.ErrInsufficientBalance
	}

	payout := domain.Payout{
		PayoutID:         uuid.NewString(),
		UserID:           user.UserID,
		Amount:           amount,
		Method:           method,
		PayoutIdentifier: identifier,
		Status:           domain.PayoutPending,
		RequestedAt:      now,
	}
	if err := s.payouts.Reserve(ctx, payout); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return PayoutReceipt{}, err
		}
		return PayoutReceipt{}, fmt.Errorf("reserve payout: %w", err)
	}

	s.emit(ctx, "payout.requested", user.UserID, map[string]any{
		"payout_id": payout.PayoutID,
		"user_id":   user.UserID,
		"amount":    amount.StringFixed(2),
		"method":    string(method),
	})
	s.logger().InfoContext(ctx, "payout reserved",
		"operation", "request_payout",
		"outcome", "success",
		"payout_id", payout.PayoutID,
		"user_id", user.UserID,
	)
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(payout.PayoutID)
	}

	return PayoutReceipt{
		PayoutID:    payout.PayoutID,
		Amount:      amount,
		Method:      method,
		Status:      domain.PayoutPending,
		RequestedAt: now,
	}, nil
}

// ProcessPayout drives a pending payout through the executor. A failed,
// timed out or missing executor result fails the payout and refunds it once.
func (s *Service) ProcessPayout(ctx context.Context, payoutID string) error {
	claimed, err := s.payouts.MarkProcessing(ctx, payoutID, s.nowFn())
	if err != nil {
		return fmt.Errorf("claim payout: %w", err)
	}
	if !claimed {
		return nil
	}
	payout, err := s.payouts.Get(ctx, payoutID)
	if err != nil {
		return fmt.Errorf("load payout: %w", err)
	}

	if s.executor == nil {
		return s.failPayout(ctx, payout, "no payout executor configured")
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutorTimeout)
	result, execErr := s.executor.Execute(execCtx, ports.PayoutInstruction{
		PayoutID:   payout.PayoutID,
		Method:     payout.Method,
		Amount:     payout.Amount,
		Identifier: payout.PayoutIdentifier,
	})
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)
	cancel()

	// A provider success is final even when it lands on the deadline.
	switch {
	case execErr == nil && result.Success:
	case timedOut:
		return s.failPayout(ctx, payout, "payout executor timed out")
	case execErr != nil:
		return s.failPayout(ctx, payout, execErr.Error())
	case !result.Success:
		reason := result.Message
		if reason == "" {
			reason = "payout rejected by provider"
		}
		return s.failPayout(ctx, payout, reason)
	}

	completed, err := s.payouts.Complete(ctx, payout.PayoutID, result.TransactionID, s.nowFn())
	if err != nil {
		return fmt.Errorf("complete payout: %w", err)
	}
	if !completed {
		return s.reconcileLateSuccess(ctx, payout, result.TransactionID)
	}
	s.metrics.PayoutOutcome("completed")
	s.emit(ctx, "payout.completed", payout.UserID, map[string]any{
		"payout_id":      payout.PayoutID,
		"user_id":        payout.UserID,
		"amount":         payout.Amount.StringFixed(2),
		"transaction_id": result.TransactionID,
	})
	s.logger().InfoContext(ctx, "payout completed",
		"operation", "process_payout",
		"outcome", "success",
		"payout_id", payout.PayoutID,
	)
	return nil
}

// reconcileLateSuccess handles an executor success for a payout that some
// other path already closed. A refunded payout that the provider paid needs
// an operator; a payout already completed is a harmless replay.
func (s *Service) reconcileLateSuccess(ctx context.Context, payout domain.Payout, transactionID string) error {
	current, err := s.payouts.Get(ctx, payout.PayoutID)
	if err != nil {
		return fmt.Errorf("load payout after late success: %w", err)
	}
	if current.Status == domain.PayoutCompleted {
		return nil
	}
	s.metrics.PayoutOutcome("reconciliation_required")
	s.emit(ctx, "payout.reconciliation_required", payout.UserID, map[string]any{
		"payout_id":      payout.PayoutID,
		"user_id":        payout.UserID,
		"amount":         payout.Amount.StringFixed(2),
		"transaction_id": transactionID,
		"ledger_status":  string(current.Status),
	})
	s.logger().ErrorContext(ctx, "provider paid a payout the ledger already closed",
		"operation", "process_payout",
		"outcome", "reconciliation_required",
		"payout_id", payout.PayoutID,
		"user_id", payout.UserID,
		"transaction_id", transactionID,
		"ledger_status", string(current.Status),
	)
	return nil
}

func (s *Service) failPayout(ctx context.Context, payout domain.Payout, reason string) error {
	refunded, err := s.payouts.FailAndRefund(ctx, payout.PayoutID, reason, s.nowFn())
	if err != nil {
		return fmt.Errorf("fail payout: %w", err)
	}
	if !refunded {
		return nil
	}
	s.metrics.PayoutOutcome("failed")
	s.emit(ctx, "payout.failed", payout.UserID, map[string]any{
		"payout_id": payout.PayoutID,
		"user_id":   payout.UserID,
		"amount":    payout.Amount.StringFixed(2),
		"reason":    reason,
	})
	s.logger().WarnContext(ctx, "payout failed and refunded",
		"operation", "process_payout",
		"outcome", "failure",
		"payout_id", payout.PayoutID,
		"reason", reason,
	)
	return nil
}

// GetPayout returns the current state of one payout.
func (s *Service) GetPayout(ctx context.Context, payoutID string) (domain.Payout, error) {
	if _, err := uuid.Parse(payoutID); err != nil {
		return domain.Payout{}, fmt.Errorf("%w: payout_id must be a uuid", domain.ErrInvalidInput)
	}
	return s.payouts.Get(ctx, payoutID)
}

// RecoverStalePayouts fails and refunds payouts that never reached a
// terminal state. Pending payouts age from the request. Processing payouts
// age from the start of their executor call, so a payout that waited in the
// queue is never refunded while its executor call may still succeed.
func (s *Service) RecoverStalePayouts(ctx context.Context) (int, error) {
	now := s.nowFn()
	age := s.cfg.ExecutorTimeout + s.cfg.StalePayoutAge
	cutoffs := domain.StaleCutoffs{
		PendingBefore:    now.Add(-age),
		ProcessingBefore: now.Add(-age),
	}
	stale, err := s.payouts.ListStale(ctx, cutoffs, s.cfg.MaintenanceBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale payouts: %w", err)
	}
	recovered := 0
	for _, p := range stale {
		refunded, err := s.payouts.RefundStale(ctx, p.PayoutID, "payout executor timed out", now, cutoffs)
		if err != nil {
			return recovered, fmt.Errorf("recover payout %s: %w", p.PayoutID, err)
		}
		if !refunded {
			continue
		}
		recovered++
		s.metrics.PayoutOutcome("failed")
		s.emit(ctx, "payout.failed", p.UserID, map[string]any{
			"payout_id": p.PayoutID,
			"user_id":   p.UserID,
			"amount":    p.Amount.StringFixed(2),
			"reason":    "payout executor timed out",
		})
		s.logger().WarnContext(ctx, "stale payout refunded",
			"operation", "recover_stale_payouts",
			"outcome", "failure",
			"payout_id", p.PayoutID,
			"status", string(p.Status),
		)
	}
	return recovered, nil
}

func payoutRejection(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrFraudHold):
		return "fraud_hold"
	case errors.Is(err, domain.ErrBelowMinimumPayout):
		return "below_minimum"
	case errors.Is(err, domain.ErrRateExceeded):
		return "rate_exceeded"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound):
		return "invalid"
	default:
		return "error"
	}
}
