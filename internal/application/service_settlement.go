package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// Settle reconciles a reported purchase against its activation. A repeated
// settlement returns the stored purchase with domain.ErrDuplicatePurchase and
// never credits twice.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (domain.Purchase, error) {
	purchase, err := s.settle(ctx, req)
	switch {
	case err == nil:
		s.metrics.SettlementOutcome(string(purchase.Status))
	case errors.Is(err, domain.ErrDuplicatePurchase):
		s.metrics.SettlementOutcome("duplicate")
	default:
		s.metrics.SettlementOutcome("error")
	}
	return purchase, err
}

func (s *Service) settle(ctx context.Context, req SettleRequest) (domain.Purchase, error) {
	activationID := strings.TrimSpace(req.ActivationID)
	if activationID == "" {
		return domain.Purchase{}, fmt.Errorf("%w: activation_id is required", domain.ErrInvalidInput)
	}
	if _, err := uuid.Parse(activationID); err != nil {
		return domain.Purchase{}, fmt.Errorf("%w: activation_id must be a uuid", domain.ErrInvalidInput)
	}

	activation, err := s.activations.GetByID(ctx, activationID)
	if err != nil {
		if errors.Is(err, domain.ErrActivationNotFound) || errors.Is(err, domain.ErrNotFound) {
			return domain.Purchase{}, domain.ErrActivationNotFound
		}
		return domain.Purchase{}, fmt.Errorf("load activation: %w", err)
	}

	now := s.nowFn()
	purchaseDate := now
	if req.PurchaseDate != nil && !req.PurchaseDate.IsZero() {
		purchaseDate = req.PurchaseDate.UTC()
	}
	status := domain.ClassifyPurchaseTiming(activation.ActivatedAt, purchaseDate, s.cfg.MinPurchaseDelay, s.cfg.MaxPurchaseDelay)

	purchase := domain.Purchase{
		PurchaseID:       uuid.NewString(),
		ActivationID:     activation.ActivationID,
		UserID:           activation.UserID,
		OrderID:          strings.TrimSpace(req.OrderID),
		PurchaseDate:     purchaseDate,
		CommissionEarned: s.cfg.CommissionAmount,
		CashbackAmount:   s.cfg.CashbackAmount,
		Status:           status,
		CreatedAt:        now,
	}
	credit := decimal.Zero
	if status == domain.PurchaseApproved {
		credit = s.cfg.CashbackAmount
		purchase.ApprovedBy = "auto"
		if req.Source != "" {
			purchase.ApprovedBy = "auto:" + req.Source
		}
		purchase.ApprovedAt = &now
	}

	stored, err := s.settlements.Settle(ctx, ports.SettlementParams{Purchase: purchase, Credit: credit})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicatePurchase) {
			s.logger().InfoContext(ctx, "purchase already settled",
				"operation", "settle_purchase",
				"outcome", "duplicate",
				"activation_id", activation.ActivationID,
			)
			return stored, domain.ErrDuplicatePurchase
		}
		return domain.Purchase{}, fmt.Errorf("settle purchase: %w", err)
	}

	if status != domain.PurchaseApproved {
		s.logger().WarnContext(ctx, "purchase timing implausible",
			"operation", "settle_purchase",
			"outcome", "pending_verification",
			"activation_id", activation.ActivationID,
			"delay_seconds", int64(purchaseDate.Sub(activation.ActivatedAt).Seconds()),
		)
	}
	s.emit(ctx, "purchase.settled", stored.UserID, map[string]any{
		"purchase_id":     stored.PurchaseID,
		"activation_id":   stored.ActivationID,
		"user_id":         stored.UserID,
		"status":          string(stored.Status),
		"cashback_amount": stored.CashbackAmount.StringFixed(2),
		"credited":        credit.StringFixed(2),
	})
	return stored, nil
}
