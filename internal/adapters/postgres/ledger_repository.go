package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

type settlementRepository struct {
	db *gorm.DB
}

func (r *settlementRepository) Settle(ctx context.Context, params ports.SettlementParams) (domain.Purchase, error) {
	p := params.Purchase
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toPurchaseModel(p)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		res := tx.Model(&activationModel{}).
			Where("activation_id = ?", p.ActivationID).
			Update("status", string(domain.ActivationCompleted))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrActivationNotFound
		}

		if !params.Credit.IsPositive() {
			return nil
		}
		res = tx.Model(&userModel{}).
			Where("user_id = ?", p.UserID).
			Updates(map[string]any{
				"balance":      gorm.Expr("balance + ?", params.Credit),
				"total_earned": gorm.Expr("total_earned + ?", params.Credit),
				"updated_at":   p.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err == nil {
		return p, nil
	}
	if !isUniqueViolation(err) {
		return domain.Purchase{}, err
	}
	existing, getErr := r.GetByActivation(ctx, p.ActivationID)
	if getErr != nil {
		return domain.Purchase{}, getErr
	}
	return existing, domain.ErrDuplicatePurchase
}

func (r *settlementRepository) GetByActivation(ctx context.Context, activationID string) (domain.Purchase, error) {
	var row purchaseModel
	if err := r.db.WithContext(ctx).Where("activation_id = ?", activationID).First(&row).Error; err != nil {
		return domain.Purchase{}, notFound(err, domain.ErrNotFound)
	}
	return toPurchaseDomain(row), nil
}

type payoutRepository struct {
	db *gorm.DB
}

// Reserve relies on the conditional debit: the balance never goes negative
// because the UPDATE matches no row when it would.
func (r *payoutRepository) Reserve(ctx context.Context, payout domain.Payout) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userModel{}).
			Where("user_id = ? AND balance >= ?", payout.UserID, payout.Amount).
			Updates(map[string]any{
				"balance":           gorm.Expr("balance - ?", payout.Amount),
				"payout_method":     string(payout.Method),
				"payout_identifier": payout.PayoutIdentifier,
				"updated_at":        payout.RequestedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInsufficientBalance
		}
		row := toPayoutModel(payout)
		return tx.Create(&row).Error
	})
}

func (r *payoutRepository) MarkProcessing(ctx context.Context, payoutID string, at time.Time) (bool, error) {
	return r.transition(ctx, payoutID, []string{string(domain.PayoutPending)}, map[string]any{
		"status":                string(domain.PayoutProcessing),
		"processing_started_at": at,
	})
}

func (r *payoutRepository) Complete(ctx context.Context, payoutID, transactionID string, at time.Time) (bool, error) {
	return r.transition(ctx, payoutID, openPayoutStatuses, map[string]any{
		"status":         string(domain.PayoutCompleted),
		"transaction_id": transactionID,
		"processed_at":   at,
	})
}

func (r *payoutRepository) transition(ctx context.Context, payoutID string, from []string, updates map[string]any) (bool, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&payoutModel{}).
		Where("payout_id = ? AND status IN ?", payoutID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	exists, err := rowExists(db, &payoutModel{}, "payout_id", payoutID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *payoutRepository) FailAndRefund(ctx context.Context, payoutID, reason string, at time.Time) (bool, error) {
	return r.failAndRefund(ctx, payoutID, reason, at, func(p domain.Payout) bool { return !p.Status.IsTerminal() })
}

func (r *payoutRepository) RefundStale(ctx context.Context, payoutID, reason string, at time.Time, cutoffs domain.StaleCutoffs) (bool, error) {
	return r.failAndRefund(ctx, payoutID, reason, at, cutoffs.Covers)
}

// failAndRefund locks the payout row and refunds it only when eligible
// still holds for the locked state.
func (r *payoutRepository) failAndRefund(ctx context.Context, payoutID, reason string, at time.Time, eligible func(domain.Payout) bool) (bool, error) {
	refunded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row payoutModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payout_id = ?", payoutID).
			First(&row).Error; err != nil {
			return notFound(err, domain.ErrNotFound)
		}
		if !eligible(toPayoutDomain(row)) {
			return nil
		}

		if err := tx.Model(&payoutModel{}).
			Where("payout_id = ?", payoutID).
			Updates(map[string]any{
				"status":         string(domain.PayoutFailed),
				"failure_reason": reason,
				"processed_at":   at,
				"refunded_at":    at,
			}).Error; err != nil {
			return err
		}

		res := tx.Model(&userModel{}).
			Where("user_id = ?", row.UserID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", row.Amount),
				"updated_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		refunded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return refunded, nil
}

func (r *payoutRepository) Get(ctx context.Context, payoutID string) (domain.Payout, error) {
	var row payoutModel
	if err := r.db.WithContext(ctx).Where("payout_id = ?", payoutID).First(&row).Error; err != nil {
		return domain.Payout{}, notFound(err, domain.ErrNotFound)
	}
	return toPayoutDomain(row), nil
}

func (r *payoutRepository) SumOpenByUser(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&payoutModel{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND status IN ?", userID, openPayoutStatuses).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *payoutRepository) ListStale(ctx context.Context, cutoffs domain.StaleCutoffs, limit int) ([]domain.Payout, error) {
	q := r.db.WithContext(ctx).
		Where("(status = ? AND requested_at < ?) OR (status = ? AND COALESCE(processing_started_at, requested_at) < ?)",
			string(domain.PayoutPending), cutoffs.PendingBefore,
			string(domain.PayoutProcessing), cutoffs.ProcessingBefore).
		Order("requested_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []payoutModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Payout, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPayoutDomain(row))
	}
	return out, nil
}
