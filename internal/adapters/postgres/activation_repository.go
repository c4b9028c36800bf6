package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

type activationRepository struct {
	db *gorm.DB
}

func (r *activationRepository) ExistsSince(ctx context.Context, subjectID, productID string, since time.Time) (bool, error) {
	n, err := countDuplicates(r.db.WithContext(ctx), subjectID, productID, since)
	return n > 0, err
}

func countDuplicates(tx *gorm.DB, subjectID, productID string, since time.Time) (int64, error) {
	var n int64
	err := tx.Model(&activationModel{}).
		Where("subject_id = ? AND product_id = ?", subjectID, productID).
		Where("activated_at >= ?", since).
		Count(&n).Error
	return n, err
}

func (r *activationRepository) CountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&activationModel{}).
		Where("subject_id = ? AND activated_at >= ?", subjectID, since).
		Count(&n).Error
	return int(n), err
}

func (r *activationRepository) CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&activationModel{}).
		Where("ip_address = ? AND activated_at >= ?", ipAddress, since).
		Count(&n).Error
	return int(n), err
}

// CreateWithinWindow serializes admissions per user by locking the user row,
// so the dedup re-check and the insert cannot interleave with a concurrent
// admission for the same subject.
func (r *activationRepository) CreateWithinWindow(ctx context.Context, activation domain.Activation, windowStart time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user userModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", activation.UserID).
			First(&user).Error; err != nil {
			return notFound(err, domain.ErrNotFound)
		}

		n, err := countDuplicates(tx, activation.SubjectID, activation.ProductID, windowStart)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateActivation
		}

		row := toActivationModel(activation)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&userModel{}).
			Where("user_id = ?", activation.UserID).
			Updates(map[string]any{
				"activation_count":   gorm.Expr("activation_count + 1"),
				"last_activation_at": activation.ActivatedAt,
				"updated_at":         activation.ActivatedAt,
			}).Error
	})
}

func (r *activationRepository) SetRedirectToken(ctx context.Context, activationID, token string) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&activationModel{}).
		Where("activation_id = ? AND redirect_token IS NULL", activationID).
		Update("redirect_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	exists, err := rowExists(db, &activationModel{}, "activation_id", activationID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrActivationNotFound
	}
	return nil
}

func (r *activationRepository) GetByID(ctx context.Context, activationID string) (domain.Activation, error) {
	var row activationModel
	if err := r.db.WithContext(ctx).Where("activation_id = ?", activationID).First(&row).Error; err != nil {
		return domain.Activation{}, notFound(err, domain.ErrActivationNotFound)
	}
	return toActivationDomain(row), nil
}

func (r *activationRepository) ExpirePending(ctx context.Context, now time.Time, limit int) (int, error) {
	db := r.db.WithContext(ctx)
	due := db.Model(&activationModel{}).
		Select("activation_id").
		Where("status = ? AND expires_at <= ?", string(domain.ActivationPending), now).
		Order("expires_at ASC")
	if limit > 0 {
		due = due.Limit(limit)
	}
	res := db.Model(&activationModel{}).
		Where("activation_id IN (?)", due).
		Where("status = ?", string(domain.ActivationPending)).
		Update("status", string(domain.ActivationExpired))
	return int(res.RowsAffected), res.Error
}

func (r *activationRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("activated_at < ?", cutoff).Delete(&activationModel{})
	return int(res.RowsAffected), res.Error
}

type clickRepository struct {
	db *gorm.DB
}

func (r *clickRepository) Append(ctx context.Context, click domain.ClickLog) error {
	row := clickLogModel{
		ClickID:      click.ClickID,
		ActivationID: click.ActivationID,
		ClickedAt:    click.ClickedAt,
		IPAddress:    click.IPAddress,
		UserAgent:    click.UserAgent,
		Referer:      click.Referer,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *clickRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("clicked_at < ?", cutoff).Delete(&clickLogModel{})
	return int(res.RowsAffected), res.Error
}
