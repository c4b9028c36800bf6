package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) GetBySubject(ctx context.Context, subjectID string) (domain.User, error) {
	var row userModel
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&row).Error; err != nil {
		return domain.User{}, notFound(err, domain.ErrNotFound)
	}
	return toUserDomain(row), nil
}

func (r *userRepository) GetOrCreate(ctx context.Context, subjectID string, now, holdUntil time.Time) (domain.User, error) {
	row := userModel{
		UserID:         uuid.NewString(),
		SubjectID:      subjectID,
		Balance:        decimal.Zero,
		TotalEarned:    decimal.Zero,
		FraudHoldUntil: holdUntil,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return domain.User{}, err
	}

	var stored userModel
	if err := db.Where("subject_id = ?", subjectID).First(&stored).Error; err != nil {
		return domain.User{}, notFound(err, domain.ErrNotFound)
	}
	return toUserDomain(stored), nil
}

func (r *userRepository) FlagFraud(ctx context.Context, userID, reason string, at time.Time) (bool, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&userModel{}).
		Where("user_id = ?", userID).
		Where("is_fraud_flagged = ?", false).
		Updates(map[string]any{
			"is_fraud_flagged": true,
			"fraud_reason":     reason,
			"updated_at":       at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	exists, err := rowExists(db, &userModel{}, "user_id", userID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}
