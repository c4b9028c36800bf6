package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

type Repositories struct {
	Users       ports.UserRepository
	Activations ports.ActivationRepository
	Clicks      ports.ClickRepository
	Settlements ports.SettlementRepository
	Payouts     ports.PayoutRepository
	Outbox      ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Users:       &userRepository{db: db},
		Activations: &activationRepository{db: db},
		Clicks:      &clickRepository{db: db},
		Settlements: &settlementRepository{db: db},
		Payouts:     &payoutRepository{db: db},
		Outbox:      &outboxRepository{db: db},
	}
}

// notFound maps gorm's missing-row error onto the given domain sentinel.
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func rowExists(tx *gorm.DB, model any, column, id string) (bool, error) {
	var n int64
	if err := tx.Model(model).Where(column+" = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

var openPayoutStatuses = []string{string(domain.PayoutPending), string(domain.PayoutProcessing)}
