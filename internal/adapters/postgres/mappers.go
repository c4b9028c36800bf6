package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func toUserDomain(m userModel) domain.User {
	return domain.User{
		UserID:           m.UserID,
		SubjectID:        m.SubjectID,
		Balance:          m.Balance,
		TotalEarned:      m.TotalEarned,
		ActivationCount:  m.ActivationCount,
		LastActivationAt: m.LastActivationAt,
		FraudHoldUntil:   m.FraudHoldUntil.UTC(),
		IsFraudFlagged:   m.IsFraudFlagged,
		FraudReason:      m.FraudReason,
		PayoutMethod:     m.PayoutMethod,
		PayoutIdentifier: m.PayoutIdentifier,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
}

func toActivationModel(a domain.Activation) activationModel {
	m := activationModel{
		ActivationID: a.ActivationID,
		UserID:       a.UserID,
		SubjectID:    a.SubjectID,
		ProductID:    a.ProductID,
		ProductTitle: a.ProductTitle,
		ProductPrice: a.ProductPrice,
		ProductURL:   a.ProductURL,
		SellerInfo:   a.SellerInfo,
		Signature:    a.Signature,
		IPAddress:    a.IPAddress,
		UserAgent:    a.UserAgent,
		Status:       string(a.Status),
		ActivatedAt:  a.ActivatedAt,
		ExpiresAt:    a.ExpiresAt,
	}
	if a.RedirectToken != "" {
		token := a.RedirectToken
		m.RedirectToken = &token
	}
	return m
}

func toActivationDomain(m activationModel) domain.Activation {
	a := domain.Activation{
		ActivationID: m.ActivationID,
		UserID:       m.UserID,
		SubjectID:    m.SubjectID,
		ProductID:    m.ProductID,
		ProductTitle: m.ProductTitle,
		ProductPrice: m.ProductPrice,
		ProductURL:   m.ProductURL,
		SellerInfo:   m.SellerInfo,
		Signature:    m.Signature,
		IPAddress:    m.IPAddress,
		UserAgent:    m.UserAgent,
		Status:       domain.ActivationStatus(m.Status),
		ActivatedAt:  m.ActivatedAt.UTC(),
		ExpiresAt:    m.ExpiresAt.UTC(),
	}
	if m.RedirectToken != nil {
		a.RedirectToken = *m.RedirectToken
	}
	return a
}

func toPurchaseModel(p domain.Purchase) purchaseModel {
	return purchaseModel{
		PurchaseID:       p.PurchaseID,
		ActivationID:     p.ActivationID,
		UserID:           p.UserID,
		OrderID:          p.OrderID,
		PurchaseDate:     p.PurchaseDate,
		CommissionEarned: p.CommissionEarned,
		CashbackAmount:   p.CashbackAmount,
		Status:           string(p.Status),
		ApprovedBy:       p.ApprovedBy,
		ApprovedAt:       p.ApprovedAt,
		CreatedAt:        p.CreatedAt,
	}
}

func toPurchaseDomain(m purchaseModel) domain.Purchase {
	return domain.Purchase{
		PurchaseID:       m.PurchaseID,
		ActivationID:     m.ActivationID,
		UserID:           m.UserID,
		OrderID:          m.OrderID,
		PurchaseDate:     m.PurchaseDate.UTC(),
		CommissionEarned: m.CommissionEarned,
		CashbackAmount:   m.CashbackAmount,
		Status:           domain.PurchaseStatus(m.Status),
		ApprovedBy:       m.ApprovedBy,
		ApprovedAt:       m.ApprovedAt,
		CreatedAt:        m.CreatedAt.UTC(),
	}
}

func toPayoutModel(p domain.Payout) payoutModel {
	return payoutModel{
		PayoutID:            p.PayoutID,
		UserID:              p.UserID,
		Amount:              p.Amount,
		Method:              string(p.Method),
		PayoutIdentifier:    p.PayoutIdentifier,
		Status:              string(p.Status),
		TransactionID:       p.TransactionID,
		FailureReason:       p.FailureReason,
		RequestedAt:         p.RequestedAt,
		ProcessingStartedAt: p.ProcessingStartedAt,
		ProcessedAt:         p.ProcessedAt,
		RefundedAt:          p.RefundedAt,
	}
}

func toPayoutDomain(m payoutModel) domain.Payout {
	return domain.Payout{
		PayoutID:            m.PayoutID,
		UserID:              m.UserID,
		Amount:              m.Amount,
		Method:              domain.PayoutMethod(m.Method),
		PayoutIdentifier:    m.PayoutIdentifier,
		Status:              domain.PayoutStatus(m.Status),
		TransactionID:       m.TransactionID,
		FailureReason:       m.FailureReason,
		RequestedAt:         m.RequestedAt.UTC(),
		ProcessingStartedAt: m.ProcessingStartedAt,
		ProcessedAt:         m.ProcessedAt,
		RefundedAt:          m.RefundedAt,
	}
}
