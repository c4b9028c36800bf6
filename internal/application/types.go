package application

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/viralforge/cashback-activation-service/internal/domain"
)

type FraudThresholds struct {
	Window         time.Duration
	MaxPerSubject  int
	MaxPerIP       int
	RapidWindow    time.Duration
	RapidFireLimit int
}

type Config struct {
	ServiceName string

	RedirectBaseURL string
	ProductBaseURL  string
	AffiliateCode   string
	AffiliateSource string

	// ProductHosts extends the hosts a client-supplied product URL may point
	// at. The host of ProductBaseURL is always allowed.
	ProductHosts []string

	DedupWindow   time.Duration
	ActivationTTL time.Duration
	RedirectTTL   time.Duration

	ActivationRateLimit  int
	ActivationRateWindow time.Duration
	PayoutRateLimit      int
	PayoutRateWindow     time.Duration

	Fraud       FraudThresholds
	NewUserHold time.Duration

	CashbackAmount   decimal.Decimal
	CommissionAmount decimal.Decimal
	MinPurchaseDelay time.Duration
	MaxPurchaseDelay time.Duration

	MinimumPayout   decimal.Decimal
	ExecutorTimeout time.Duration
	StalePayoutAge  time.Duration

	RetentionPeriod  time.Duration
	MaintenanceBatch int
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		ServiceName:          "Cashback-Activation-Service",
		ProductBaseURL:       "https://www.daraz.com.np",
		AffiliateSource:      "daraz_cashback_ext",
		DedupWindow:          24 * time.Hour,
		ActivationTTL:        24 * time.Hour,
		RedirectTTL:          5 * time.Minute,
		ActivationRateLimit:  10,
		ActivationRateWindow: time.Hour,
		PayoutRateLimit:      5,
		PayoutRateWindow:     24 * time.Hour,
		Fraud: FraudThresholds{
			Window:         24 * time.Hour,
			MaxPerSubject:  10,
			MaxPerIP:       20,
			RapidWindow:    5 * time.Minute,
			RapidFireLimit: 5,
		},
		NewUserHold:      30 * 24 * time.Hour,
		CashbackAmount:   decimal.NewFromInt(5),
		CommissionAmount: decimal.NewFromInt(30),
		MinPurchaseDelay: time.Minute,
		MaxPurchaseDelay: 30 * 24 * time.Hour,
		MinimumPayout:    decimal.NewFromInt(100),
		ExecutorTimeout:  30 * time.Second,
		StalePayoutAge:   10 * time.Minute,
		RetentionPeriod:  365 * 24 * time.Hour,
		MaintenanceBatch: 500,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.ProductBaseURL == "" {
		c.ProductBaseURL = d.ProductBaseURL
	}
	if c.AffiliateSource == "" {
		c.AffiliateSource = d.AffiliateSource
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = d.DedupWindow
	}
	if c.ActivationTTL <= 0 {
		c.ActivationTTL = d.ActivationTTL
	}
	if c.RedirectTTL <= 0 {
		c.RedirectTTL = d.RedirectTTL
	}
	if c.ActivationRateWindow <= 0 {
		c.ActivationRateWindow = d.ActivationRateWindow
	}
	if c.PayoutRateWindow <= 0 {
		c.PayoutRateWindow = d.PayoutRateWindow
	}
	if c.Fraud.Window <= 0 {
		c.Fraud.Window = d.Fraud.Window
	}
	if c.Fraud.MaxPerSubject <= 0 {
		c.Fraud.MaxPerSubject = d.Fraud.MaxPerSubject
	}
	if c.Fraud.MaxPerIP <= 0 {
		c.Fraud.MaxPerIP = d.Fraud.MaxPerIP
	}
	if c.Fraud.RapidWindow <= 0 {
		c.Fraud.RapidWindow = d.Fraud.RapidWindow
	}
	if c.Fraud.RapidFireLimit <= 0 {
		c.Fraud.RapidFireLimit = d.Fraud.RapidFireLimit
	}
	if c.NewUserHold <= 0 {
		c.NewUserHold = d.NewUserHold
	}
	if c.CashbackAmount.IsZero() {
		c.CashbackAmount = d.CashbackAmount
	}
	if c.CommissionAmount.IsZero() {
		c.CommissionAmount = d.CommissionAmount
	}
	if c.MinPurchaseDelay <= 0 {
		c.MinPurchaseDelay = d.MinPurchaseDelay
	}
	if c.MaxPurchaseDelay <= 0 {
		c.MaxPurchaseDelay = d.MaxPurchaseDelay
	}
	if c.MinimumPayout.IsZero() {
		c.MinimumPayout = d.MinimumPayout
	}
	if c.ExecutorTimeout <= 0 {
		c.ExecutorTimeout = d.ExecutorTimeout
	}
	if c.StalePayoutAge <= 0 {
		c.StalePayoutAge = d.StalePayoutAge
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = d.RetentionPeriod
	}
	if c.MaintenanceBatch <= 0 {
		c.MaintenanceBatch = d.MaintenanceBatch
	}
	return c
}

type AdmitRequest struct {
	SubjectID       string
	ProductID       string
	ProductTitle    string
	ProductPrice    decimal.Decimal
	ProductURL      string
	SellerInfo      string
	TimestampMillis int64
	Signature       string
	IPAddress       string
	UserAgent       string
}

type AdmitResult struct {
	ActivationID string
	RedirectURL  string
	ExpiresIn    int
	ExpiresAt    time.Time
}

type ClickMeta struct {
	IPAddress string
	UserAgent string
	Referer   string
}

type SettleRequest struct {
	ActivationID string
	OrderID      string
	PurchaseDate *time.Time
	Source       string
}

type PayoutRequest struct {
	SubjectID        string
	Amount           decimal.Decimal
	Method           string
	PayoutIdentifier string
	IPAddress        string
}

type PayoutReceipt struct {
	PayoutID    string
	Amount      decimal.Decimal
	Method      domain.PayoutMethod
	Status      domain.PayoutStatus
	RequestedAt time.Time
}

type BalanceView struct {
	SubjectID       string
	Balance         decimal.Decimal
	TotalEarned     decimal.Decimal
	ActivationCount int
	PendingPayouts  decimal.Decimal
	FraudHold       bool
	FraudHoldUntil  *time.Time
}

type MaintenanceReport struct {
	ExpiredActivations int
	PurgedActivations  int
	PurgedClicks       int
	RecoveredPayouts   int
}
