package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

type userModel struct {
	UserID           string          `gorm:"column:user_id;type:uuid;primaryKey"`
	SubjectID        string          `gorm:"column:subject_id"`
	Balance          decimal.Decimal `gorm:"column:balance;type:numeric(12,2)"`
	TotalEarned      decimal.Decimal `gorm:"column:total_earned;type:numeric(12,2)"`
	ActivationCount  int             `gorm:"column:activation_count"`
	LastActivationAt *time.Time      `gorm:"column:last_activation_at"`
	FraudHoldUntil   time.Time       `gorm:"column:fraud_hold_until"`
	IsFraudFlagged   bool            `gorm:"column:is_fraud_flagged"`
	FraudReason      string          `gorm:"column:fraud_reason"`
	PayoutMethod     string          `gorm:"column:payout_method"`
	PayoutIdentifier string          `gorm:"column:payout_identifier"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

func (userModel) TableName() string { return "users" }

type activationModel struct {
	ActivationID  string          `gorm:"column:activation_id;type:uuid;primaryKey"`
	UserID        string          `gorm:"column:user_id;type:uuid"`
	SubjectID     string          `gorm:"column:subject_id"`
	ProductID     string          `gorm:"column:product_id"`
	ProductTitle  string          `gorm:"column:product_title"`
	ProductPrice  decimal.Decimal `gorm:"column:product_price;type:numeric(12,2)"`
	ProductURL    string          `gorm:"column:product_url"`
	SellerInfo    string          `gorm:"column:seller_info"`
	Signature     string          `gorm:"column:signature"`
	IPAddress     string          `gorm:"column:ip_address"`
	UserAgent     string          `gorm:"column:user_agent"`
	RedirectToken *string         `gorm:"column:redirect_token"`
	Status        string          `gorm:"column:status"`
	ActivatedAt   time.Time       `gorm:"column:activated_at"`
	ExpiresAt     time.Time       `gorm:"column:expires_at"`
}

func (activationModel) TableName() string { return "activations" }

type clickLogModel struct {
	ClickID      string    `gorm:"column:click_id;type:uuid;primaryKey"`
	ActivationID string    `gorm:"column:activation_id;type:uuid"`
	ClickedAt    time.Time `gorm:"column:clicked_at"`
	IPAddress    string    `gorm:"column:ip_address"`
	UserAgent    string    `gorm:"column:user_agent"`
	Referer      string    `gorm:"column:referer"`
}

func (clickLogModel) TableName() string { return "click_logs" }

type purchaseModel struct {
	PurchaseID       string          `gorm:"column:purchase_id;type:uuid;primaryKey"`
	ActivationID     string          `gorm:"column:activation_id;type:uuid"`
	UserID           string          `gorm:"column:user_id;type:uuid"`
	OrderID          string          `gorm:"column:order_id"`
	PurchaseDate     time.Time       `gorm:"column:purchase_date"`
	CommissionEarned decimal.Decimal `gorm:"column:commission_earned;type:numeric(12,2)"`
	CashbackAmount   decimal.Decimal `gorm:"column:cashback_amount;type:numeric(12,2)"`
	Status           string          `gorm:"column:status"`
	ApprovedBy       string          `gorm:"column:approved_by"`
	ApprovedAt       *time.Time      `gorm:"column:approved_at"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
}

func (purchaseModel) TableName() string { return "purchases" }

type payoutModel struct {
	PayoutID            string          `gorm:"column:payout_id;type:uuid;primaryKey"`
	UserID              string          `gorm:"column:user_id;type:uuid"`
	Amount              decimal.Decimal `gorm:"column:amount;type:numeric(12,2)"`
	Method              string          `gorm:"column:method"`
	PayoutIdentifier    string          `gorm:"column:payout_identifier"`
	Status              string          `gorm:"column:status"`
	TransactionID       string          `gorm:"column:transaction_id"`
	FailureReason       string          `gorm:"column:failure_reason"`
	RequestedAt         time.Time       `gorm:"column:requested_at"`
	ProcessingStartedAt *time.Time      `gorm:"column:processing_started_at"`
	ProcessedAt         *time.Time      `gorm:"column:processed_at"`
	RefundedAt          *time.Time      `gorm:"column:refunded_at"`
}

func (payoutModel) TableName() string { return "payouts" }

type outboxModel struct {
	OutboxID       string     `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      string     `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "outbox_events" }
