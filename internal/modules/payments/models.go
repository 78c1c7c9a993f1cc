package payments

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending = "Pending"
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

const (
	KindRent         = "rent"
	KindDeposit      = "deposit"
	KindSubscription = "subscription"
	KindPayout       = "b2c"
)

const AnomalyAssignmentConflict = "assignment_conflict"

// Payment is a tenant's rent or deposit attempt. It leaves Pending exactly
// once.
type Payment struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`
	TenantID       string          `gorm:"type:char(36);not null;index:ix_payments_tenant_unit,priority:1" json:"tenant_id"`
	UnitID         string          `gorm:"type:char(36);not null;index:ix_payments_tenant_unit,priority:2" json:"unit_id"`
	PaymentType    string          `gorm:"type:varchar(16);not null" json:"payment_type"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Phone          string          `gorm:"type:varchar(20);not null;index:ix_payments_phone" json:"phone"`
	Status         string          `gorm:"type:varchar(16);not null;index:ix_payments_status" json:"status"`
	GatewayReceipt *string         `gorm:"type:varchar(32)" json:"gateway_receipt,omitempty"`
	CorrelationID  *string         `gorm:"type:varchar(64);index:ix_payments_correlation_id" json:"correlation_id,omitempty"`
	ErrorMessage   *string         `gorm:"type:varchar(255)" json:"error_message,omitempty"`
	Anomaly        *string         `gorm:"type:varchar(32)" json:"anomaly,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;index:ix_payments_created_at" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// SubscriptionPayment settles into a landlord's Subscription. UserID may be
// unknown until the payer's phone is matched to a landlord.
type SubscriptionPayment struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`
	UserID         *string         `gorm:"type:char(36);index:ix_subscription_payments_user_id" json:"user_id,omitempty"`
	Phone          string          `gorm:"type:varchar(20);not null;index:ix_subscription_payments_phone" json:"phone"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Plan           string          `gorm:"type:varchar(32);not null" json:"plan"`
	Status         string          `gorm:"type:varchar(16);not null;index:ix_subscription_payments_status" json:"status"`
	GatewayReceipt *string         `gorm:"type:varchar(32);uniqueIndex:ux_subscription_payments_receipt" json:"gateway_receipt,omitempty"`
	CorrelationID  *string         `gorm:"type:varchar(64);index:ix_subscription_payments_correlation_id" json:"correlation_id,omitempty"`
	ErrorMessage   *string         `gorm:"type:varchar(255)" json:"error_message,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (SubscriptionPayment) TableName() string { return "subscription_payments" }

// Disbursement forwards a settled rent payment to the landlord.
type Disbursement struct {
	ID              string          `gorm:"type:char(36);primaryKey" json:"id"`
	PaymentID       string          `gorm:"type:char(36);not null;uniqueIndex:ux_disbursements_payment_id" json:"payment_id"`
	LandlordID      string          `gorm:"type:char(36);not null;index:ix_disbursements_landlord_id" json:"landlord_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Destination     string          `gorm:"type:varchar(20);not null" json:"destination"`
	DestinationType string          `gorm:"type:varchar(8);not null" json:"destination_type"`
	Status          string          `gorm:"type:varchar(16);not null;index:ix_disbursements_status" json:"status"`
	ConversationID  *string         `gorm:"type:varchar(64);index:ix_disbursements_conversation_id" json:"conversation_id,omitempty"`
	TransactionID   *string         `gorm:"type:varchar(32)" json:"transaction_id,omitempty"`
	ResultDesc      *string         `gorm:"type:varchar(255)" json:"result_desc,omitempty"`
	Attempts        int             `gorm:"not null;default:0" json:"attempts"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (Disbursement) TableName() string { return "disbursements" }

// CallbackEvent archives every webhook body as received.
type CallbackEvent struct {
	ID                string         `gorm:"type:char(36);primaryKey"`
	Kind              string         `gorm:"type:varchar(16);not null"`
	CheckoutRequestID string         `gorm:"type:varchar(64);index:ix_callback_events_checkout"`
	ResultCode        int            `gorm:"not null"`
	Payload           datatypes.JSON `gorm:"type:json;not null"`
	ResolvedID        *string        `gorm:"type:char(36)"`
	Outcome           string         `gorm:"type:varchar(32);not null"`
	ReceivedAt        time.Time      `gorm:"not null;index:ix_callback_events_received_at"`
}

func (CallbackEvent) TableName() string { return "callback_events" }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Payment{}, &SubscriptionPayment{}, &Disbursement{}, &CallbackEvent{}}
}
