package events

import "time"

// PaymentEvent is the body of payments.settled / payments.failed.
type PaymentEvent struct {
	PaymentID string    `json:"payment_id"`
	Kind      string    `json:"kind"` // rent | deposit | subscription
	Status    string    `json:"status"`
	Amount    string    `json:"amount"`
	Receipt   string    `json:"receipt,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	UnitID    string    `json:"unit_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Plan      string    `json:"plan,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type DisbursementEvent struct {
	DisbursementID string    `json:"disbursement_id"`
	PaymentID      string    `json:"payment_id"`
	LandlordID     string    `json:"landlord_id"`
	Amount         string    `json:"amount"`
	Status         string    `json:"status"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	At             time.Time `json:"at"`
}
