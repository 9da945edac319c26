package models

import "time"

// Event types
const (
	EventTypePaymentConfirmed = "PAYMENT_CONFIRMED"
	EventTypePaymentPaid      = "PAYMENT_PAID"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypePaymentRefunded  = "PAYMENT_REFUNDED"
)

// Confirmation causes, carried on every payment event so consumers can tell
// which path produced the status change.
const (
	CauseWebhook       = "webhook"
	CauseBulkReconcile = "bulk_reconcile"
	CauseManualConfirm = "manual_confirm"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentEvent is published whenever the state machine applies a status
// change. OldOrderID differs from OrderID only on the bank-transfer
// confirmation path, where the provisional id is replaced.
type PaymentEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	OldOrderID    string `json:"old_order_id,omitempty"`
	PatientID     string `json:"patient_id"`
	ProductCode   string `json:"product_code"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	Status        string `json:"status"`
	Cause         string `json:"cause"`
	Provider      string `json:"provider,omitempty"`
	ProviderTxID  string `json:"provider_tx_id,omitempty"`
}
