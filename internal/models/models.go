package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Order is the unit of reconciliation. Bank-transfer orders start with a
// provisional id (bt_pending_<uuid>) which is replaced exactly once by a
// sequential bt_N id on confirmation.
type Order struct {
	ID             string         `db:"id" json:"id"`
	PatientID      string         `db:"patient_id" json:"patient_id"`
	ProductCode    string         `db:"product_code" json:"product_code"`
	Amount         int64          `db:"amount" json:"amount"`
	PaymentMethod  string         `db:"payment_method" json:"payment_method"`
	AccountName    string         `db:"account_name" json:"account_name,omitempty"`
	Status         string         `db:"status" json:"status"`
	ProviderTxID   sql.NullString `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	Memo           sql.NullString `db:"memo" json:"memo,omitempty"`
	RefundedAmount sql.NullInt64  `db:"refunded_amount" json:"refunded_amount,omitempty"`
	RefundedAt     sql.NullTime   `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// TransferRecord is one parsed row of an imported bank statement. It is never
// persisted; it lives only for the duration of one reconciliation request.
type TransferRecord struct {
	Date         time.Time `json:"date"`
	RawPayerName string    `json:"payer_name"`
	Amount       int64     `json:"amount"`
}

// MatchCandidate is the outcome of matching one transfer row against the
// pending order set.
type MatchCandidate struct {
	Transfer TransferRecord
	Order    *Order
	Matched  bool
	Reason   string
}

// ClinicalNote is written on the bank-transfer confirmation path so the
// treating clinician sees the reorder in the chart.
type ClinicalNote struct {
	ID          int64     `db:"id"`
	PatientID   string    `db:"patient_id"`
	ProductCode string    `db:"product_code"`
	Body        string    `db:"body"`
	CreatedAt   time.Time `db:"created_at"`
}

// Payment methods
const (
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
)

// Order statuses
const (
	OrderStatusPendingConfirmation = "pending_confirmation"
	OrderStatusConfirmed           = "confirmed"
	OrderStatusPaid                = "paid"
	OrderStatusFailed              = "failed"
	OrderStatusRefunded            = "refunded"
)

// Match failure reasons
const (
	MatchReasonNoMatch   = "no_match"
	MatchReasonAmbiguous = "ambiguous"
)

// BankTransferIDPrefix is the sequential id namespace for confirmed
// bank-transfer payments.
const BankTransferIDPrefix = "bt_"

// ProvisionalIDPrefix marks bank-transfer orders that have not been assigned
// their final sequential id yet.
const ProvisionalIDPrefix = "bt_pending_"

// NewProvisionalOrderID mints the id a bank-transfer order carries until
// confirmation assigns its sequential bt_N id.
func NewProvisionalOrderID() string {
	return ProvisionalIDPrefix + uuid.New().String()
}

// IsTerminal reports whether no further engine-driven transition is permitted
// from the given status.
func IsTerminal(status string) bool {
	return status == OrderStatusFailed || status == OrderStatusRefunded
}

// ProcessedEvent records a consumed notification event for worker idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
