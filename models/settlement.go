package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus is the internal outcome state of a money movement.
type SettlementStatus string

const (
	SettlementCompleted      SettlementStatus = "completed"
	SettlementProcessing     SettlementStatus = "processing"
	SettlementManualRequired SettlementStatus = "failed-manual-required"
)

// RefundOutcome says how a refund record reached its status.
type RefundOutcome string

const (
	OutcomeRefunded        RefundOutcome = "refunded"
	OutcomeNoRefund        RefundOutcome = "no_refund"
	OutcomeAlreadyRefunded RefundOutcome = "already_refunded"
	OutcomeManualRequired  RefundOutcome = "manual_required"
	OutcomePending         RefundOutcome = "pending"
)

// PaymentRecord is the captured deposit for a reservation.
type PaymentRecord struct {
	ID            string           `bson:"id" json:"id"`
	ReservationID string           `bson:"reservation_id" json:"reservation_id"`
	Amount        decimal.Decimal  `bson:"amount" json:"amount"`
	PlatformFee   decimal.Decimal  `bson:"platform_fee" json:"platform_fee"`
	Currency      string           `bson:"currency" json:"currency"`
	ChargeRef     string           `bson:"charge_ref" json:"charge_ref"`
	Status        SettlementStatus `bson:"status" json:"status"`
	Supersedes    string           `bson:"supersedes" json:"supersedes,omitempty"`
	CreatedAt     time.Time        `bson:"created_at" json:"created_at"`
}

// RefundRecord is written once per cancellation attempt. Corrections are new
// records pointing at the one they replace through Supersedes.
type RefundRecord struct {
	ID             string           `bson:"id" json:"id"`
	ReservationID  string           `bson:"reservation_id" json:"reservation_id"`
	OriginalAmount decimal.Decimal  `bson:"original_amount" json:"original_amount"`
	Percentage     int              `bson:"percentage" json:"percentage"`
	Amount         decimal.Decimal  `bson:"amount" json:"amount"`
	Currency       string           `bson:"currency" json:"currency"`
	PolicyTier     PolicyTier       `bson:"policy_tier" json:"policy_tier"`
	Reason         string           `bson:"reason" json:"reason"`
	Justification  string           `bson:"justification,omitempty" json:"justification,omitempty"`
	ProcessorRef   *string          `bson:"processor_ref" json:"processor_ref"`
	IdempotencyKey string           `bson:"idempotency_key" json:"-"`
	Status         SettlementStatus `bson:"status" json:"status"`
	Outcome        RefundOutcome    `bson:"outcome" json:"outcome"`
	FailureDetail  string           `bson:"failure_detail,omitempty" json:"failure_detail,omitempty"`
	RequestedBy    string           `bson:"requested_by,omitempty" json:"requested_by,omitempty"`
	Supersedes     string           `bson:"supersedes" json:"supersedes,omitempty"`
	CreatedAt      time.Time        `bson:"created_at" json:"created_at"`
}

// TransferRecord is the balance payout to the payee after the service is done.
type TransferRecord struct {
	ID             string           `bson:"id" json:"id"`
	ReservationID  string           `bson:"reservation_id" json:"reservation_id"`
	Amount         decimal.Decimal  `bson:"amount" json:"amount"`
	Currency       string           `bson:"currency" json:"currency"`
	Destination    string           `bson:"destination" json:"destination"`
	ProcessorRef   *string          `bson:"processor_ref" json:"processor_ref"`
	IdempotencyKey string           `bson:"idempotency_key" json:"-"`
	Status         SettlementStatus `bson:"status" json:"status"`
	FailureDetail  string           `bson:"failure_detail,omitempty" json:"failure_detail,omitempty"`
	Supersedes     string           `bson:"supersedes" json:"supersedes,omitempty"`
	CreatedAt      time.Time        `bson:"created_at" json:"created_at"`
}

// EntryKind tags a settlement history entry.
type EntryKind string

const (
	EntryPayment  EntryKind = "payment"
	EntryRefund   EntryKind = "refund"
	EntryTransfer EntryKind = "transfer"
)

// SettlementEntry is one item of a reservation's settlement history. Exactly one
// of the record pointers is set, matching Kind.
type SettlementEntry struct {
	Kind       EntryKind       `json:"kind"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payment    *PaymentRecord  `json:"payment,omitempty"`
	Refund     *RefundRecord   `json:"refund,omitempty"`
	Transfer   *TransferRecord `json:"transfer,omitempty"`
}
