package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the single lifecycle field of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusPaid      ReservationStatus = "paid"
	StatusFinished  ReservationStatus = "finished"
	StatusCancelled ReservationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s ReservationStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPaid, StatusFinished, StatusCancelled:
		return true
	}
	return false
}

// legacyStatuses maps the status spellings still sent by older clients.
var legacyStatuses = map[string]ReservationStatus{
	"en_attente": StatusPending,
	"confirmee":  StatusConfirmed,
	"confirme":   StatusConfirmed,
	"payee":      StatusPaid,
	"paye":       StatusPaid,
	"terminee":   StatusFinished,
	"termine":    StatusFinished,
	"annulee":    StatusCancelled,
	"annule":     StatusCancelled,
	"completed":  StatusFinished,
	"canceled":   StatusCancelled,
}

// ParseStatus accepts canonical names and legacy aliases.
func ParseStatus(raw string) (ReservationStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s := ReservationStatus(key); s.Valid() {
		return s, true
	}
	s, ok := legacyStatuses[key]
	return s, ok
}

// StatusFromLegacy folds the old (statut, paiement_effectue) pair into one status.
// A paid flag upgrades a pending/confirmed statut to paid; terminal statuts win.
func StatusFromLegacy(statut string, paiementEffectue bool) (ReservationStatus, bool) {
	s, ok := ParseStatus(statut)
	if !ok {
		return "", false
	}
	if paiementEffectue && (s == StatusPending || s == StatusConfirmed) {
		return StatusPaid, true
	}
	return s, true
}

// DurationUnit is the unit a reservation's duration quantity is expressed in.
type DurationUnit string

const (
	UnitHour    DurationUnit = "hour"
	UnitHalfDay DurationUnit = "half_day"
	UnitDay     DurationUnit = "day"
	UnitSession DurationUnit = "session"
	UnitPackage DurationUnit = "package"
)

// PolicyTier is the cancellation policy inherited from the listing at booking time.
type PolicyTier string

const (
	PolicyFlexible PolicyTier = "flexible"
	PolicyModerate PolicyTier = "moderate"
	PolicyStrict   PolicyTier = "strict"
)

// DefaultCurrency is used when a reservation does not carry one.
const DefaultCurrency = "eur"

// Reservation represents a single purchase of a service between a customer and a payee.
type Reservation struct {
	ID         string `bson:"id" json:"id"`
	CustomerID string `bson:"customer_id" json:"customer_id"`
	PayeeID    string `bson:"payee_id" json:"payee_id"`
	ServiceID  string `bson:"service_id" json:"service_id"`

	Start        time.Time    `bson:"start" json:"start"`
	EndsAt       time.Time    `bson:"ends_at" json:"ends_at"`
	DurationQty  float64      `bson:"duration_qty" json:"duration_qty"`
	DurationUnit DurationUnit `bson:"duration_unit" json:"duration_unit"`

	TotalAmount   decimal.Decimal `bson:"total_amount" json:"total_amount"`
	DepositAmount decimal.Decimal `bson:"deposit_amount" json:"deposit_amount"`
	PlatformFee   decimal.Decimal `bson:"platform_fee" json:"platform_fee"`
	Currency      string          `bson:"currency" json:"currency"`

	PolicyTier PolicyTier        `bson:"policy_tier" json:"policy_tier"`
	Status     ReservationStatus `bson:"status" json:"status"`

	// Processor linkage, populated only after the matching settlement step succeeds.
	PayeeAccount     string `bson:"payee_account,omitempty" json:"payee_account,omitempty"`
	DepositChargeRef string `bson:"deposit_charge_ref,omitempty" json:"deposit_charge_ref,omitempty"`
	TransferRef      string `bson:"transfer_ref,omitempty" json:"transfer_ref,omitempty"`
	RefundRef        string `bson:"refund_ref,omitempty" json:"refund_ref,omitempty"`

	CancelledBy string     `bson:"cancelled_by,omitempty" json:"cancelled_by,omitempty"`
	PaidAt      *time.Time `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	FinishedAt  *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	// SettlingSince is set while a finish is still paying out and may roll back.
	SettlingSince *time.Time `bson:"settling_since,omitempty" json:"-"`
	CancelledAt   *time.Time `bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
}

// RemainingBalance is total minus deposit, floored at zero.
func (r Reservation) RemainingBalance() decimal.Decimal {
	rem := r.TotalAmount.Sub(r.DepositAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Settleable is anything the policy engine and settlement orchestrator can work on:
// reservations today, service orders through the same code path.
type Settleable interface {
	SettlementKey() string
	Parties() (customerID, payeeID string)
	ServiceStart() time.Time
	TotalDue() decimal.Decimal
	CapturedAmount() decimal.Decimal
	OutstandingBalance() decimal.Decimal
	CancellationTier() PolicyTier
	DepositReference() string
	PayoutAccount() string
	SettlementCurrency() string
}

var _ Settleable = Reservation{}

func (r Reservation) SettlementKey() string { return r.ID }

func (r Reservation) Parties() (string, string) { return r.CustomerID, r.PayeeID }

func (r Reservation) ServiceStart() time.Time { return r.Start }

func (r Reservation) TotalDue() decimal.Decimal { return r.TotalAmount }

// CapturedAmount is the deposit, counted only once the linked charge was paid.
func (r Reservation) CapturedAmount() decimal.Decimal {
	if r.DepositChargeRef == "" || r.PaidAt == nil {
		return decimal.Zero
	}
	return r.DepositAmount
}

func (r Reservation) OutstandingBalance() decimal.Decimal { return r.RemainingBalance() }

func (r Reservation) CancellationTier() PolicyTier { return r.PolicyTier }

func (r Reservation) DepositReference() string { return r.DepositChargeRef }

func (r Reservation) PayoutAccount() string { return r.PayeeAccount }

func (r Reservation) SettlementCurrency() string {
	if r.Currency == "" {
		return DefaultCurrency
	}
	return r.Currency
}

// ReservationView is what collaborators get back from a status lookup.
type ReservationView struct {
	ID               string            `json:"id"`
	Status           ReservationStatus `json:"status"`
	TotalAmount      decimal.Decimal   `json:"total_amount"`
	DepositAmount    decimal.Decimal   `json:"deposit_amount"`
	RemainingBalance decimal.Decimal   `json:"remaining_balance"`
	Currency         string            `json:"currency"`
	Start            time.Time         `json:"start"`
	EndsAt           time.Time         `json:"ends_at"`
	PolicyTier       PolicyTier        `json:"policy_tier"`
}

// View projects a reservation onto the read model.
func (r Reservation) View() ReservationView {
	return ReservationView{
		ID:               r.ID,
		Status:           r.Status,
		TotalAmount:      r.TotalAmount,
		DepositAmount:    r.DepositAmount,
		RemainingBalance: r.RemainingBalance(),
		Currency:         r.SettlementCurrency(),
		Start:            r.Start,
		EndsAt:           r.EndsAt,
		PolicyTier:       r.PolicyTier,
	}
}
