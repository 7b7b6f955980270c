package reservation

import (
	"context"
	"time"

	"shutterbook/models"
	"shutterbook/services/policy"
	"shutterbook/services/settlement"

	"github.com/shopspring/decimal"
)

// Settler is the settlement side the state machine drives.
type Settler interface {
	CreateDeposit(ctx context.Context, s models.Settleable, deposit, fee decimal.Decimal, payeeAccount string) (*settlement.DepositSession, error)
	RecordDeposit(ctx context.Context, s models.Settleable, chargeRef string, fee decimal.Decimal) (*models.PaymentRecord, error)
	RecordLateDeposit(ctx context.Context, s models.Settleable, chargeRef string, amount, fee decimal.Decimal) (*models.PaymentRecord, error)
	VoidDeposit(ctx context.Context, s models.Settleable) error
	TransferBalance(ctx context.Context, s models.Settleable) (*models.TransferRecord, error)
	ExecuteRefund(ctx context.Context, s models.Settleable, decision policy.Decision, justification, requestedBy string) (*models.RefundRecord, error)
}

// RecordReader exposes the settlement records the machine reports on.
type RecordReader interface {
	CurrentPayment(ctx context.Context, reservationID string) (*models.PaymentRecord, error)
	History(ctx context.Context, reservationID string) ([]models.SettlementEntry, error)
}

// CreateInput describes a new reservation.
type CreateInput struct {
	CustomerID    string              `json:"customer_id" binding:"required"`
	PayeeID       string              `json:"payee_id" binding:"required"`
	ServiceID     string              `json:"service_id"`
	PayeeAccount  string              `json:"payee_account"`
	Start         time.Time           `json:"start" binding:"required"`
	DurationQty   float64             `json:"duration_qty" binding:"required"`
	DurationUnit  models.DurationUnit `json:"duration_unit" binding:"required"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	DepositAmount decimal.Decimal     `json:"deposit_amount"`
	Currency      string              `json:"currency"`
	PolicyTier    models.PolicyTier   `json:"policy_tier"`
	Confirmed     bool                `json:"confirmed"`
}

// CancelResult reports the committed cancellation and what happened with the money.
type CancelResult struct {
	Reservation *models.Reservation  `json:"reservation"`
	Decision    policy.Decision      `json:"decision"`
	Refund      *models.RefundRecord `json:"refund,omitempty"`
}
