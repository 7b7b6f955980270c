package reservationRepo

import (
	"context"
	"time"

	"shutterbook/models"

	"github.com/shopspring/decimal"
)

// DepositLink is what checkout persists once the processor accepted the deposit charge.
type DepositLink struct {
	ChargeRef    string
	Amount       decimal.Decimal
	PlatformFee  decimal.Decimal
	PayeeAccount string
}

// SettlementRefs carries processor references; empty fields are left untouched.
type SettlementRefs struct {
	TransferRef string
	RefundRef   string
}

// TransitionFields are written together with a status change.
type TransitionFields struct {
	At               time.Time
	DepositChargeRef string
	CancelledBy      string
}

// ActiveFilter selects reservations for the expiration sweep. Results are ordered
// by id so callers can page with AfterID until a short page comes back.
type ActiveFilter struct {
	Statuses []models.ReservationStatus
	// EndedBefore keeps reservations whose EndsAt is at or before the cutoff.
	// Rows stored without EndsAt are matched on Start instead.
	EndedBefore time.Time
	// PartyID restricts the result to reservations where the id is customer or payee.
	PartyID string
	AfterID string
	Limit   int
}

// ReservationRepository is the persistence boundary for reservations. Status is
// only ever changed through Transition, which is a compare-and-set on the status.
type ReservationRepository interface {
	Create(ctx context.Context, reservation *models.Reservation) error
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
	// Transition moves the reservation from `from` to `to` only if its stored status
	// still equals `from`; otherwise it returns models.ErrStaleState.
	Transition(ctx context.Context, id string, from, to models.ReservationStatus, fields TransitionFields) (*models.Reservation, error)
	AttachDeposit(ctx context.Context, id string, link DepositLink) error
	SetSettlementRefs(ctx context.Context, id string, refs SettlementRefs) error
	// ClearSettling marks a finished reservation's payout as done; it can no longer roll back.
	ClearSettling(ctx context.Context, id string) error
	ListActive(ctx context.Context, filter ActiveFilter) ([]models.Reservation, error)
}

// applyTransition mutates r the same way both drivers persist a transition.
func applyTransition(r *models.Reservation, from, to models.ReservationStatus, fields TransitionFields) {
	at := fields.At
	r.Status = to
	r.UpdatedAt = at

	// Reverting a finish that could not settle only restores the status.
	if from == models.StatusFinished {
		r.FinishedAt = nil
		r.SettlingSince = nil
		return
	}
	switch to {
	case models.StatusPaid:
		r.PaidAt = &at
		if fields.DepositChargeRef != "" {
			r.DepositChargeRef = fields.DepositChargeRef
		}
	case models.StatusFinished:
		r.FinishedAt = &at
		r.SettlingSince = &at
	case models.StatusCancelled:
		r.CancelledAt = &at
		r.CancelledBy = fields.CancelledBy
	}
}
