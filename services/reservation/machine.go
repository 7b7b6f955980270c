package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	reservationRepo "shutterbook/database/repository/reservation"
	"shutterbook/models"
	"shutterbook/services/notification"
	"shutterbook/services/policy"
	"shutterbook/services/settlement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cancelAttempts = 3

// finishGrace bounds how long a finish may stay unsettled before it is treated
// as final; a finish that crashed midway never clears its marker.
const finishGrace = 2 * time.Minute

// Machine owns the reservation status field. Every status write goes through a
// compare-and-set on the status it read, so concurrent transitions cannot both win.
type Machine struct {
	reservations reservationRepo.ReservationRepository
	settler      Settler
	records      RecordReader
	notifier     notification.Notifier
	logger       *zap.Logger
	now          func() time.Time
}

func NewMachine(reservations reservationRepo.ReservationRepository, settler Settler, records RecordReader, notifier notification.Notifier, logger *zap.Logger) *Machine {
	return &Machine{
		reservations: reservations,
		settler:      settler,
		records:      records,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Create validates and stores a new reservation in pending, or confirmed when asked.
func (m *Machine) Create(ctx context.Context, in CreateInput) (*models.Reservation, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	if !policy.KnownUnit(in.DurationUnit) {
		m.logger.Warn("Unknown duration unit, treating quantity as hours",
			zap.String("unit", string(in.DurationUnit)))
	}

	now := m.now()
	status := models.StatusPending
	if in.Confirmed {
		status = models.StatusConfirmed
	}
	r := &models.Reservation{
		ID:            uuid.New().String(),
		CustomerID:    in.CustomerID,
		PayeeID:       in.PayeeID,
		ServiceID:     in.ServiceID,
		PayeeAccount:  in.PayeeAccount,
		Start:         in.Start,
		EndsAt:        policy.EndTime(in.Start, in.DurationQty, in.DurationUnit),
		DurationQty:   in.DurationQty,
		DurationUnit:  in.DurationUnit,
		TotalAmount:   in.TotalAmount.Round(2),
		DepositAmount: in.DepositAmount.Round(2),
		Currency:      strings.ToLower(in.Currency),
		PolicyTier:    in.PolicyTier,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if r.Currency == "" {
		r.Currency = models.DefaultCurrency
	}
	if err := m.reservations.Create(ctx, r); err != nil {
		return nil, err
	}
	m.logger.Info("Reservation created", zap.String("reservationID", r.ID), zap.String("status", string(r.Status)))
	return r, nil
}

func validateCreate(in *CreateInput) error {
	switch {
	case in.CustomerID == "" || in.PayeeID == "":
		return models.NewValidationError("customer and payee are required")
	case in.CustomerID == in.PayeeID:
		return models.NewValidationError("customer and payee must differ")
	case in.Start.IsZero():
		return models.NewValidationError("start is required")
	case in.DurationQty <= 0:
		return models.NewValidationError("duration quantity must be positive")
	case !in.TotalAmount.IsPositive():
		return models.NewValidationError("total amount must be positive")
	case in.DepositAmount.IsNegative() || in.DepositAmount.GreaterThan(in.TotalAmount):
		return models.NewValidationError("deposit must be between zero and the total amount")
	}
	switch in.PolicyTier {
	case "":
		in.PolicyTier = models.PolicyFlexible
	case models.PolicyFlexible, models.PolicyModerate, models.PolicyStrict:
	default:
		return models.NewValidationError(fmt.Sprintf("unknown policy tier %q", in.PolicyTier))
	}
	return nil
}

// Checkout opens the deposit payment for a reservation that is not paid yet.
func (m *Machine) Checkout(ctx context.Context, id string, deposit, fee decimal.Decimal, payeeAccount string) (*settlement.DepositSession, error) {
	r, err := m.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPending && r.Status != models.StatusConfirmed {
		return nil, models.NewInvalidTransition(id, r.Status, models.StatusPaid)
	}
	if payeeAccount == "" {
		payeeAccount = r.PayeeAccount
	}
	return m.settler.CreateDeposit(ctx, r, deposit, fee, payeeAccount)
}

// MarkPaid moves pending/confirmed to paid once the deposit charge succeeded.
// A repeat for the same charge is accepted so processor webhooks can be redelivered.
// A deposit paid after the reservation was cancelled is recorded for ops to
// return and reported as InvalidTransition.
func (m *Machine) MarkPaid(ctx context.Context, id, chargeRef string) (*models.Reservation, error) {
	r, err := m.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if chargeRef == "" {
		chargeRef = r.DepositChargeRef
	}
	if chargeRef == "" {
		return nil, models.NewValidationError("deposit charge reference is required")
	}

	if r.Status == models.StatusPaid && r.DepositChargeRef == chargeRef {
		return r, m.ensurePaymentRecord(ctx, r, chargeRef)
	}
	if r.Status == models.StatusCancelled && r.PaidAt == nil {
		if err := m.recordLateDeposit(ctx, r, chargeRef); err != nil {
			return nil, err
		}
		return nil, models.NewInvalidTransition(id, r.Status, models.StatusPaid)
	}
	if r.Status != models.StatusPending && r.Status != models.StatusConfirmed {
		return nil, models.NewInvalidTransition(id, r.Status, models.StatusPaid)
	}

	updated, err := m.reservations.Transition(ctx, id, r.Status, models.StatusPaid, reservationRepo.TransitionFields{
		At:               m.now(),
		DepositChargeRef: chargeRef,
	})
	if err != nil {
		return nil, m.transitionError(ctx, id, models.StatusPaid, err)
	}
	m.logger.Info("Reservation paid", zap.String("reservationID", id), zap.String("chargeRef", chargeRef))

	return updated, m.ensurePaymentRecord(ctx, updated, chargeRef)
}

func (m *Machine) ensurePaymentRecord(ctx context.Context, r *models.Reservation, chargeRef string) error {
	existing, err := m.records.CurrentPayment(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("loading payment record for reservation %s: %w", r.ID, err)
	}
	if existing != nil {
		return nil
	}
	if _, err := m.settler.RecordDeposit(ctx, r, chargeRef, r.PlatformFee); err != nil && !errors.Is(err, models.ErrDuplicateRecord) {
		return fmt.Errorf("recording deposit for reservation %s: %w", r.ID, err)
	}
	return nil
}

func (m *Machine) recordLateDeposit(ctx context.Context, r *models.Reservation, chargeRef string) error {
	existing, err := m.records.CurrentPayment(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("loading payment record for reservation %s: %w", r.ID, err)
	}
	if existing != nil {
		return nil
	}
	m.logger.Warn("Deposit paid after cancellation",
		zap.String("reservationID", r.ID), zap.String("chargeRef", chargeRef))
	if _, err := m.settler.RecordLateDeposit(ctx, r, chargeRef, r.DepositAmount, r.PlatformFee); err != nil && !errors.Is(err, models.ErrDuplicateRecord) {
		return fmt.Errorf("recording late deposit for reservation %s: %w", r.ID, err)
	}
	return nil
}

// Finish moves paid/confirmed to finished, pays out the balance and asks the
// customer for a review. If either side effect fails the status is restored so
// the next sweep retries; settlement is idempotent on the reservation id.
func (m *Machine) Finish(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := m.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPaid && r.Status != models.StatusConfirmed {
		return nil, models.NewInvalidTransition(id, r.Status, models.StatusFinished)
	}
	previous := r.Status

	updated, err := m.reservations.Transition(ctx, id, previous, models.StatusFinished, reservationRepo.TransitionFields{At: m.now()})
	if err != nil {
		return nil, m.transitionError(ctx, id, models.StatusFinished, err)
	}

	if err := m.settleFinished(ctx, updated); err != nil {
		if _, revertErr := m.reservations.Transition(ctx, id, models.StatusFinished, previous, reservationRepo.TransitionFields{At: m.now()}); revertErr != nil {
			m.logger.Error("Failed to revert unfinished settlement",
				zap.String("reservationID", id), zap.Error(revertErr))
		}
		m.logger.Warn("Finish rolled back, will retry on next sweep", zap.String("reservationID", id), zap.Error(err))
		return nil, fmt.Errorf("finishing reservation %s: %w", id, err)
	}

	if err := m.reservations.ClearSettling(ctx, id); err != nil {
		m.logger.Warn("Settling marker not cleared", zap.String("reservationID", id), zap.Error(err))
	} else {
		updated.SettlingSince = nil
	}
	m.logger.Info("Reservation finished", zap.String("reservationID", id))
	return updated, nil
}

func (m *Machine) settleFinished(ctx context.Context, r *models.Reservation) error {
	if r.RemainingBalance().IsPositive() {
		if _, err := m.settler.TransferBalance(ctx, r); err != nil {
			return err
		}
	}
	return m.notifier.Notify(ctx, models.Notification{
		ID:     uuid.New().String(),
		UserID: r.CustomerID,
		Payload: models.ReviewRequested{
			ReservationID: r.ID,
			PayeeID:       r.PayeeID,
			ServiceID:     r.ServiceID,
		},
		CorrelatedIDs: []string{r.ID},
		CreatedAt:     m.now(),
	})
}

// Cancel cancels a non-terminal reservation on behalf of one of its parties.
// The cancellation commits even when the refund cannot be completed.
func (m *Machine) Cancel(ctx context.Context, id, justification, requestedBy string) (*CancelResult, error) {
	for attempt := 1; ; attempt++ {
		r, err := m.reservations.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if requestedBy == "" || (requestedBy != r.CustomerID && requestedBy != r.PayeeID) {
			return nil, &models.EngineError{Code: models.CodeForbidden, Message: "only the customer or the payee can cancel", Err: models.ErrForbidden}
		}
		if m.finishing(r) {
			if attempt < cancelAttempts {
				continue
			}
			return nil, finishingError(id)
		}
		if r.Status.Terminal() {
			return nil, models.NewInvalidTransition(id, r.Status, models.StatusCancelled)
		}

		decision := policy.Evaluate(r, m.now(), justification)
		if !decision.Refundable {
			return nil, models.NewPolicyViolation(decision.Reason)
		}

		updated, err := m.reservations.Transition(ctx, id, r.Status, models.StatusCancelled, reservationRepo.TransitionFields{
			At:          m.now(),
			CancelledBy: requestedBy,
		})
		if err != nil {
			err = m.transitionError(ctx, id, models.StatusCancelled, err)
			if errors.Is(err, models.ErrStaleState) && attempt < cancelAttempts {
				continue
			}
			return nil, err
		}
		m.logger.Info("Reservation cancelled",
			zap.String("reservationID", id),
			zap.String("requestedBy", requestedBy),
			zap.Int("refundPercentage", decision.Percentage))

		if updated.PaidAt == nil && updated.DepositChargeRef != "" {
			if err := m.settler.VoidDeposit(ctx, updated); err != nil {
				m.logger.Warn("Open deposit not voided", zap.String("reservationID", id), zap.Error(err))
			}
		}

		result := &CancelResult{Reservation: updated, Decision: decision}
		refund, err := m.settler.ExecuteRefund(ctx, updated, decision, strings.TrimSpace(justification), requestedBy)
		if err != nil {
			m.logger.Error("Refund not recorded for cancelled reservation", zap.String("reservationID", id), zap.Error(err))
			return result, nil
		}
		result.Refund = refund
		return result, nil
	}
}

// Status returns the read model of a reservation.
func (m *Machine) Status(ctx context.Context, id string) (models.ReservationView, error) {
	r, err := m.reservations.GetByID(ctx, id)
	if err != nil {
		return models.ReservationView{}, err
	}
	return r.View(), nil
}

// History lists every settlement record of a reservation, oldest first.
func (m *Machine) History(ctx context.Context, id string) ([]models.SettlementEntry, error) {
	if _, err := m.reservations.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return m.records.History(ctx, id)
}

// transitionError turns a lost compare-and-set into InvalidTransition when the
// winner left the reservation in a terminal state. A finish whose payout is
// still running can roll back to paid, so it stays ErrStaleState and the caller
// may retry.
func (m *Machine) transitionError(ctx context.Context, id string, to models.ReservationStatus, err error) error {
	if !errors.Is(err, models.ErrStaleState) {
		return err
	}
	current, getErr := m.reservations.GetByID(ctx, id)
	if getErr != nil {
		return getErr
	}
	if m.finishing(current) {
		return finishingError(id)
	}
	if current.Status.Terminal() || current.Status == to {
		return models.NewInvalidTransition(id, current.Status, to)
	}
	return err
}

// finishing reports a finish that committed its status but not its payout yet.
func (m *Machine) finishing(r *models.Reservation) bool {
	return r.Status == models.StatusFinished && r.SettlingSince != nil && m.now().Sub(*r.SettlingSince) < finishGrace
}

func finishingError(id string) error {
	return fmt.Errorf("reservation %s is still finishing: %w", id, models.ErrStaleState)
}
