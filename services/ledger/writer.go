package ledger

import (
	"context"
	"fmt"
	"time"

	reservationRepo "shutterbook/database/repository/reservation"
	settlementRepo "shutterbook/database/repository/settlement"
	"shutterbook/models"
	"shutterbook/services/notification"
	"shutterbook/services/settlement"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LinkUpdater stores processor references on the reservation. It cannot touch status.
type LinkUpdater interface {
	SetSettlementRefs(ctx context.Context, id string, refs reservationRepo.SettlementRefs) error
}

// Writer is the only component that writes settlement records. Every write is
// followed by one notification per affected party; notification failures are
// logged and never undo the write.
type Writer struct {
	records  settlementRepo.SettlementRepository
	links    LinkUpdater
	notifier notification.Notifier
	alerts   notification.OpsAlerter
	logger   *zap.Logger
	now      func() time.Time
}

func NewWriter(records settlementRepo.SettlementRepository, links LinkUpdater, notifier notification.Notifier, alerts notification.OpsAlerter, logger *zap.Logger) *Writer {
	return &Writer{
		records:  records,
		links:    links,
		notifier: notifier,
		alerts:   alerts,
		logger:   logger,
		now:      time.Now,
	}
}

var _ settlement.Ledger = (*Writer)(nil)

func (w *Writer) RecordPayment(ctx context.Context, s models.Settleable, record *models.PaymentRecord) error {
	if err := w.records.AppendPayment(ctx, record); err != nil {
		return fmt.Errorf("appending payment record: %w", err)
	}
	w.logger.Info("Payment recorded",
		zap.String("reservationID", record.ReservationID),
		zap.String("recordID", record.ID),
		zap.String("amount", record.Amount.StringFixed(2)))

	customerID, payeeID := s.Parties()
	payload := models.DepositReceived{
		ReservationID: record.ReservationID,
		Amount:        record.Amount,
		Currency:      record.Currency,
	}
	w.notify(ctx, customerID, payload, record.ReservationID, record.ID)
	w.notify(ctx, payeeID, payload, record.ReservationID, record.ID)
	return nil
}

func (w *Writer) RecordLatePayment(ctx context.Context, s models.Settleable, record *models.PaymentRecord) error {
	if err := w.records.AppendPayment(ctx, record); err != nil {
		return fmt.Errorf("appending payment record: %w", err)
	}
	w.logger.Warn("Payment recorded for cancelled reservation",
		zap.String("reservationID", record.ReservationID),
		zap.String("recordID", record.ID),
		zap.String("chargeRef", record.ChargeRef),
		zap.String("amount", record.Amount.StringFixed(2)))

	w.alert(ctx, notification.OpsAlert{
		ReservationID: record.ReservationID,
		RecordKind:    models.EntryPayment,
		RecordID:      record.ID,
		Status:        models.SettlementManualRequired,
		Detail:        fmt.Sprintf("deposit %s of %s %s paid after cancellation; refund it", record.ChargeRef, record.Amount.StringFixed(2), record.Currency),
	})
	return nil
}

func (w *Writer) RecordRefund(ctx context.Context, s models.Settleable, record *models.RefundRecord) error {
	if err := w.records.AppendRefund(ctx, record); err != nil {
		return fmt.Errorf("appending refund record: %w", err)
	}
	w.logger.Info("Refund recorded",
		zap.String("reservationID", record.ReservationID),
		zap.String("recordID", record.ID),
		zap.String("status", string(record.Status)),
		zap.String("outcome", string(record.Outcome)),
		zap.Int("percentage", record.Percentage),
		zap.String("amount", record.Amount.StringFixed(2)))

	if record.ProcessorRef != nil {
		w.link(ctx, record.ReservationID, reservationRepo.SettlementRefs{RefundRef: *record.ProcessorRef})
	}

	customerID, payeeID := s.Parties()
	payload := models.ReservationCancelled{
		ReservationID: record.ReservationID,
		CancelledBy:   record.RequestedBy,
		Percentage:    record.Percentage,
		Amount:        record.Amount,
		Currency:      record.Currency,
		Status:        record.Status,
		Outcome:       record.Outcome,
		Reason:        record.Reason,
	}
	w.notify(ctx, customerID, payload, record.ReservationID, record.ID)
	w.notify(ctx, payeeID, payload, record.ReservationID, record.ID)

	if record.Status == models.SettlementManualRequired {
		w.alert(ctx, notification.OpsAlert{
			ReservationID: record.ReservationID,
			RecordKind:    models.EntryRefund,
			RecordID:      record.ID,
			Status:        record.Status,
			Detail:        record.FailureDetail,
		})
	}
	return nil
}

// RecordRefundIntent appends the processing record written ahead of a processor
// refund call. Parties are notified once the outcome is recorded. When the intent
// cannot be stored the refund is not attempted, so ops is alerted instead.
func (w *Writer) RecordRefundIntent(ctx context.Context, s models.Settleable, record *models.RefundRecord) error {
	if err := w.records.AppendRefund(ctx, record); err != nil {
		w.alert(ctx, notification.OpsAlert{
			ReservationID: record.ReservationID,
			RecordKind:    models.EntryRefund,
			RecordID:      record.ID,
			Status:        models.SettlementManualRequired,
			Detail:        fmt.Sprintf("refund of %s %s not issued: %v", record.Amount.StringFixed(2), record.Currency, err),
		})
		return fmt.Errorf("appending refund intent: %w", err)
	}
	w.logger.Info("Refund intent recorded",
		zap.String("reservationID", record.ReservationID),
		zap.String("recordID", record.ID),
		zap.String("amount", record.Amount.StringFixed(2)))
	return nil
}

func (w *Writer) RecordTransfer(ctx context.Context, s models.Settleable, record *models.TransferRecord) error {
	if err := w.records.AppendTransfer(ctx, record); err != nil {
		return fmt.Errorf("appending transfer record: %w", err)
	}
	w.logger.Info("Transfer recorded",
		zap.String("reservationID", record.ReservationID),
		zap.String("recordID", record.ID),
		zap.String("status", string(record.Status)),
		zap.String("amount", record.Amount.StringFixed(2)))

	if record.ProcessorRef != nil {
		w.link(ctx, record.ReservationID, reservationRepo.SettlementRefs{TransferRef: *record.ProcessorRef})
	}

	_, payeeID := s.Parties()
	w.notify(ctx, payeeID, models.BalanceTransferred{
		ReservationID: record.ReservationID,
		Amount:        record.Amount,
		Currency:      record.Currency,
		Status:        record.Status,
	}, record.ReservationID, record.ID)

	if record.Status == models.SettlementManualRequired {
		w.alert(ctx, notification.OpsAlert{
			ReservationID: record.ReservationID,
			RecordKind:    models.EntryTransfer,
			RecordID:      record.ID,
			Status:        record.Status,
			Detail:        record.FailureDetail,
		})
	}
	return nil
}

func (w *Writer) link(ctx context.Context, reservationID string, refs reservationRepo.SettlementRefs) {
	if err := w.links.SetSettlementRefs(ctx, reservationID, refs); err != nil {
		w.logger.Error("Failed to store processor reference on reservation",
			zap.String("reservationID", reservationID), zap.Error(err))
	}
}

func (w *Writer) notify(ctx context.Context, userID string, payload models.NotificationPayload, correlated ...string) {
	if userID == "" {
		return
	}
	n := models.Notification{
		ID:            uuid.New().String(),
		UserID:        userID,
		Payload:       payload,
		CorrelatedIDs: correlated,
		CreatedAt:     w.now(),
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.logger.Warn("Notification not delivered",
			zap.String("userID", userID),
			zap.String("kind", string(payload.Kind())),
			zap.Error(err))
	}
}

func (w *Writer) alert(ctx context.Context, alert notification.OpsAlert) {
	alert.RaisedAt = w.now()
	if err := w.alerts.Alert(ctx, alert); err != nil {
		w.logger.Error("Ops alert not delivered", zap.String("reservationID", alert.ReservationID), zap.Error(err))
	}
}
