package settlement

import (
	"context"
	"fmt"
	"time"

	reservationRepo "shutterbook/database/repository/reservation"
	settlementRepo "shutterbook/database/repository/settlement"
	"shutterbook/models"
	"shutterbook/services/policy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the single writer of settlement records.
type Ledger interface {
	RecordPayment(ctx context.Context, s models.Settleable, record *models.PaymentRecord) error
	// RecordLatePayment stores a payment that arrived after cancellation and asks ops to return it.
	RecordLatePayment(ctx context.Context, s models.Settleable, record *models.PaymentRecord) error
	RecordRefund(ctx context.Context, s models.Settleable, record *models.RefundRecord) error
	// RecordRefundIntent appends a processing record before the processor is called.
	RecordRefundIntent(ctx context.Context, s models.Settleable, record *models.RefundRecord) error
	RecordTransfer(ctx context.Context, s models.Settleable, record *models.TransferRecord) error
}

// RecordReader is the read side of the settlement records.
type RecordReader interface {
	CurrentRefund(ctx context.Context, reservationID string) (*models.RefundRecord, error)
	CurrentTransfer(ctx context.Context, reservationID string) (*models.TransferRecord, error)
	ListProcessingRefunds(ctx context.Context, page settlementRepo.ProcessingPage) ([]models.RefundRecord, error)
	ListProcessingTransfers(ctx context.Context, page settlementRepo.ProcessingPage) ([]models.TransferRecord, error)
}

// DepositStore links a checkout to its reservation and loads reservations for reconciliation.
type DepositStore interface {
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
	AttachDeposit(ctx context.Context, id string, link reservationRepo.DepositLink) error
}

// Options tune the orchestrator; zero values fall back to defaults.
type Options struct {
	Currency         string
	ProcessorTimeout time.Duration
	Now              func() time.Time
}

// Orchestrator drives processor calls for deposits, refunds and balance payouts
// and hands every outcome to the ledger.
type Orchestrator struct {
	processor Processor
	ledger    Ledger
	records   RecordReader
	deposits  DepositStore
	logger    *zap.Logger
	currency  string
	timeout   time.Duration
	now       func() time.Time
}

func NewOrchestrator(processor Processor, ledger Ledger, records RecordReader, deposits DepositStore, logger *zap.Logger, opts Options) *Orchestrator {
	o := &Orchestrator{
		processor: processor,
		ledger:    ledger,
		records:   records,
		deposits:  deposits,
		logger:    logger,
		currency:  opts.Currency,
		timeout:   opts.ProcessorTimeout,
		now:       opts.Now,
	}
	if o.currency == "" {
		o.currency = models.DefaultCurrency
	}
	if o.timeout <= 0 {
		o.timeout = 15 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// DepositSession is what the client needs to confirm the deposit payment.
type DepositSession struct {
	ReservationID string          `json:"reservation_id"`
	ChargeRef     string          `json:"charge_ref"`
	ClientSecret  string          `json:"client_secret"`
	Amount        decimal.Decimal `json:"amount"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	Currency      string          `json:"currency"`
}

func (o *Orchestrator) currencyOf(s models.Settleable) string {
	if c := s.SettlementCurrency(); c != "" {
		return c
	}
	return o.currency
}

// CreateDeposit charges the deposit with the platform fee withheld and the
// remainder routed to the payee account, then links the charge to the reservation.
func (o *Orchestrator) CreateDeposit(ctx context.Context, s models.Settleable, deposit, fee decimal.Decimal, payeeAccount string) (*DepositSession, error) {
	id := s.SettlementKey()
	switch {
	case !deposit.IsPositive():
		return nil, models.NewValidationError("deposit must be greater than zero")
	case deposit.GreaterThan(s.TotalDue()):
		return nil, models.NewValidationError("deposit cannot exceed the reservation total")
	case fee.IsNegative():
		return nil, models.NewValidationError("platform fee cannot be negative")
	case fee.GreaterThan(deposit):
		return nil, models.NewValidationError("platform fee cannot exceed the deposit")
	case payeeAccount == "":
		return nil, models.NewValidationError("payee account is required")
	}

	amount, feeMinor := ToMinorUnits(deposit), ToMinorUnits(fee)
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	res, err := o.processor.Charge(callCtx, ChargeRequest{
		Amount:         amount,
		ApplicationFee: feeMinor,
		Currency:       o.currencyOf(s),
		Destination:    payeeAccount,
		CorrelationID:  id,
		IdempotencyKey: fmt.Sprintf("deposit:%s:%d:%d", id, amount, feeMinor),
	})
	if err != nil {
		return nil, fmt.Errorf("deposit charge for reservation %s: %w", id, err)
	}

	link := reservationRepo.DepositLink{
		ChargeRef:    res.Ref,
		Amount:       deposit.Round(2),
		PlatformFee:  fee.Round(2),
		PayeeAccount: payeeAccount,
	}
	if err := o.deposits.AttachDeposit(ctx, id, link); err != nil {
		return nil, fmt.Errorf("linking deposit %s to reservation %s: %w", res.Ref, id, err)
	}

	o.logger.Info("Deposit session created",
		zap.String("reservationID", id),
		zap.String("chargeRef", res.Ref),
		zap.String("amount", link.Amount.StringFixed(2)))

	return &DepositSession{
		ReservationID: id,
		ChargeRef:     res.Ref,
		ClientSecret:  res.ClientSecret,
		Amount:        link.Amount,
		PlatformFee:   link.PlatformFee,
		Currency:      o.currencyOf(s),
	}, nil
}

// VoidDeposit cancels the open deposit charge of a reservation that was never
// paid, so the customer can no longer complete it.
func (o *Orchestrator) VoidDeposit(ctx context.Context, s models.Settleable) error {
	ref := s.DepositReference()
	if ref == "" {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.processor.CancelCharge(callCtx, ref); err != nil {
		return fmt.Errorf("voiding deposit %s for reservation %s: %w", ref, s.SettlementKey(), err)
	}
	o.logger.Info("Deposit voided", zap.String("reservationID", s.SettlementKey()), zap.String("chargeRef", ref))
	return nil
}

// RecordLateDeposit writes the payment record for a deposit that succeeded after
// its reservation was cancelled. The cancellation already closed the refund
// chain, so the money is handed to ops to return.
func (o *Orchestrator) RecordLateDeposit(ctx context.Context, s models.Settleable, chargeRef string, amount, fee decimal.Decimal) (*models.PaymentRecord, error) {
	record := &models.PaymentRecord{
		ID:            uuid.New().String(),
		ReservationID: s.SettlementKey(),
		Amount:        amount,
		PlatformFee:   fee,
		Currency:      o.currencyOf(s),
		ChargeRef:     chargeRef,
		Status:        models.SettlementCompleted,
		CreatedAt:     o.now(),
	}
	if err := o.ledger.RecordLatePayment(ctx, s, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordDeposit writes the payment record for a deposit that was paid.
func (o *Orchestrator) RecordDeposit(ctx context.Context, s models.Settleable, chargeRef string, fee decimal.Decimal) (*models.PaymentRecord, error) {
	record := &models.PaymentRecord{
		ID:            uuid.New().String(),
		ReservationID: s.SettlementKey(),
		Amount:        s.CapturedAmount(),
		PlatformFee:   fee,
		Currency:      o.currencyOf(s),
		ChargeRef:     chargeRef,
		Status:        models.SettlementCompleted,
		CreatedAt:     o.now(),
	}
	if err := o.ledger.RecordPayment(ctx, s, record); err != nil {
		return nil, err
	}
	return record, nil
}

// TransferBalance pays the outstanding balance out to the payee. An existing
// record for the reservation is returned as is, so the call is safe to repeat.
// Processor failures are recorded (processing or failed-manual-required) rather
// than returned; only ledger failures come back as errors.
func (o *Orchestrator) TransferBalance(ctx context.Context, s models.Settleable) (*models.TransferRecord, error) {
	id := s.SettlementKey()
	amount := s.OutstandingBalance()
	if !amount.IsPositive() {
		return nil, models.NewValidationError("no outstanding balance to transfer")
	}

	current, err := o.records.CurrentTransfer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading transfer for reservation %s: %w", id, err)
	}
	if current != nil {
		return current, nil
	}

	record := &models.TransferRecord{
		ID:             uuid.New().String(),
		ReservationID:  id,
		Amount:         amount.Round(2),
		Currency:       o.currencyOf(s),
		Destination:    s.PayoutAccount(),
		IdempotencyKey: "transfer:" + id,
		CreatedAt:      o.now(),
	}

	if record.Destination == "" {
		record.Status = models.SettlementManualRequired
		record.FailureDetail = "payee has no connected account"
	} else {
		res, err := o.callTransfer(ctx, record)
		out := classify(res, err)
		record.Status, record.ProcessorRef, record.FailureDetail = out.status, out.ref, out.detail
	}

	if err := o.ledger.RecordTransfer(ctx, s, record); err != nil {
		return nil, fmt.Errorf("recording transfer for reservation %s: %w", id, err)
	}
	return record, nil
}

func (o *Orchestrator) callTransfer(ctx context.Context, record *models.TransferRecord) (OperationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.processor.Transfer(callCtx, TransferRequest{
		Amount:         ToMinorUnits(record.Amount),
		Currency:       record.Currency,
		Destination:    record.Destination,
		CorrelationID:  record.ReservationID,
		IdempotencyKey: record.IdempotencyKey,
	})
}

// ExecuteRefund refunds decision.Percentage of the captured amount. It never
// returns processor errors: the outcome is always a record. A current record
// for the reservation is returned without contacting the processor again.
// A processing intent is written before the processor call and superseded by
// the outcome, so a refund that moved money always leaves a record to reconcile.
func (o *Orchestrator) ExecuteRefund(ctx context.Context, s models.Settleable, decision policy.Decision, justification, requestedBy string) (*models.RefundRecord, error) {
	id := s.SettlementKey()

	current, err := o.records.CurrentRefund(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading refund for reservation %s: %w", id, err)
	}
	if current != nil {
		return current, nil
	}

	original := s.CapturedAmount()
	record := &models.RefundRecord{
		ID:             uuid.New().String(),
		ReservationID:  id,
		OriginalAmount: original,
		Percentage:     decision.Percentage,
		Amount:         decimal.Zero,
		Currency:       o.currencyOf(s),
		PolicyTier:     s.CancellationTier(),
		Reason:         decision.Reason,
		Justification:  justification,
		IdempotencyKey: "refund:" + id,
		RequestedBy:    requestedBy,
		CreatedAt:      o.now(),
	}

	switch {
	case decision.Percentage <= 0 || !original.IsPositive():
		record.Status = models.SettlementCompleted
		record.Outcome = models.OutcomeNoRefund
	case s.DepositReference() == "":
		record.Amount = Percentage(original, decision.Percentage)
		record.Status = models.SettlementManualRequired
		record.Outcome = models.OutcomeManualRequired
		record.FailureDetail = "no deposit charge on file"
	default:
		record.Amount = Percentage(original, decision.Percentage)
		record.Status = models.SettlementProcessing
		record.Outcome = models.OutcomePending
		if err := o.ledger.RecordRefundIntent(ctx, s, record); err != nil {
			return nil, fmt.Errorf("recording refund intent for reservation %s: %w", id, err)
		}

		res, err := o.callRefund(ctx, s.DepositReference(), record)
		out := classify(res, err)
		next := *record
		next.ID = uuid.New().String()
		next.Supersedes = record.ID
		next.Status, next.Outcome, next.ProcessorRef, next.FailureDetail = out.status, out.refund, out.ref, out.detail
		next.CreatedAt = o.now()
		record = &next
	}

	if err := o.ledger.RecordRefund(ctx, s, record); err != nil {
		return nil, fmt.Errorf("recording refund for reservation %s: %w", id, err)
	}
	return record, nil
}

func (o *Orchestrator) callRefund(ctx context.Context, chargeRef string, record *models.RefundRecord) (OperationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.processor.Refund(callCtx, RefundRequest{
		ChargeRef:      chargeRef,
		Amount:         ToMinorUnits(record.Amount),
		CorrelationID:  record.ReservationID,
		IdempotencyKey: record.IdempotencyKey,
	})
}
