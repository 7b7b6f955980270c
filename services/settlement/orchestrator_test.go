package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	inboxRepo "shutterbook/database/repository/inbox"
	reservationRepo "shutterbook/database/repository/reservation"
	settlementRepo "shutterbook/database/repository/settlement"
	"shutterbook/models"
	"shutterbook/services/ledger"
	"shutterbook/services/notification"
	"shutterbook/services/policy"
	"shutterbook/services/settlement"
	"shutterbook/services/settlement/settlementtest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingAlerter struct{ alerts []notification.OpsAlert }

func (r *recordingAlerter) Alert(_ context.Context, a notification.OpsAlert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type harness struct {
	orch         *settlement.Orchestrator
	processor    *settlementtest.FakeProcessor
	reservations *reservationRepo.MemoryReservationRepo
	records      *settlementRepo.MemorySettlementRepo
	inbox        *inboxRepo.MemoryInboxRepo
	alerts       *recordingAlerter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test wrap the repository the ledger writes to.
func newHarnessWith(t *testing.T, wrap func(*settlementRepo.MemorySettlementRepo) settlementRepo.SettlementRepository) *harness {
	t.Helper()
	h := &harness{
		processor:    settlementtest.NewFakeProcessor(),
		reservations: reservationRepo.NewMemoryReservationRepo(),
		records:      settlementRepo.NewMemorySettlementRepo(),
		inbox:        inboxRepo.NewMemoryInboxRepo(),
		alerts:       &recordingAlerter{},
	}
	logger := zap.NewNop()
	var store settlementRepo.SettlementRepository = h.records
	if wrap != nil {
		store = wrap(h.records)
	}
	writer := ledger.NewWriter(store, h.reservations, notification.NewInboxNotifier(h.inbox), h.alerts, logger)
	h.orch = settlement.NewOrchestrator(h.processor, writer, h.records, h.reservations, logger, settlement.Options{
		ProcessorTimeout: 50 * time.Millisecond,
	})
	return h
}

// paidReservation stores a reservation whose 100.00 deposit was captured.
func (h *harness) paidReservation(t *testing.T, id string) *models.Reservation {
	t.Helper()
	paidAt := time.Now().Add(-time.Hour)
	r := &models.Reservation{
		ID:               id,
		CustomerID:       "cust-1",
		PayeeID:          "payee-1",
		PayeeAccount:     "acct_123",
		Start:            time.Now().Add(72 * time.Hour),
		DurationQty:      2,
		DurationUnit:     models.UnitHour,
		TotalAmount:      decimal.NewFromInt(300),
		DepositAmount:    decimal.NewFromInt(100),
		PlatformFee:      decimal.NewFromInt(10),
		Currency:         "eur",
		PolicyTier:       models.PolicyModerate,
		Status:           models.StatusPaid,
		DepositChargeRef: "pi_existing",
		PaidAt:           &paidAt,
	}
	require.NoError(t, h.reservations.Create(context.Background(), r))
	return r
}

func half() policy.Decision {
	return policy.Decision{Refundable: true, Percentage: 50, Reason: "moderate: 1-6 days before start"}
}

func TestExecuteRefund(t *testing.T) {
	t.Run("partial refund is completed and both parties are notified", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		r := h.paidReservation(t, "res-1")

		rec, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
		require.NoError(t, err)
		assert.Equal(t, models.SettlementCompleted, rec.Status)
		assert.Equal(t, models.OutcomeRefunded, rec.Outcome)
		assert.Equal(t, "50.00", rec.Amount.StringFixed(2))
		require.NotNil(t, rec.ProcessorRef)

		require.Len(t, h.processor.Refunds, 1)
		assert.Equal(t, int64(5000), h.processor.Refunds[0].Amount)
		assert.Equal(t, "pi_existing", h.processor.Refunds[0].ChargeRef)

		for _, user := range []string{"cust-1", "payee-1"} {
			items, err := h.inbox.ListByUser(ctx, user, 0)
			require.NoError(t, err)
			require.Len(t, items, 1, user)
			assert.Contains(t, items[0].Message, "50% refunded")
		}

		stored, err := h.reservations.GetByID(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, *rec.ProcessorRef, stored.RefundRef)
		assert.Equal(t, models.StatusPaid, stored.Status)
	})

	t.Run("repeat call returns the existing record without a second refund", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		r := h.paidReservation(t, "res-1")

		first, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
		require.NoError(t, err)
		second, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, h.processor.RefundCount())
	})

	t.Run("zero percent writes a no-refund record without calling the processor", func(t *testing.T) {
		h := newHarness(t)
		r := h.paidReservation(t, "res-1")

		rec, err := h.orch.ExecuteRefund(context.Background(), r, policy.Decision{Refundable: true, Percentage: 0, Reason: "strict: force majeure"}, "venue flooded, roads closed", "cust-1")
		require.NoError(t, err)
		assert.Equal(t, models.SettlementCompleted, rec.Status)
		assert.Equal(t, models.OutcomeNoRefund, rec.Outcome)
		assert.True(t, rec.Amount.IsZero())
		assert.Nil(t, rec.ProcessorRef)
		assert.Zero(t, h.processor.RefundCount())
	})

	t.Run("already refunded is treated as success", func(t *testing.T) {
		h := newHarness(t)
		h.processor.RefundErr = &settlement.ProcessorError{Kind: settlement.KindAlreadyRefunded, Code: "charge_already_refunded"}
		r := h.paidReservation(t, "res-1")

		rec, err := h.orch.ExecuteRefund(context.Background(), r, half(), "", "cust-1")
		require.NoError(t, err)
		assert.Equal(t, models.SettlementCompleted, rec.Status)
		assert.Equal(t, models.OutcomeAlreadyRefunded, rec.Outcome)
		assert.Empty(t, h.alerts.alerts)
	})

	t.Run("permanent failure needs manual processing and raises an alert", func(t *testing.T) {
		h := newHarness(t)
		h.processor.RefundErr = &settlement.ProcessorError{Kind: settlement.KindPermanent, Code: "invalid_request", Message: "no such payment_intent"}
		r := h.paidReservation(t, "res-1")

		rec, err := h.orch.ExecuteRefund(context.Background(), r, half(), "", "cust-1")
		require.NoError(t, err)
		assert.Equal(t, models.SettlementManualRequired, rec.Status)
		require.Len(t, h.alerts.alerts, 1)
		assert.Equal(t, "res-1", h.alerts.alerts[0].ReservationID)

		items, err := h.inbox.ListByUser(context.Background(), "cust-1", 0)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Contains(t, items[0].Message, "manual processing")
	})

	t.Run("missing deposit charge needs manual processing", func(t *testing.T) {
		h := newHarness(t)
		r := h.paidReservation(t, "res-1")
		r.DepositChargeRef = ""
		r.DepositAmount = decimal.NewFromInt(100)

		rec, err := h.orch.ExecuteRefund(context.Background(), settleableWithoutRef{r}, half(), "", "cust-1")
		require.NoError(t, err)
		assert.Equal(t, models.SettlementManualRequired, rec.Status)
		assert.Zero(t, h.processor.RefundCount())
	})
}

// settleableWithoutRef reports a captured amount but no charge reference.
type settleableWithoutRef struct{ *models.Reservation }

func (s settleableWithoutRef) CapturedAmount() decimal.Decimal { return s.DepositAmount }

func TestExecuteRefund_TimeoutThenReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.paidReservation(t, "res-1")

	h.processor.SetBlock(true)
	rec, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementProcessing, rec.Status)
	assert.Equal(t, models.OutcomePending, rec.Outcome)
	assert.Empty(t, h.alerts.alerts)

	// The refund went through at the processor even though we never saw the answer.
	h.processor.SetBlock(false)
	h.processor.SeedRefund("pi_existing", settlement.OperationResult{Found: true, Ref: "re_late", Status: settlement.ProcessorSucceeded})

	result, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Completed)
	assert.Zero(t, result.Reissued)
	assert.Zero(t, h.processor.RefundCount())

	current, err := h.records.CurrentRefund(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, rec.ID, current.Supersedes)
	assert.Equal(t, models.SettlementCompleted, current.Status)
	assert.Equal(t, "re_late", *current.ProcessorRef)

	// Intent, timed-out outcome, reconciled outcome.
	history, err := h.records.History(ctx, "res-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestReconcile_ReissuesWithSameKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.paidReservation(t, "res-1")

	h.processor.SetBlock(true)
	rec, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementProcessing, rec.Status)
	h.processor.SetBlock(false)

	result, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reissued)
	assert.Equal(t, 1, result.Completed)
	require.Len(t, h.processor.Refunds, 1)
	assert.Equal(t, rec.IdempotencyKey, h.processor.Refunds[0].IdempotencyKey)

	// A second pass finds nothing left to do.
	result, err = h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Checked)
	assert.Equal(t, 1, h.processor.RefundCount())
}

// failingRefundAppends lets the first ok refund appends through and fails the rest.
type failingRefundAppends struct {
	*settlementRepo.MemorySettlementRepo
	ok    int
	calls int
}

func (f *failingRefundAppends) AppendRefund(ctx context.Context, record *models.RefundRecord) error {
	f.calls++
	if f.calls > f.ok {
		return errors.New("server selection timeout")
	}
	return f.MemorySettlementRepo.AppendRefund(ctx, record)
}

func TestExecuteRefund_IntentNotStoredSkipsProcessor(t *testing.T) {
	h := newHarnessWith(t, func(m *settlementRepo.MemorySettlementRepo) settlementRepo.SettlementRepository {
		return &failingRefundAppends{MemorySettlementRepo: m}
	})
	ctx := context.Background()
	r := h.paidReservation(t, "res-1")

	_, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
	require.Error(t, err)
	assert.Zero(t, h.processor.RefundCount())

	require.Len(t, h.alerts.alerts, 1)
	assert.Equal(t, models.EntryRefund, h.alerts.alerts[0].RecordKind)
	assert.Equal(t, models.SettlementManualRequired, h.alerts.alerts[0].Status)
	assert.Contains(t, h.alerts.alerts[0].Detail, "not issued")
}

func TestExecuteRefund_OutcomeNotStoredIsReconciled(t *testing.T) {
	store := &failingRefundAppends{ok: 1}
	h := newHarnessWith(t, func(m *settlementRepo.MemorySettlementRepo) settlementRepo.SettlementRepository {
		store.MemorySettlementRepo = m
		return store
	})
	ctx := context.Background()
	r := h.paidReservation(t, "res-1")

	_, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
	require.Error(t, err)
	require.Equal(t, 1, h.processor.RefundCount())

	intent, err := h.records.CurrentRefund(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, models.SettlementProcessing, intent.Status)
	assert.Equal(t, "50.00", intent.Amount.StringFixed(2))

	// A retried refund sees the intent instead of starting over.
	again, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, again.ID)
	assert.Equal(t, 1, h.processor.RefundCount())

	store.ok = 10
	result, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Completed)
	assert.Zero(t, result.Reissued)
	assert.Equal(t, 1, h.processor.RefundCount())

	current, err := h.records.CurrentRefund(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, current.Supersedes)
	assert.Equal(t, models.OutcomeRefunded, current.Outcome)
	require.NotNil(t, current.ProcessorRef)
	assert.Equal(t, "re_1", *current.ProcessorRef)
}

func TestReconcile_PagesPastStillProcessingRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.processor.RefundErr = &settlement.ProcessorError{Kind: settlement.KindTransient, Message: "connection reset"}
	for i := 0; i < 105; i++ {
		r := h.paidReservation(t, fmt.Sprintf("res-%03d", i))
		rec, err := h.orch.ExecuteRefund(ctx, r, half(), "", "cust-1")
		require.NoError(t, err)
		require.Equal(t, models.SettlementProcessing, rec.Status)
	}
	h.processor.RefundErr = nil

	result, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 105, result.Checked)
	assert.Equal(t, 105, result.Completed)
}

func TestTransferBalance(t *testing.T) {
	t.Run("transfers the remaining balance once", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		r := h.paidReservation(t, "res-1")
		r.Status = models.StatusFinished

		first, err := h.orch.TransferBalance(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, models.SettlementCompleted, first.Status)
		assert.Equal(t, "200.00", first.Amount.StringFixed(2))

		second, err := h.orch.TransferBalance(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		require.Equal(t, 1, h.processor.TransferCount())
		assert.Equal(t, "acct_123", h.processor.Transfers[0].Destination)
		assert.Equal(t, "res-1", h.processor.Transfers[0].CorrelationID)
		assert.Equal(t, int64(20000), h.processor.Transfers[0].Amount)

		payee, err := h.inbox.ListByUser(ctx, "payee-1", 0)
		require.NoError(t, err)
		assert.Len(t, payee, 1)
		customer, err := h.inbox.ListByUser(ctx, "cust-1", 0)
		require.NoError(t, err)
		assert.Empty(t, customer)
	})

	t.Run("timeout leaves the transfer processing", func(t *testing.T) {
		h := newHarness(t)
		h.processor.SetBlock(true)
		r := h.paidReservation(t, "res-1")

		rec, err := h.orch.TransferBalance(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, models.SettlementProcessing, rec.Status)
	})

	t.Run("no payout account needs manual processing", func(t *testing.T) {
		h := newHarness(t)
		r := h.paidReservation(t, "res-1")
		r.PayeeAccount = ""

		rec, err := h.orch.TransferBalance(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, models.SettlementManualRequired, rec.Status)
		assert.Zero(t, h.processor.TransferCount())
		assert.Len(t, h.alerts.alerts, 1)
	})

	t.Run("nothing to transfer is a validation error", func(t *testing.T) {
		h := newHarness(t)
		r := h.paidReservation(t, "res-1")
		r.TotalAmount = r.DepositAmount

		_, err := h.orch.TransferBalance(context.Background(), r)
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestReconcile_Transfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.paidReservation(t, "res-1")

	h.processor.SetBlock(true)
	rec, err := h.orch.TransferBalance(ctx, r)
	require.NoError(t, err)
	require.Equal(t, models.SettlementProcessing, rec.Status)
	h.processor.SetBlock(false)
	h.processor.SeedTransfer("res-1", settlement.OperationResult{Found: true, Ref: "tr_late", Status: settlement.ProcessorSucceeded})

	result, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Zero(t, h.processor.TransferCount())

	stored, err := h.reservations.GetByID(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "tr_late", stored.TransferRef)
}

func TestReconcile_TransferIgnoresDepositAutomaticTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.paidReservation(t, "res-1")

	_, err := h.orch.CreateDeposit(ctx, r, decimal.NewFromInt(100), decimal.NewFromInt(10), "acct_123")
	require.NoError(t, err)
	require.Len(t, h.processor.AutomaticTransfers("res-1"), 1)

	// The payout times out without reaching the processor.
	h.processor.SetBlock(true)
	rec, err := h.orch.TransferBalance(ctx, r)
	require.NoError(t, err)
	require.Equal(t, models.SettlementProcessing, rec.Status)
	h.processor.SetBlock(false)

	result, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reissued)
	assert.Equal(t, 1, result.Completed)
	require.Equal(t, 1, h.processor.TransferCount())
	assert.Equal(t, "200.00", settlement.FromMinorUnits(h.processor.Transfers[0].Amount).StringFixed(2))

	current, err := h.records.CurrentTransfer(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, current)
	require.NotNil(t, current.ProcessorRef)
	assert.NotEqual(t, h.processor.AutomaticTransfers("res-1")[0].Ref, *current.ProcessorRef)
}

func TestCreateDeposit(t *testing.T) {
	newPending := func(t *testing.T, h *harness) *models.Reservation {
		r := &models.Reservation{
			ID:          "res-2",
			CustomerID:  "cust-1",
			PayeeID:     "payee-1",
			TotalAmount: decimal.NewFromInt(300),
			Status:      models.StatusPending,
		}
		require.NoError(t, h.reservations.Create(context.Background(), r))
		return r
	}

	t.Run("charges with the fee withheld and links the charge", func(t *testing.T) {
		h := newHarness(t)
		r := newPending(t, h)

		session, err := h.orch.CreateDeposit(context.Background(), r, decimal.NewFromInt(90), decimal.RequireFromString("9.50"), "acct_9")
		require.NoError(t, err)
		assert.NotEmpty(t, session.ClientSecret)

		require.Len(t, h.processor.Charges, 1)
		charge := h.processor.Charges[0]
		assert.Equal(t, int64(9000), charge.Amount)
		assert.Equal(t, int64(950), charge.ApplicationFee)
		assert.Equal(t, "acct_9", charge.Destination)
		assert.Equal(t, "res-2", charge.CorrelationID)

		stored, err := h.reservations.GetByID(context.Background(), "res-2")
		require.NoError(t, err)
		assert.Equal(t, session.ChargeRef, stored.DepositChargeRef)
		assert.Equal(t, "acct_9", stored.PayeeAccount)
		assert.True(t, stored.CapturedAmount().IsZero(), "nothing is captured before payment")
	})

	cases := []struct {
		name    string
		deposit string
		fee     string
		account string
	}{
		{"zero deposit", "0", "0", "acct"},
		{"deposit above total", "301", "0", "acct"},
		{"negative fee", "50", "-1", "acct"},
		{"fee above deposit", "50", "51", "acct"},
		{"missing account", "50", "5", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			r := newPending(t, h)
			_, err := h.orch.CreateDeposit(context.Background(), r, decimal.RequireFromString(tc.deposit), decimal.RequireFromString(tc.fee), tc.account)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Empty(t, h.processor.Charges)
		})
	}
}
