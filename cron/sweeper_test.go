package cron

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	inboxRepo "shutterbook/database/repository/inbox"
	reservationRepo "shutterbook/database/repository/reservation"
	settlementRepo "shutterbook/database/repository/settlement"
	"shutterbook/models"
	"shutterbook/services/ledger"
	"shutterbook/services/notification"
	"shutterbook/services/policy"
	"shutterbook/services/reservation"
	"shutterbook/services/settlement"
	"shutterbook/services/settlement/settlementtest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type sweepEnv struct {
	sweeper      *Sweeper
	machine      *reservation.Machine
	processor    *settlementtest.FakeProcessor
	reservations *reservationRepo.MemoryReservationRepo
	records      *settlementRepo.MemorySettlementRepo
	inbox        *inboxRepo.MemoryInboxRepo
	logs         *observer.ObservedLogs
}

func newSweepEnv(t *testing.T, locker Locker) *sweepEnv {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	e := &sweepEnv{
		processor:    settlementtest.NewFakeProcessor(),
		reservations: reservationRepo.NewMemoryReservationRepo(),
		records:      settlementRepo.NewMemorySettlementRepo(),
		inbox:        inboxRepo.NewMemoryInboxRepo(),
		logs:         logs,
	}
	notifier := notification.NewInboxNotifier(e.inbox)
	writer := ledger.NewWriter(e.records, e.reservations, notifier, notification.NewLogAlerter(logger), logger)
	orch := settlement.NewOrchestrator(e.processor, writer, e.records, e.reservations, logger, settlement.Options{})
	e.machine = reservation.NewMachine(e.reservations, orch, e.records, notifier, logger)
	e.sweeper = NewSweeper(e.reservations, e.machine, locker, time.Minute, logger)
	return e
}

// seed stores a reservation without EndsAt, as rows written before it existed.
func (e *sweepEnv) seed(t *testing.T, id string, status models.ReservationStatus, start time.Time, qty float64, unit models.DurationUnit) {
	t.Helper()
	e.store(t, id, status, start, qty, unit, time.Time{})
}

// seedScheduled stores a paid reservation with its end time, as Create does.
func (e *sweepEnv) seedScheduled(t *testing.T, id string, start time.Time, qty float64, unit models.DurationUnit) {
	t.Helper()
	e.store(t, id, models.StatusPaid, start, qty, unit, policy.EndTime(start, qty, unit))
}

func (e *sweepEnv) store(t *testing.T, id string, status models.ReservationStatus, start time.Time, qty float64, unit models.DurationUnit, endsAt time.Time) {
	t.Helper()
	paidAt := start.Add(-24 * time.Hour)
	require.NoError(t, e.reservations.Create(context.Background(), &models.Reservation{
		ID:               id,
		CustomerID:       "cust-" + id,
		PayeeID:          "payee-" + id,
		PayeeAccount:     "acct_" + id,
		Start:            start,
		EndsAt:           endsAt,
		DurationQty:      qty,
		DurationUnit:     unit,
		TotalAmount:      decimal.NewFromInt(300),
		DepositAmount:    decimal.NewFromInt(100),
		Currency:         "eur",
		PolicyTier:       models.PolicyFlexible,
		Status:           status,
		DepositChargeRef: "pi_" + id,
		PaidAt:           &paidAt,
	}))
}

func TestSweep_FinishesOnlyAfterEndTime(t *testing.T) {
	e := newSweepEnv(t, nil)
	ctx := context.Background()
	start := time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)
	e.seed(t, "r1", models.StatusPaid, start, 3, models.UnitHour)

	result, err := e.sweeper.Sweep(ctx, start.Add(2*time.Hour+59*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotDue)
	assert.Zero(t, result.Finished)

	stored, err := e.reservations.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
	payeeBefore, err := e.inbox.ListByUser(ctx, "payee-r1", 0)
	require.NoError(t, err)
	assert.Empty(t, payeeBefore)

	result, err = e.sweeper.Sweep(ctx, start.Add(3*time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finished)

	stored, err = e.reservations.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, stored.Status)

	history, err := e.records.History(ctx, "r1")
	require.NoError(t, err)
	transfers := 0
	for _, entry := range history {
		if entry.Kind == models.EntryTransfer {
			transfers++
		}
	}
	assert.Equal(t, 1, transfers)
	assert.Equal(t, 1, e.processor.TransferCount())

	payee, err := e.inbox.ListByUser(ctx, "payee-r1", 0)
	require.NoError(t, err)
	require.Len(t, payee, 1)
	assert.Equal(t, models.KindBalanceTransferred, payee[0].Type)

	// A later sweep leaves it alone.
	result, err = e.sweeper.Sweep(ctx, start.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
}

func TestSweep_NormalizesUnits(t *testing.T) {
	e := newSweepEnv(t, nil)
	ctx := context.Background()
	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	e.seed(t, "half", models.StatusConfirmed, start, 1, models.UnitHalfDay)
	e.seed(t, "sessions", models.StatusPaid, start, 2, models.UnitSession)

	result, err := e.sweeper.Sweep(ctx, start.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finished)
	assert.Equal(t, 1, result.NotDue)

	half, err := e.reservations.GetByID(ctx, "half")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, half.Status)
	sessions, err := e.reservations.GetByID(ctx, "sessions")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, sessions.Status)
}

func TestSweep_UnknownUnitFallsBackToHoursWithWarning(t *testing.T) {
	e := newSweepEnv(t, nil)
	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	e.seed(t, "odd", models.StatusPaid, start, 3, models.DurationUnit("fortnight"))

	result, err := e.sweeper.Sweep(context.Background(), start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finished)
	assert.Equal(t, 1, e.logs.FilterMessage("Unknown duration unit, treating quantity as hours").Len())
}

func TestSweep_SkipsCancelledAndPending(t *testing.T) {
	e := newSweepEnv(t, nil)
	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	e.seed(t, "cancelled", models.StatusCancelled, start, 1, models.UnitHour)
	e.seed(t, "pending", models.StatusPending, start, 1, models.UnitHour)

	result, err := e.sweeper.Sweep(context.Background(), start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
}

func TestSweep_ConcurrentSweepsFinishOnce(t *testing.T) {
	e := newSweepEnv(t, nil)
	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c", "d"} {
		e.seed(t, id, models.StatusPaid, start, 1, models.UnitHour)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	finished := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.sweeper.Sweep(context.Background(), start.Add(2*time.Hour))
			if err == nil {
				mu.Lock()
				finished += res.Finished
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, finished)
	assert.Equal(t, 4, e.processor.TransferCount())
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestSweep_LockHeldElsewhere(t *testing.T) {
	e := newSweepEnv(t, heldLocker{})
	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	e.seed(t, "a", models.StatusPaid, start, 1, models.UnitHour)

	result, err := e.sweeper.Sweep(context.Background(), start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)

	// The per-user check does not take the global lock.
	result, err = e.sweeper.SweepParty(context.Background(), "payee-a", start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finished)
}

func TestSweepParty_OnlyTouchesThatUser(t *testing.T) {
	e := newSweepEnv(t, nil)
	ctx := context.Background()
	start := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	e.seed(t, "mine", models.StatusPaid, start, 1, models.UnitHour)
	e.seed(t, "theirs", models.StatusPaid, start, 1, models.UnitHour)

	result, err := e.sweeper.SweepParty(ctx, "cust-mine", start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Finished)

	theirs, err := e.reservations.GetByID(ctx, "theirs")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, theirs.Status)

	_, err = e.sweeper.SweepParty(ctx, "", start)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSweep_DueReservationNotHiddenByLongRunningOnes(t *testing.T) {
	e := newSweepEnv(t, nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	for i := 0; i < sweepBatch+10; i++ {
		e.seedScheduled(t, fmt.Sprintf("long-%04d", i), now.Add(-48*time.Hour), 10, models.UnitPackage)
	}
	e.seedScheduled(t, "short", now.Add(-4*time.Hour), 3, models.UnitHour)

	result, err := e.sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Finished)

	short, err := e.reservations.GetByID(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, short.Status)
}

func TestSweep_PagesThroughMoreThanOneBatch(t *testing.T) {
	e := newSweepEnv(t, nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	// Rows without EndsAt are selected on start, so they fill whole pages.
	for i := 0; i < sweepBatch+10; i++ {
		e.seed(t, fmt.Sprintf("a-long-%04d", i), models.StatusPaid, now.Add(-48*time.Hour), 10, models.UnitPackage)
	}
	e.seed(t, "z-short", models.StatusPaid, now.Add(-4*time.Hour), 3, models.UnitHour)

	result, err := e.sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, sweepBatch+11, result.Scanned)
	assert.Equal(t, sweepBatch+10, result.NotDue)
	assert.Equal(t, 1, result.Finished)

	short, err := e.reservations.GetByID(ctx, "z-short")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, short.Status)
}
