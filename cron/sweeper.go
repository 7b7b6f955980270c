package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	reservationRepo "shutterbook/database/repository/reservation"
	"shutterbook/models"
	"shutterbook/services/policy"

	"go.uber.org/zap"
)

const (
	sweepBatch   = 500
	sweepLockKey = "lock:sweep:expired"
)

// Finisher is the state machine transition the sweeper triggers.
type Finisher interface {
	Finish(ctx context.Context, id string) (*models.Reservation, error)
}

// ActiveLister finds reservations that may be due.
type ActiveLister interface {
	ListActive(ctx context.Context, filter reservationRepo.ActiveFilter) ([]models.Reservation, error)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Finished int `json:"finished"`
	NotDue   int `json:"notDue"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Sweeper finishes reservations whose end time has passed. It is safe to run
// concurrently with itself and with cancellations: the state machine's
// compare-and-set decides every race, the lock only saves redundant work.
type Sweeper struct {
	reservations ActiveLister
	finisher     Finisher
	locker       Locker
	lockTTL      time.Duration
	logger       *zap.Logger
}

func NewSweeper(reservations ActiveLister, finisher Finisher, locker Locker, lockTTL time.Duration, logger *zap.Logger) *Sweeper {
	if locker == nil {
		locker = NoopLocker{}
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Sweeper{
		reservations: reservations,
		finisher:     finisher,
		locker:       locker,
		lockTTL:      lockTTL,
		logger:       logger,
	}
}

// Sweep scans every confirmed or paid reservation that has started.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	release, acquired, err := s.locker.Acquire(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		// Sweeping without the lock is still correct.
		s.logger.Warn("Sweep lock unavailable, sweeping anyway", zap.Error(err))
	} else if !acquired {
		s.logger.Debug("Another instance is sweeping")
		return SweepResult{}, nil
	} else {
		defer release()
	}
	return s.sweep(ctx, now, "")
}

// SweepParty is the opportunistic check for one user's reservations.
func (s *Sweeper) SweepParty(ctx context.Context, userID string, now time.Time) (SweepResult, error) {
	if userID == "" {
		return SweepResult{}, models.NewValidationError("user id is required")
	}
	return s.sweep(ctx, now, userID)
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time, partyID string) (SweepResult, error) {
	var result SweepResult

	filter := reservationRepo.ActiveFilter{
		Statuses:    []models.ReservationStatus{models.StatusConfirmed, models.StatusPaid},
		EndedBefore: now,
		PartyID:     partyID,
		Limit:       sweepBatch,
	}
	for {
		page, err := s.reservations.ListActive(ctx, filter)
		if err != nil {
			return result, fmt.Errorf("listing active reservations: %w", err)
		}
		for _, r := range page {
			s.finishIfDue(ctx, r, now, &result)
		}
		if len(page) < sweepBatch {
			break
		}
		filter.AfterID = page[len(page)-1].ID
	}

	if result.Scanned > 0 {
		s.logger.Info("Sweep finished",
			zap.String("partyID", partyID),
			zap.Int("scanned", result.Scanned),
			zap.Int("finished", result.Finished),
			zap.Int("notDue", result.NotDue),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// finishIfDue recomputes the end time, since rows written before EndsAt existed
// are selected on their start.
func (s *Sweeper) finishIfDue(ctx context.Context, r models.Reservation, now time.Time, result *SweepResult) {
	result.Scanned++
	if !policy.KnownUnit(r.DurationUnit) {
		s.logger.Warn("Unknown duration unit, treating quantity as hours",
			zap.String("reservationID", r.ID),
			zap.String("unit", string(r.DurationUnit)),
			zap.Float64("quantity", r.DurationQty))
	}
	if policy.EndTime(r.Start, r.DurationQty, r.DurationUnit).After(now) {
		result.NotDue++
		return
	}

	_, err := s.finisher.Finish(ctx, r.ID)
	switch {
	case err == nil:
		result.Finished++
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrStaleState):
		// Cancelled or finished by someone else in the meantime.
		result.Skipped++
	default:
		result.Failed++
		s.logger.Error("Failed to finish reservation", zap.String("reservationID", r.ID), zap.Error(err))
	}
}
