package reservationRepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shutterbook/models"
)

// MemoryReservationRepo keeps reservations in process. It backs local runs and tests
// and enforces the same compare-and-set semantics as the Mongo driver.
type MemoryReservationRepo struct {
	mu    sync.Mutex
	items map[string]models.Reservation
}

func NewMemoryReservationRepo() *MemoryReservationRepo {
	return &MemoryReservationRepo{items: make(map[string]models.Reservation)}
}

var _ ReservationRepository = (*MemoryReservationRepo)(nil)

func (m *MemoryReservationRepo) Create(_ context.Context, reservation *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[reservation.ID]; exists {
		return fmt.Errorf("reservation %s already exists", reservation.ID)
	}
	m.items[reservation.ID] = *reservation
	return nil
}

func (m *MemoryReservationRepo) GetByID(_ context.Context, id string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	return &r, nil
}

func (m *MemoryReservationRepo) Transition(_ context.Context, id string, from, to models.ReservationStatus, fields TransitionFields) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	if r.Status != from {
		return nil, fmt.Errorf("reservation %s is %s, expected %s: %w", id, r.Status, from, models.ErrStaleState)
	}
	applyTransition(&r, from, to, fields)
	m.items[id] = r
	return &r, nil
}

func (m *MemoryReservationRepo) AttachDeposit(_ context.Context, id string, link DepositLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	r.DepositChargeRef = link.ChargeRef
	r.DepositAmount = link.Amount
	r.PlatformFee = link.PlatformFee
	r.PayeeAccount = link.PayeeAccount
	r.UpdatedAt = time.Now()
	m.items[id] = r
	return nil
}

func (m *MemoryReservationRepo) ClearSettling(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	if r.Status == models.StatusFinished {
		r.SettlingSince = nil
		m.items[id] = r
	}
	return nil
}

func (m *MemoryReservationRepo) SetSettlementRefs(_ context.Context, id string, refs SettlementRefs) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.items[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	if refs.TransferRef != "" {
		r.TransferRef = refs.TransferRef
	}
	if refs.RefundRef != "" {
		r.RefundRef = refs.RefundRef
	}
	m.items[id] = r
	return nil
}

func (m *MemoryReservationRepo) ListActive(_ context.Context, filter ActiveFilter) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[models.ReservationStatus]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		wanted[s] = true
	}

	var out []models.Reservation
	for _, r := range m.items {
		if len(wanted) > 0 && !wanted[r.Status] {
			continue
		}
		due := r.EndsAt
		if due.IsZero() {
			due = r.Start
		}
		if !filter.EndedBefore.IsZero() && due.After(filter.EndedBefore) {
			continue
		}
		if filter.AfterID != "" && r.ID <= filter.AfterID {
			continue
		}
		if filter.PartyID != "" && r.CustomerID != filter.PartyID && r.PayeeID != filter.PartyID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
