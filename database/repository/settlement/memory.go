package settlementRepo

import (
	"context"
	"sync"

	"shutterbook/models"
)

// MemorySettlementRepo is the in-process driver. Appends for all kinds share one
// mutex, which is what the unique indexes provide on Mongo.
type MemorySettlementRepo struct {
	mu        sync.Mutex
	payments  map[string][]models.PaymentRecord
	refunds   map[string][]models.RefundRecord
	transfers map[string][]models.TransferRecord
}

func NewMemorySettlementRepo() *MemorySettlementRepo {
	return &MemorySettlementRepo{
		payments:  make(map[string][]models.PaymentRecord),
		refunds:   make(map[string][]models.RefundRecord),
		transfers: make(map[string][]models.TransferRecord),
	}
}

var _ SettlementRepository = (*MemorySettlementRepo)(nil)

func (m *MemorySettlementRepo) AppendPayment(_ context.Context, record *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.payments[record.ReservationID]
	if err := checkAppend(list, *record, paymentMeta); err != nil {
		return err
	}
	m.payments[record.ReservationID] = append(list, *record)
	return nil
}

func (m *MemorySettlementRepo) AppendRefund(_ context.Context, record *models.RefundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.refunds[record.ReservationID]
	if err := checkAppend(list, *record, refundMeta); err != nil {
		return err
	}
	m.refunds[record.ReservationID] = append(list, *record)
	return nil
}

func (m *MemorySettlementRepo) AppendTransfer(_ context.Context, record *models.TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.transfers[record.ReservationID]
	if err := checkAppend(list, *record, transferMeta); err != nil {
		return err
	}
	m.transfers[record.ReservationID] = append(list, *record)
	return nil
}

func (m *MemorySettlementRepo) CurrentPayment(_ context.Context, reservationID string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := currentOf(m.payments[reservationID], paymentMeta); ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemorySettlementRepo) CurrentRefund(_ context.Context, reservationID string) (*models.RefundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := currentOf(m.refunds[reservationID], refundMeta); ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemorySettlementRepo) CurrentTransfer(_ context.Context, reservationID string) (*models.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := currentOf(m.transfers[reservationID], transferMeta); ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemorySettlementRepo) ListProcessingRefunds(_ context.Context, page ProcessingPage) ([]models.RefundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return processingHeads(m.refunds, page, refundMeta), nil
}

func (m *MemorySettlementRepo) ListProcessingTransfers(_ context.Context, page ProcessingPage) ([]models.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return processingHeads(m.transfers, page, transferMeta), nil
}

func (m *MemorySettlementRepo) History(_ context.Context, reservationID string) ([]models.SettlementEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return buildHistory(m.payments[reservationID], m.refunds[reservationID], m.transfers[reservationID]), nil
}
