package settlementRepo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"shutterbook/models"
)

// SettlementRepository stores payment, refund and transfer records. Records are
// append-only: a correction is a new record whose Supersedes points at the record
// it replaces, so each reservation has exactly one current record per kind.
//
// Append fails with models.ErrDuplicateRecord when the new record does not extend
// the current chain (its Supersedes is not the current record's ID) or when it
// would be a second completed record of that kind for the reservation.
type SettlementRepository interface {
	AppendPayment(ctx context.Context, record *models.PaymentRecord) error
	AppendRefund(ctx context.Context, record *models.RefundRecord) error
	AppendTransfer(ctx context.Context, record *models.TransferRecord) error

	// Current* return (nil, nil) when the reservation has no record of that kind.
	CurrentPayment(ctx context.Context, reservationID string) (*models.PaymentRecord, error)
	CurrentRefund(ctx context.Context, reservationID string) (*models.RefundRecord, error)
	CurrentTransfer(ctx context.Context, reservationID string) (*models.TransferRecord, error)

	// ListProcessing* return current records still waiting on the processor,
	// ordered by (created_at, id) and starting after the page cursor.
	ListProcessingRefunds(ctx context.Context, page ProcessingPage) ([]models.RefundRecord, error)
	ListProcessingTransfers(ctx context.Context, page ProcessingPage) ([]models.TransferRecord, error)

	History(ctx context.Context, reservationID string) ([]models.SettlementEntry, error)
}

// ProcessingPage is a keyset cursor over processing records. The zero value
// starts from the oldest record; Limit <= 0 means no limit.
type ProcessingPage struct {
	AfterCreated time.Time
	AfterID      string
	Limit        int
}

// Next returns the cursor positioned after the given record.
func (p ProcessingPage) Next(createdAt time.Time, id string) ProcessingPage {
	p.AfterCreated, p.AfterID = createdAt, id
	return p
}

func (p ProcessingPage) admits(createdAt time.Time, id string) bool {
	if p.AfterCreated.IsZero() && p.AfterID == "" {
		return true
	}
	if createdAt.Equal(p.AfterCreated) {
		return id > p.AfterID
	}
	return createdAt.After(p.AfterCreated)
}

type recordMeta struct {
	ID         string
	Supersedes string
	Status     models.SettlementStatus
	CreatedAt  time.Time
}

func paymentMeta(r models.PaymentRecord) recordMeta {
	return recordMeta{ID: r.ID, Supersedes: r.Supersedes, Status: r.Status, CreatedAt: r.CreatedAt}
}

func refundMeta(r models.RefundRecord) recordMeta {
	return recordMeta{ID: r.ID, Supersedes: r.Supersedes, Status: r.Status, CreatedAt: r.CreatedAt}
}

func transferMeta(r models.TransferRecord) recordMeta {
	return recordMeta{ID: r.ID, Supersedes: r.Supersedes, Status: r.Status, CreatedAt: r.CreatedAt}
}

// currentOf returns the record of the chain that nothing supersedes.
func currentOf[T any](records []T, meta func(T) recordMeta) (T, bool) {
	var zero T
	superseded := make(map[string]bool, len(records))
	for _, r := range records {
		if s := meta(r).Supersedes; s != "" {
			superseded[s] = true
		}
	}
	for _, r := range records {
		if !superseded[meta(r).ID] {
			return r, true
		}
	}
	return zero, false
}

// checkAppend validates that next extends the chain held in existing.
func checkAppend[T any](existing []T, next T, meta func(T) recordMeta) error {
	n := meta(next)
	if n.ID == "" {
		return fmt.Errorf("settlement record without id: %w", models.ErrValidation)
	}
	head := ""
	if cur, ok := currentOf(existing, meta); ok {
		head = meta(cur).ID
	}
	if n.Supersedes != head {
		return fmt.Errorf("record %s supersedes %q but current is %q: %w", n.ID, n.Supersedes, head, models.ErrDuplicateRecord)
	}
	if n.Status == models.SettlementCompleted {
		for _, r := range existing {
			if meta(r).Status == models.SettlementCompleted {
				return fmt.Errorf("a completed record already exists: %w", models.ErrDuplicateRecord)
			}
		}
	}
	return nil
}

// processingHeads returns the current processing records of every chain,
// ordered by (created_at, id) and cut to the page.
func processingHeads[T any](chains map[string][]T, page ProcessingPage, meta func(T) recordMeta) []T {
	var out []T
	for _, list := range chains {
		r, ok := currentOf(list, meta)
		if !ok {
			continue
		}
		m := meta(r)
		if m.Status == models.SettlementProcessing && page.admits(m.CreatedAt, m.ID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := meta(out[i]), meta(out[j])
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out
}

// buildHistory merges the three record kinds in the order they were written.
func buildHistory(payments []models.PaymentRecord, refunds []models.RefundRecord, transfers []models.TransferRecord) []models.SettlementEntry {
	entries := make([]models.SettlementEntry, 0, len(payments)+len(refunds)+len(transfers))
	for i := range payments {
		p := payments[i]
		entries = append(entries, models.SettlementEntry{Kind: models.EntryPayment, RecordedAt: p.CreatedAt, Payment: &p})
	}
	for i := range refunds {
		r := refunds[i]
		entries = append(entries, models.SettlementEntry{Kind: models.EntryRefund, RecordedAt: r.CreatedAt, Refund: &r})
	}
	for i := range transfers {
		t := transfers[i]
		entries = append(entries, models.SettlementEntry{Kind: models.EntryTransfer, RecordedAt: t.CreatedAt, Transfer: &t})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].RecordedAt.Before(entries[j].RecordedAt) })
	return entries
}
