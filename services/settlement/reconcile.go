package settlement

import (
	"context"
	"fmt"

	settlementRepo "shutterbook/database/repository/settlement"
	"shutterbook/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reconcileBatch = 100

// ReconcileResult counts what a reconciliation pass did.
type ReconcileResult struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Reissued  int `json:"reissued"`
	Pending   int `json:"pending"`
}

func (r *ReconcileResult) count(status models.SettlementStatus) {
	switch status {
	case models.SettlementCompleted:
		r.Completed++
	case models.SettlementManualRequired:
		r.Failed++
	default:
		r.Pending++
	}
}

// Reconcile resolves records left in processing. Each one is looked up at the
// processor by its stored reference; a missing operation is re-issued with the
// original idempotency key so it cannot be applied twice.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	// Records left processing are written by nobody else, so paging past them
	// reaches the rest of the backlog.
	page := settlementRepo.ProcessingPage{Limit: reconcileBatch}
	for {
		refunds, err := o.records.ListProcessingRefunds(ctx, page)
		if err != nil {
			return result, fmt.Errorf("listing processing refunds: %w", err)
		}
		for i := range refunds {
			result.Checked++
			if err := o.reconcileRefund(ctx, &refunds[i], &result); err != nil {
				o.logger.Error("Refund reconciliation failed", zap.String("recordID", refunds[i].ID), zap.Error(err))
			}
		}
		if len(refunds) < reconcileBatch {
			break
		}
		last := refunds[len(refunds)-1]
		page = page.Next(last.CreatedAt, last.ID)
	}

	page = settlementRepo.ProcessingPage{Limit: reconcileBatch}
	for {
		transfers, err := o.records.ListProcessingTransfers(ctx, page)
		if err != nil {
			return result, fmt.Errorf("listing processing transfers: %w", err)
		}
		for i := range transfers {
			result.Checked++
			if err := o.reconcileTransfer(ctx, &transfers[i], &result); err != nil {
				o.logger.Error("Transfer reconciliation failed", zap.String("recordID", transfers[i].ID), zap.Error(err))
			}
		}
		if len(transfers) < reconcileBatch {
			break
		}
		last := transfers[len(transfers)-1]
		page = page.Next(last.CreatedAt, last.ID)
	}

	o.logger.Info("Reconciliation finished",
		zap.Int("checked", result.Checked),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
		zap.Int("reissued", result.Reissued),
		zap.Int("pending", result.Pending))
	return result, nil
}

func (o *Orchestrator) reconcileRefund(ctx context.Context, prev *models.RefundRecord, result *ReconcileResult) error {
	reservation, err := o.deposits.GetByID(ctx, prev.ReservationID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	found, err := o.processor.LookupRefund(callCtx, reservation.DepositReference())
	cancel()
	if err != nil {
		result.Pending++
		return fmt.Errorf("looking up refund: %w", err)
	}

	var out outcome
	if found.Found {
		out = classify(found, nil)
	} else {
		result.Reissued++
		res, err := o.callRefund(ctx, reservation.DepositReference(), prev)
		out = classify(res, err)
	}
	if out.status == models.SettlementProcessing {
		result.Pending++
		return nil
	}

	next := *prev
	next.ID = uuid.New().String()
	next.Supersedes = prev.ID
	next.Status, next.Outcome, next.FailureDetail = out.status, out.refund, out.detail
	if out.ref != nil {
		next.ProcessorRef = out.ref
	}
	next.CreatedAt = o.now()

	if err := o.ledger.RecordRefund(ctx, reservation, &next); err != nil {
		return err
	}
	result.count(next.Status)
	return nil
}

func (o *Orchestrator) reconcileTransfer(ctx context.Context, prev *models.TransferRecord, result *ReconcileResult) error {
	reservation, err := o.deposits.GetByID(ctx, prev.ReservationID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	found, err := o.processor.LookupTransfer(callCtx, prev.ReservationID)
	cancel()
	if err != nil {
		result.Pending++
		return fmt.Errorf("looking up transfer: %w", err)
	}

	var out outcome
	if found.Found {
		out = classify(found, nil)
	} else {
		result.Reissued++
		res, err := o.callTransfer(ctx, prev)
		out = classify(res, err)
	}
	if out.status == models.SettlementProcessing {
		result.Pending++
		return nil
	}

	next := *prev
	next.ID = uuid.New().String()
	next.Supersedes = prev.ID
	next.Status, next.FailureDetail = out.status, out.detail
	if out.ref != nil {
		next.ProcessorRef = out.ref
	}
	next.CreatedAt = o.now()

	if err := o.ledger.RecordTransfer(ctx, reservation, &next); err != nil {
		return err
	}
	result.count(next.Status)
	return nil
}
