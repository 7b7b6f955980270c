package settlement

import (
	"context"
	"errors"
	"fmt"

	"shutterbook/models"
)

// ChargeRequest is a destination charge: the customer pays Amount, the platform
// keeps ApplicationFee and the rest routes to Destination.
type ChargeRequest struct {
	Amount         int64
	ApplicationFee int64
	Currency       string
	Destination    string
	CorrelationID  string
	IdempotencyKey string
}

type ChargeResult struct {
	Ref          string
	ClientSecret string
}

type RefundRequest struct {
	ChargeRef      string
	Amount         int64
	CorrelationID  string
	IdempotencyKey string
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	CorrelationID  string
	IdempotencyKey string
}

// ProcessorStatus is the processor-side state of a refund or transfer.
type ProcessorStatus string

const (
	ProcessorSucceeded ProcessorStatus = "succeeded"
	ProcessorPending   ProcessorStatus = "pending"
	ProcessorFailed    ProcessorStatus = "failed"
)

// OperationResult is returned by Refund, Transfer and the lookups.
type OperationResult struct {
	Found  bool
	Ref    string
	Status ProcessorStatus
}

// Processor is the payment gateway boundary. Amounts are in minor units.
type Processor interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// CancelCharge voids a charge the customer has not paid yet.
	CancelCharge(ctx context.Context, chargeRef string) error
	Refund(ctx context.Context, req RefundRequest) (OperationResult, error)
	Transfer(ctx context.Context, req TransferRequest) (OperationResult, error)
	LookupRefund(ctx context.Context, chargeRef string) (OperationResult, error)
	LookupTransfer(ctx context.Context, correlationID string) (OperationResult, error)
}

// ErrorKind classifies processor failures.
type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindPermanent       ErrorKind = "permanent"
	KindAlreadyRefunded ErrorKind = "already_refunded"
)

// ProcessorError is what gateways return for failed calls.
type ProcessorError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ProcessorError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor %s error (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("processor %s error: %s", e.Kind, e.Message)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err. Deadline and cancellation errors
// are transient: the call may or may not have gone through.
func KindOf(err error) ErrorKind {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindPermanent
}

// outcome maps a processor call result onto the ledger status.
type outcome struct {
	status models.SettlementStatus
	refund models.RefundOutcome
	ref    *string
	detail string
}

func classify(res OperationResult, err error) outcome {
	if err != nil {
		switch KindOf(err) {
		case KindAlreadyRefunded:
			return outcome{status: models.SettlementCompleted, refund: models.OutcomeAlreadyRefunded, detail: err.Error()}
		case KindTransient:
			return outcome{status: models.SettlementProcessing, refund: models.OutcomePending, detail: err.Error()}
		default:
			return outcome{status: models.SettlementManualRequired, refund: models.OutcomeManualRequired, detail: err.Error()}
		}
	}
	ref := refPtr(res.Ref)
	switch res.Status {
	case ProcessorSucceeded:
		return outcome{status: models.SettlementCompleted, refund: models.OutcomeRefunded, ref: ref}
	case ProcessorFailed:
		return outcome{status: models.SettlementManualRequired, refund: models.OutcomeManualRequired, ref: ref, detail: "processor reported failure"}
	default:
		return outcome{status: models.SettlementProcessing, refund: models.OutcomePending, ref: ref}
	}
}

func refPtr(ref string) *string {
	if ref == "" {
		return nil
	}
	return &ref
}
