package settlement

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// MetadataReservationID is the metadata key carrying the correlation id on
// payment intents, refunds and transfers.
const MetadataReservationID = "reservation_id"

const (
	metadataPurpose = "purpose"
	purposeBalance  = "balance_payout"
)

// BalanceTransferGroup is the transfer group of a reservation's balance payout.
// Destination charges put their automatic transfer in the correlation id's own
// group, so the payout must never share it.
func BalanceTransferGroup(correlationID string) string {
	return "balance:" + correlationID
}

// StripeGateway implements Processor with Stripe Connect destination charges.
type StripeGateway struct {
	api    *client.API
	logger *zap.Logger
}

// NewStripeGateway builds a gateway around its own client; no global key is set.
func NewStripeGateway(secretKey string, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil), logger: logger}
}

var _ Processor = (*StripeGateway)(nil)

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(req.Amount),
		Currency:             stripe.String(req.Currency),
		ApplicationFeeAmount: stripe.Int64(req.ApplicationFee),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.Destination),
		},
		TransferGroup: stripe.String(req.CorrelationID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(MetadataReservationID, req.CorrelationID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.logger.Warn("Stripe payment intent failed", zap.String("reservationID", req.CorrelationID), zap.Error(err))
		return ChargeResult{}, classifyStripeError(err)
	}
	return ChargeResult{Ref: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) CancelCharge(ctx context.Context, chargeRef string) error {
	params := &stripe.PaymentIntentCancelParams{CancellationReason: stripe.String("abandoned")}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Cancel(chargeRef, params); err != nil {
		g.logger.Warn("Stripe payment intent cancel failed", zap.String("paymentIntent", chargeRef), zap.Error(err))
		return classifyStripeError(err)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (OperationResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeRef),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(MetadataReservationID, req.CorrelationID)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		g.logger.Warn("Stripe refund failed", zap.String("reservationID", req.CorrelationID), zap.Error(err))
		return OperationResult{}, classifyStripeError(err)
	}
	return OperationResult{Found: true, Ref: r.ID, Status: refundStatus(r.Status)}, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, req TransferRequest) (OperationResult, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String(BalanceTransferGroup(req.CorrelationID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(MetadataReservationID, req.CorrelationID)
	params.AddMetadata(metadataPurpose, purposeBalance)

	t, err := g.api.Transfers.New(params)
	if err != nil {
		g.logger.Warn("Stripe transfer failed", zap.String("reservationID", req.CorrelationID), zap.Error(err))
		return OperationResult{}, classifyStripeError(err)
	}
	return OperationResult{Found: true, Ref: t.ID, Status: transferStatus(t)}, nil
}

// LookupRefund returns the most recent refund issued against the charge.
func (g *StripeGateway) LookupRefund(ctx context.Context, chargeRef string) (OperationResult, error) {
	params := &stripe.RefundListParams{PaymentIntent: stripe.String(chargeRef)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := g.api.Refunds.List(params)
	for iter.Next() {
		r := iter.Refund()
		return OperationResult{Found: true, Ref: r.ID, Status: refundStatus(r.Status)}, nil
	}
	if err := iter.Err(); err != nil {
		return OperationResult{}, classifyStripeError(err)
	}
	return OperationResult{}, nil
}

// LookupTransfer finds the balance payout made for the correlation id.
func (g *StripeGateway) LookupTransfer(ctx context.Context, correlationID string) (OperationResult, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(BalanceTransferGroup(correlationID))}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var transfers []*stripe.Transfer
	iter := g.api.Transfers.List(params)
	for iter.Next() {
		transfers = append(transfers, iter.Transfer())
	}
	if err := iter.Err(); err != nil {
		return OperationResult{}, classifyStripeError(err)
	}
	t := balancePayout(transfers, correlationID)
	if t == nil {
		return OperationResult{}, nil
	}
	return OperationResult{Found: true, Ref: t.ID, Status: transferStatus(t)}, nil
}

// balancePayout picks the transfer this gateway created as the balance payout,
// ignoring automatic transfers from destination charges.
func balancePayout(transfers []*stripe.Transfer, correlationID string) *stripe.Transfer {
	for _, t := range transfers {
		if t == nil || t.Metadata[metadataPurpose] != purposeBalance {
			continue
		}
		if t.Metadata[MetadataReservationID] != correlationID {
			continue
		}
		return t
	}
	return nil
}

func refundStatus(s stripe.RefundStatus) ProcessorStatus {
	switch s {
	case stripe.RefundStatusSucceeded:
		return ProcessorSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return ProcessorFailed
	default:
		return ProcessorPending
	}
}

func transferStatus(t *stripe.Transfer) ProcessorStatus {
	if t.Reversed {
		return ProcessorFailed
	}
	return ProcessorSucceeded
}

// classifyStripeError maps stripe-go errors onto the processor taxonomy.
func classifyStripeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProcessorError{Kind: KindTransient, Code: "timeout", Message: err.Error(), Err: err}
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		// No API response at all: network failure.
		return &ProcessorError{Kind: KindTransient, Message: err.Error(), Err: err}
	}

	code := string(se.Code)
	switch {
	case se.Code == stripe.ErrorCodeChargeAlreadyRefunded || strings.Contains(strings.ToLower(se.Msg), "already been refunded"):
		return &ProcessorError{Kind: KindAlreadyRefunded, Code: code, Message: se.Msg, Err: err}
	case se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.Type == stripe.ErrorTypeAPI:
		return &ProcessorError{Kind: KindTransient, Code: code, Message: se.Msg, Err: err}
	default:
		return &ProcessorError{Kind: KindPermanent, Code: code, Message: se.Msg, Err: err}
	}
}
