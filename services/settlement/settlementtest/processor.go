// Package settlementtest provides an in-memory payment processor for tests and local runs.
package settlementtest

import (
	"context"
	"fmt"
	"sync"

	"shutterbook/services/settlement"
)

// FakeProcessor succeeds by default. Set the *Err fields or hooks to script failures.
// Refunds and transfers are deduplicated by idempotency key like a real gateway.
type FakeProcessor struct {
	mu sync.Mutex

	ChargeErr   error
	CancelErr   error
	RefundErr   error
	TransferErr error
	// Block makes Refund and Transfer wait for the context to expire.
	Block bool

	Charges   []settlement.ChargeRequest
	Refunds   []settlement.RefundRequest
	Transfers []settlement.TransferRequest

	refundsByKey    map[string]settlement.OperationResult
	transfersByKey  map[string]settlement.OperationResult
	refundsByCharge map[string]settlement.OperationResult
	// Transfers by transfer group, as the processor stores them.
	transferGroups map[string][]fakeTransfer
	cancelled      map[string]bool
}

type fakeTransfer struct {
	result  settlement.OperationResult
	balance bool
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		refundsByKey:    make(map[string]settlement.OperationResult),
		transfersByKey:  make(map[string]settlement.OperationResult),
		refundsByCharge: make(map[string]settlement.OperationResult),
		transferGroups:  make(map[string][]fakeTransfer),
		cancelled:       make(map[string]bool),
	}
}

var _ settlement.Processor = (*FakeProcessor)(nil)

func (f *FakeProcessor) Charge(_ context.Context, req settlement.ChargeRequest) (settlement.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChargeErr != nil {
		return settlement.ChargeResult{}, f.ChargeErr
	}
	f.Charges = append(f.Charges, req)
	n := len(f.Charges)
	// A destination charge moves its share to the payee in the charge's own group.
	if req.Destination != "" {
		f.transferGroups[req.CorrelationID] = append(f.transferGroups[req.CorrelationID], fakeTransfer{
			result: settlement.OperationResult{Found: true, Ref: fmt.Sprintf("tr_auto_%d", n), Status: settlement.ProcessorSucceeded},
		})
	}
	return settlement.ChargeResult{
		Ref:          fmt.Sprintf("pi_%d", n),
		ClientSecret: fmt.Sprintf("pi_%d_secret", n),
	}, nil
}

func (f *FakeProcessor) CancelCharge(_ context.Context, chargeRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.cancelled[chargeRef] = true
	return nil
}

// Cancelled reports whether the charge was voided.
func (f *FakeProcessor) Cancelled(chargeRef string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[chargeRef]
}

func (f *FakeProcessor) Refund(ctx context.Context, req settlement.RefundRequest) (settlement.OperationResult, error) {
	if f.blocking() {
		<-ctx.Done()
		return settlement.OperationResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return settlement.OperationResult{}, f.RefundErr
	}
	if res, ok := f.refundsByKey[req.IdempotencyKey]; ok {
		return res, nil
	}
	f.Refunds = append(f.Refunds, req)
	res := settlement.OperationResult{Found: true, Ref: fmt.Sprintf("re_%d", len(f.Refunds)), Status: settlement.ProcessorSucceeded}
	f.refundsByKey[req.IdempotencyKey] = res
	f.refundsByCharge[req.ChargeRef] = res
	return res, nil
}

func (f *FakeProcessor) Transfer(ctx context.Context, req settlement.TransferRequest) (settlement.OperationResult, error) {
	if f.blocking() {
		<-ctx.Done()
		return settlement.OperationResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return settlement.OperationResult{}, f.TransferErr
	}
	if res, ok := f.transfersByKey[req.IdempotencyKey]; ok {
		return res, nil
	}
	f.Transfers = append(f.Transfers, req)
	res := settlement.OperationResult{Found: true, Ref: fmt.Sprintf("tr_%d", len(f.Transfers)), Status: settlement.ProcessorSucceeded}
	f.transfersByKey[req.IdempotencyKey] = res
	group := settlement.BalanceTransferGroup(req.CorrelationID)
	f.transferGroups[group] = append(f.transferGroups[group], fakeTransfer{result: res, balance: true})
	return res, nil
}

func (f *FakeProcessor) LookupRefund(_ context.Context, chargeRef string) (settlement.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refundsByCharge[chargeRef], nil
}

func (f *FakeProcessor) LookupTransfer(_ context.Context, correlationID string) (settlement.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transferGroups[settlement.BalanceTransferGroup(correlationID)] {
		if t.balance {
			return t.result, nil
		}
	}
	return settlement.OperationResult{}, nil
}

// SeedRefund records a refund the processor completed without the caller seeing the response.
func (f *FakeProcessor) SeedRefund(chargeRef string, res settlement.OperationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundsByCharge[chargeRef] = res
}

// SeedTransfer is SeedRefund for transfers.
func (f *FakeProcessor) SeedTransfer(correlationID string, res settlement.OperationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group := settlement.BalanceTransferGroup(correlationID)
	f.transferGroups[group] = append(f.transferGroups[group], fakeTransfer{result: res, balance: true})
}

// AutomaticTransfers lists the transfers destination charges created for the correlation id.
func (f *FakeProcessor) AutomaticTransfers(correlationID string) []settlement.OperationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []settlement.OperationResult
	for _, t := range f.transferGroups[correlationID] {
		out = append(out, t.result)
	}
	return out
}

func (f *FakeProcessor) SetBlock(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Block = block
}

func (f *FakeProcessor) blocking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Block
}

// RefundCount and TransferCount report distinct operations executed.
func (f *FakeProcessor) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Refunds)
}

func (f *FakeProcessor) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}
