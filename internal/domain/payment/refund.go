package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/domain/shared/valueobject"
)

// RefundStatus represents the lifecycle status of a refund
type RefundStatus string

const (
	// RefundStatusEstimated is a system-proposed refund not yet
	// confirmed by anyone
	RefundStatusEstimated RefundStatus = "estimated"
	// RefundStatusWaitingForSignature awaits tenant confirmation of
	// the receiving account
	RefundStatusWaitingForSignature RefundStatus = "waiting_for_signature"
	// RefundStatusCompleted means the money has been paid out
	RefundStatusCompleted RefundStatus = "completed"
	// RefundStatusFailed means the disbursement was rejected
	RefundStatusFailed RefundStatus = "failed"
	// RefundStatusCanceled means the refund was withdrawn before payout
	RefundStatusCanceled RefundStatus = "canceled"
)

// IsValid checks if the status is a valid RefundStatus
func (s RefundStatus) IsValid() bool {
	switch s {
	case RefundStatusEstimated, RefundStatusWaitingForSignature,
		RefundStatusCompleted, RefundStatusFailed, RefundStatusCanceled:
		return true
	}
	return false
}

// IsTerminal returns true if the refund can no longer change state
func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusCompleted || s == RefundStatusCanceled
}

// CanBeCanceled reports whether a refund in this status may still be
// withdrawn. Completed refunds are final; the money is gone.
func (s RefundStatus) CanBeCanceled() bool {
	return s == RefundStatusEstimated || s == RefundStatusWaitingForSignature || s == RefundStatusFailed
}

// RefundPaymentStatus tracks whether the refund disbursement has
// actually left the partner's account.
type RefundPaymentStatus string

const (
	RefundPaymentStatusPending RefundPaymentStatus = "pending"
	RefundPaymentStatusPaid    RefundPaymentStatus = "paid"
)

// NewRefundPayment creates a refund row against an original payment.
// The refund stores a negative amount and negative allocation entries;
// its effect on invoice aggregates is the exact mirror of a payment.
// A refund may start directly in completed, the manual path where the
// operator has already paid the money out; it can never start canceled.
func NewRefundPayment(original *Payment, amount decimal.Decimal, allocations AllocationEntries, status RefundStatus, manual bool, note string) (*Payment, error) {
	if !original.CanBeRefunded() {
		return nil, shared.NewDomainError("PAYMENT_NOT_REFUNDABLE", "payment cannot be refunded")
	}
	amount = valueobject.Round2Decimal(amount)
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_REFUND_AMOUNT", "refund amount must be positive")
	}
	if amount.GreaterThan(original.RefundableAmount()) {
		return nil, shared.NewDomainError("REFUND_EXCEEDS_PAYMENT", "refund amount exceeds refundable amount")
	}
	if !status.IsValid() || status == RefundStatusCanceled {
		return nil, shared.NewDomainError("INVALID_REFUND_STATUS", "refund cannot start canceled")
	}
	paymentStatus := RefundPaymentStatusPending
	if status == RefundStatusCompleted {
		paymentStatus = RefundPaymentStatusPaid
	}
	origID := original.ID
	p := &Payment{
		PartnerAggregateRoot: shared.NewPartnerAggregateRoot(original.PartnerID),
		Type:                 TypeRefund,
		Kind:                 original.Kind,
		Status:               StatusRegistered,
		Method:               original.Method,
		Amount:               amount.Neg(),
		Currency:             original.Currency,
		PaymentDate:          time.Now(),
		Allocations:          allocations,
		ContractID:           original.ContractID,
		TenantID:             original.TenantID,
		PropertyID:           original.PropertyID,
		OriginalPaymentID:    &origID,
		RefundStatus:         status,
		RefundPaymentStatus:  paymentStatus,
		ManualRefund:         manual,
		Note:                 note,
	}
	if len(allocations) > 0 {
		first := allocations[0].InvoiceID
		p.InvoiceID = &first
	}
	return p, nil
}

// MarkWaitingForSignature advances an estimated refund to await the
// tenant's account confirmation.
func (p *Payment) MarkWaitingForSignature() error {
	if err := p.requireRefund(); err != nil {
		return err
	}
	if p.RefundStatus != RefundStatusEstimated {
		return shared.NewDomainError("INVALID_REFUND_TRANSITION", "only estimated refunds can await signature")
	}
	p.RefundStatus = RefundStatusWaitingForSignature
	p.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted records that the refund has been disbursed.
func (p *Payment) MarkCompleted() error {
	if err := p.requireRefund(); err != nil {
		return err
	}
	if p.RefundStatus.IsTerminal() {
		return shared.NewDomainError("INVALID_REFUND_TRANSITION", "refund is already in a terminal state")
	}
	p.RefundStatus = RefundStatusCompleted
	p.RefundPaymentStatus = RefundPaymentStatusPaid
	p.UpdatedAt = time.Now()
	return nil
}

// MarkFailed records a rejected disbursement. The refund stays live
// and can be retried or canceled.
func (p *Payment) MarkFailed() error {
	if err := p.requireRefund(); err != nil {
		return err
	}
	if p.RefundStatus.IsTerminal() {
		return shared.NewDomainError("INVALID_REFUND_TRANSITION", "refund is already in a terminal state")
	}
	p.RefundStatus = RefundStatusFailed
	p.UpdatedAt = time.Now()
	return nil
}

// MarkCanceled withdraws the refund before payout.
func (p *Payment) MarkCanceled() error {
	if err := p.requireRefund(); err != nil {
		return err
	}
	if !p.RefundStatus.CanBeCanceled() {
		return shared.NewDomainError("REFUND_NOT_CANCELABLE", "refund can no longer be canceled")
	}
	p.RefundStatus = RefundStatusCanceled
	p.UpdatedAt = time.Now()
	return nil
}

// RefundDisbursed reports whether the refund money has actually left
// the partner's account. Only disbursed refunds count toward invoice
// aggregates and the ledger; estimates, pending signatures and failed
// attempts have not moved any money yet.
func (p *Payment) RefundDisbursed() bool {
	return p.Type == TypeRefund && p.RefundStatus == RefundStatusCompleted
}

func (p *Payment) requireRefund() error {
	if p.Type != TypeRefund {
		return shared.NewDomainError("NOT_A_REFUND", "payment is not a refund")
	}
	return nil
}

// BuildRefundAllocations walks the original payment's allocations in
// reverse and peels the refund amount off the most recently credited
// money first. Unapplied remaining comes off before consumed amounts,
// as a net-zero entry (negative amount, equally negative remaining)
// that lowers the invoice's gross without touching what it consumed.
// Money already claimed by earlier live refunds is skipped before the
// new refund starts taking.
func BuildRefundAllocations(original *Payment, amount decimal.Decimal) (AllocationEntries, error) {
	amount = valueobject.Round2Decimal(amount)
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_REFUND_AMOUNT", "refund amount must be positive")
	}
	if amount.GreaterThan(original.RefundableAmount()) {
		return nil, shared.NewDomainError("REFUND_EXCEEDS_PAYMENT", "refund amount exceeds refundable amount")
	}

	skip := original.RefundedAmount
	take := amount
	entries := AllocationEntries{}

	// Each allocation entry contributes two layers, newest on top:
	// its unconsumed remaining, then its consumed net amount.
	for i := len(original.Allocations) - 1; i >= 0 && take.IsPositive(); i-- {
		entry := original.Allocations[i]

		var taken decimal.Decimal
		taken, skip, take = peelLayer(entry.Remaining, skip, take)
		if taken.IsPositive() {
			entries = mergeEntry(entries, AllocationEntry{
				InvoiceID: entry.InvoiceID,
				Amount:    taken.Neg(),
				Remaining: taken.Neg(),
			})
		}

		taken, skip, take = peelLayer(entry.Net(), skip, take)
		if taken.IsPositive() {
			entries = mergeEntry(entries, AllocationEntry{
				InvoiceID: entry.InvoiceID,
				Amount:    taken.Neg(),
				Remaining: decimal.Zero,
			})
		}
	}

	if take.IsPositive() {
		return nil, shared.NewDomainError("REFUND_ALLOCATION_SHORTFALL", "original allocations cannot cover refund amount")
	}
	return entries, nil
}

// BuildTargetedRefundAllocation refunds against a single invoice of
// the original payment, used for manual refunds where the operator
// picks the invoice.
func BuildTargetedRefundAllocation(original *Payment, invoiceID uuid.UUID, amount decimal.Decimal) (AllocationEntries, error) {
	amount = valueobject.Round2Decimal(amount)
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_REFUND_AMOUNT", "refund amount must be positive")
	}
	if amount.GreaterThan(original.RefundableAmount()) {
		return nil, shared.NewDomainError("REFUND_EXCEEDS_PAYMENT", "refund amount exceeds refundable amount")
	}
	entry := original.Allocations.EntryFor(invoiceID)
	if entry == nil {
		return nil, shared.NewDomainError("REFUND_TARGET_NOT_ALLOCATED", "payment has no allocation on the target invoice")
	}
	if amount.GreaterThan(entry.Amount) {
		return nil, shared.NewDomainError("REFUND_EXCEEDS_ALLOCATION", "refund amount exceeds allocation on target invoice")
	}
	// Take the unapplied part of the slice before consumed money.
	remainingPart := decimal.Min(amount, entry.Remaining)
	return AllocationEntries{{
		InvoiceID: invoiceID,
		Amount:    amount.Neg(),
		Remaining: remainingPart.Neg(),
	}}, nil
}

// peelLayer consumes a layer of refundable money, first satisfying the
// skip (already refunded) then the take (this refund). Returns how much
// of the layer this refund takes and the updated skip/take budgets.
func peelLayer(layer, skip, take decimal.Decimal) (taken, newSkip, newTake decimal.Decimal) {
	if !layer.IsPositive() {
		return decimal.Zero, skip, take
	}
	skipped := decimal.Min(layer, skip)
	layer = layer.Sub(skipped)
	skip = skip.Sub(skipped)

	taken = decimal.Min(layer, take)
	take = take.Sub(taken)
	return taken, skip, take
}
