package payment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared"
)

// PaymentRegisteredEvent is raised when a payment reaches registered
// status, whether matched from a bank import or entered manually.
type PaymentRegisteredEvent struct {
	shared.BaseDomainEvent
	PaymentType Type              `json:"payment_type"`
	Method      Method            `json:"method"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	ContractID  *uuid.UUID        `json:"contract_id,omitempty"`
	Allocations AllocationEntries `json:"allocations"`
}

// EventType returns the event type name
func (e *PaymentRegisteredEvent) EventType() string {
	return "PaymentRegistered"
}

// NewPaymentRegisteredEvent creates a new PaymentRegisteredEvent
func NewPaymentRegisteredEvent(p *Payment) *PaymentRegisteredEvent {
	return &PaymentRegisteredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentRegistered", "Payment", p.ID, p.PartnerID),
		PaymentType:     p.Type,
		Method:          p.Method,
		Amount:          p.Amount,
		Currency:        p.Currency,
		ContractID:      p.ContractID,
		Allocations:     p.Allocations.Clone(),
	}
}

// PaymentAllocationUpdatedEvent is raised when an existing payment's
// allocation set changes: edits, overpayment forwarding, manual
// linking, or refund recomputation.
type PaymentAllocationUpdatedEvent struct {
	shared.BaseDomainEvent
	Allocations       AllocationEntries `json:"allocations"`
	TouchedInvoiceIDs []uuid.UUID       `json:"touched_invoice_ids"`
}

// EventType returns the event type name
func (e *PaymentAllocationUpdatedEvent) EventType() string {
	return "PaymentAllocationUpdated"
}

// NewPaymentAllocationUpdatedEvent creates a new PaymentAllocationUpdatedEvent
func NewPaymentAllocationUpdatedEvent(p *Payment, touched []uuid.UUID) *PaymentAllocationUpdatedEvent {
	return &PaymentAllocationUpdatedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent("PaymentAllocationUpdated", "Payment", p.ID, p.PartnerID),
		Allocations:       p.Allocations.Clone(),
		TouchedInvoiceIDs: touched,
	}
}

// PaymentRemovedEvent is raised when a payment is deleted and its
// invoice contributions are rolled back.
type PaymentRemovedEvent struct {
	shared.BaseDomainEvent
	Amount            decimal.Decimal `json:"amount"`
	TouchedInvoiceIDs []uuid.UUID     `json:"touched_invoice_ids"`
}

// EventType returns the event type name
func (e *PaymentRemovedEvent) EventType() string {
	return "PaymentRemoved"
}

// NewPaymentRemovedEvent creates a new PaymentRemovedEvent
func NewPaymentRemovedEvent(p *Payment, touched []uuid.UUID) *PaymentRemovedEvent {
	return &PaymentRemovedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent("PaymentRemoved", "Payment", p.ID, p.PartnerID),
		Amount:            p.Amount,
		TouchedInvoiceIDs: touched,
	}
}

// RefundCreatedEvent is raised when a refund row is created against an
// original payment.
type RefundCreatedEvent struct {
	shared.BaseDomainEvent
	OriginalPaymentID uuid.UUID         `json:"original_payment_id"`
	Amount            decimal.Decimal   `json:"amount"`
	RefundStatus      RefundStatus      `json:"refund_status"`
	Manual            bool              `json:"manual"`
	Allocations       AllocationEntries `json:"allocations"`
}

// EventType returns the event type name
func (e *RefundCreatedEvent) EventType() string {
	return "RefundCreated"
}

// NewRefundCreatedEvent creates a new RefundCreatedEvent
func NewRefundCreatedEvent(refund *Payment) *RefundCreatedEvent {
	return &RefundCreatedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent("RefundCreated", "Payment", refund.ID, refund.PartnerID),
		OriginalPaymentID: *refund.OriginalPaymentID,
		Amount:            refund.Amount,
		RefundStatus:      refund.RefundStatus,
		Manual:            refund.ManualRefund,
		Allocations:       refund.Allocations.Clone(),
	}
}

// RefundCompletedEvent is raised when a pending refund's disbursement
// succeeds; from this point the refund counts toward invoice
// aggregates and the ledger.
type RefundCompletedEvent struct {
	shared.BaseDomainEvent
	OriginalPaymentID uuid.UUID         `json:"original_payment_id"`
	Amount            decimal.Decimal   `json:"amount"`
	Allocations       AllocationEntries `json:"allocations"`
}

// EventType returns the event type name
func (e *RefundCompletedEvent) EventType() string {
	return "RefundCompleted"
}

// NewRefundCompletedEvent creates a new RefundCompletedEvent
func NewRefundCompletedEvent(refund *Payment) *RefundCompletedEvent {
	return &RefundCompletedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent("RefundCompleted", "Payment", refund.ID, refund.PartnerID),
		OriginalPaymentID: *refund.OriginalPaymentID,
		Amount:            refund.Amount,
		Allocations:       refund.Allocations.Clone(),
	}
}

// RefundCanceledEvent is raised when a refund is withdrawn and its
// bookkeeping reversed.
type RefundCanceledEvent struct {
	shared.BaseDomainEvent
	OriginalPaymentID uuid.UUID       `json:"original_payment_id"`
	Amount            decimal.Decimal `json:"amount"`
}

// EventType returns the event type name
func (e *RefundCanceledEvent) EventType() string {
	return "RefundCanceled"
}

// NewRefundCanceledEvent creates a new RefundCanceledEvent
func NewRefundCanceledEvent(refund *Payment) *RefundCanceledEvent {
	return &RefundCanceledEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent("RefundCanceled", "Payment", refund.ID, refund.PartnerID),
		OriginalPaymentID: *refund.OriginalPaymentID,
		Amount:            refund.Amount,
	}
}

// InvoiceSettledEvent is raised when recomputation flips an invoice to
// paid.
type InvoiceSettledEvent struct {
	shared.BaseDomainEvent
	ContractID uuid.UUID       `json:"contract_id"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
}

// EventType returns the event type name
func (e *InvoiceSettledEvent) EventType() string {
	return "InvoiceSettled"
}

// NewInvoiceSettledEvent creates a new InvoiceSettledEvent
func NewInvoiceSettledEvent(inv *Invoice) *InvoiceSettledEvent {
	return &InvoiceSettledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("InvoiceSettled", "Invoice", inv.ID, inv.PartnerID),
		ContractID:      inv.ContractID,
		TotalPaid:       inv.TotalPaid,
	}
}
