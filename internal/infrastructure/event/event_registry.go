package event

import (
	"github.com/rentledger/backend/internal/domain/payment"
)

// RegisterAllEvents registers all domain event types with the serializer
// This is required for the OutboxProcessor to deserialize events from the outbox table
func RegisterAllEvents(serializer *EventSerializer) {
	serializer.Register("PaymentRegistered", &payment.PaymentRegisteredEvent{})
	serializer.Register("PaymentAllocationUpdated", &payment.PaymentAllocationUpdatedEvent{})
	serializer.Register("PaymentRemoved", &payment.PaymentRemovedEvent{})
	serializer.Register("RefundCreated", &payment.RefundCreatedEvent{})
	serializer.Register("RefundCompleted", &payment.RefundCompletedEvent{})
	serializer.Register("RefundCanceled", &payment.RefundCanceledEvent{})
	serializer.Register("InvoiceSettled", &payment.InvoiceSettledEvent{})
}
