package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
)

// InvoiceAggregateService rebuilds the payment-derived fields of
// invoices from the registered payments referencing them. Every
// mutation of a payment's allocations funnels through Recompute for
// each touched invoice; the recomputation itself is idempotent, so
// replays and concurrent triggers are harmless.
type InvoiceAggregateService struct{}

// NewInvoiceAggregateService creates a new InvoiceAggregateService
func NewInvoiceAggregateService() *InvoiceAggregateService {
	return &InvoiceAggregateService{}
}

// Recompute reloads the invoice and every registered payment touching
// it, rebuilds the aggregates, and persists the invoice when anything
// changed. An InvoiceSettled event is queued when the recomputation
// flips the invoice to paid.
func (s *InvoiceAggregateService) Recompute(ctx context.Context, uow payment.UnitOfWork, invoiceID uuid.UUID) (bool, error) {
	inv, err := uow.Invoices().FindByID(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}

	payments, err := uow.Payments().FindRegisteredByInvoice(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("load payments for invoice %s: %w", invoiceID, err)
	}

	contributions := make([]payment.PaymentContribution, 0, len(payments))
	for _, p := range payments {
		contributions = append(contributions, payment.PaymentContribution{
			PaymentID:   p.ID,
			PaymentDate: p.PaymentDate,
			Net:         p.Allocations.NetFor(invoiceID),
			Gross:       p.Allocations.GrossFor(invoiceID),
		})
	}

	wasPaid := inv.Status == payment.InvoiceStatusPaid
	changed := inv.RecomputeAggregates(contributions, time.Now())
	if !changed {
		return false, nil
	}

	if err := uow.Invoices().Save(ctx, inv); err != nil {
		return false, fmt.Errorf("save invoice %s: %w", invoiceID, err)
	}

	if !wasPaid && inv.Status == payment.InvoiceStatusPaid {
		if err := enqueueEvent(ctx, uow, payment.NewInvoiceSettledEvent(inv)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// RecomputeAll runs Recompute for every invoice in the set, ignoring
// duplicates.
func (s *InvoiceAggregateService) RecomputeAll(ctx context.Context, uow payment.UnitOfWork, invoiceIDs []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(invoiceIDs))
	for _, id := range invoiceIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.Recompute(ctx, uow, id); err != nil {
			return err
		}
	}
	return nil
}

// enqueueEvent serializes a domain event into the transactional outbox
// so it is published if and only if the surrounding unit of work
// commits.
func enqueueEvent(ctx context.Context, uow payment.UnitOfWork, event shared.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", event.EventType(), err)
	}
	entry := shared.NewOutboxEntry(event.PartnerID(), event, payload)
	if err := uow.Outbox().Save(ctx, entry); err != nil {
		return fmt.Errorf("enqueue event %s: %w", event.EventType(), err)
	}
	return nil
}
