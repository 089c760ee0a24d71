package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/telemetry"
)

// TransactionBridge mirrors payment allocations into the accounting
// ledger. The ledger is append-only and idempotent by natural key
// (partner, payment, invoice, amount, type): replayed work items find
// their rows already present and do nothing. Allocations that no
// longer exist are compensated with reversal rows, never deleted.
type TransactionBridge struct {
	uowFactory payment.UnitOfWorkFactory
}

// NewTransactionBridge creates a new TransactionBridge
func NewTransactionBridge(uowFactory payment.UnitOfWorkFactory) *TransactionBridge {
	return &TransactionBridge{uowFactory: uowFactory}
}

// SyncPayment reconciles the ledger with the payment's current
// allocation set: missing rows are created, stale rows are reversed.
// Only net amounts reach the ledger; parked remaining is not money
// applied to anything.
func (b *TransactionBridge) SyncPayment(ctx context.Context, uow payment.UnitOfWork, p *payment.Payment) error {
	rowType := payment.TransactionTypePayment
	if p.IsRefund() {
		rowType = payment.TransactionTypeRefund
	}
	period := p.PaymentDate.Format("2006-01")

	// Refund rows reach the ledger only once the money has actually
	// been paid out; estimates and pending signatures post nothing.
	desired := make(map[string]payment.NaturalKey)
	if p.Status == payment.StatusRegistered && (!p.IsRefund() || p.RefundDisbursed()) {
		for _, entry := range p.Allocations {
			net := entry.Net()
			if net.IsZero() {
				continue
			}
			key := payment.NaturalKey{
				PartnerID: p.PartnerID,
				PaymentID: p.ID,
				InvoiceID: entry.InvoiceID,
				Amount:    net,
				Type:      rowType,
			}
			desired[key.String()] = key
		}
	}

	existing, err := uow.Ledger().FindByPayment(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load ledger rows: %w", err)
	}

	reversed := indexReversals(existing)

	present := make(map[string]struct{})
	for _, row := range existing {
		key := row.NaturalKey()
		present[key.String()] = struct{}{}

		rev, ok := row.Type.ReversalType()
		if !ok {
			continue
		}
		if _, wanted := desired[key.String()]; wanted {
			continue
		}
		if _, done := reversed[key.String()]; done {
			continue
		}
		// Stale active row: compensate it.
		reversal, err := payment.NewLedgerTransaction(
			row.PartnerID, row.PaymentID, row.InvoiceID,
			row.Amount.Neg(), rev, period, row.Currency,
		)
		if err != nil {
			return err
		}
		if err := b.createIfAbsent(ctx, uow, reversal); err != nil {
			return err
		}
	}

	for keyStr, key := range desired {
		if _, ok := present[keyStr]; ok {
			continue
		}
		row, err := payment.NewLedgerTransaction(
			key.PartnerID, key.PaymentID, key.InvoiceID,
			key.Amount, key.Type, period, p.Currency,
		)
		if err != nil {
			return err
		}
		if err := b.createIfAbsent(ctx, uow, row); err != nil {
			return err
		}
	}
	return nil
}

func (b *TransactionBridge) createIfAbsent(ctx context.Context, uow payment.UnitOfWork, row *payment.LedgerTransaction) error {
	exists, err := uow.Ledger().Exists(ctx, row.NaturalKey())
	if err != nil {
		return fmt.Errorf("check ledger row: %w", err)
	}
	if exists {
		return nil
	}
	if err := uow.Ledger().Create(ctx, row); err != nil {
		return fmt.Errorf("create ledger row: %w", err)
	}
	return nil
}

// indexReversals maps each reversal row to the natural key of the
// active row it compensates.
func indexReversals(rows []*payment.LedgerTransaction) map[string]struct{} {
	reversed := make(map[string]struct{})
	for _, row := range rows {
		var original payment.TransactionType
		switch row.Type {
		case payment.TransactionTypePaymentReversal:
			original = payment.TransactionTypePayment
		case payment.TransactionTypeRefundReversal:
			original = payment.TransactionTypeRefund
		default:
			continue
		}
		key := payment.NaturalKey{
			PartnerID: row.PartnerID,
			PaymentID: row.PaymentID,
			InvoiceID: row.InvoiceID,
			Amount:    row.Amount.Neg(),
			Type:      original,
		}
		reversed[key.String()] = struct{}{}
	}
	return reversed
}

// TransactionBridgeHandler consumes payment lifecycle events from the
// work queue and drives the bridge. Events are delivered at least
// once; the natural-key check absorbs duplicates.
type TransactionBridgeHandler struct {
	bridge *TransactionBridge
}

// NewTransactionBridgeHandler creates a new TransactionBridgeHandler
func NewTransactionBridgeHandler(bridge *TransactionBridge) *TransactionBridgeHandler {
	return &TransactionBridgeHandler{bridge: bridge}
}

// EventTypes implements shared.EventHandler
func (h *TransactionBridgeHandler) EventTypes() []string {
	return []string{
		"PaymentRegistered",
		"PaymentAllocationUpdated",
		"PaymentRemoved",
		"RefundCreated",
		"RefundCompleted",
		"RefundCanceled",
	}
}

// Handle implements shared.EventHandler
func (h *TransactionBridgeHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "transaction_bridge", "handle_event")
	defer span.End()
	telemetry.SetAttribute(span, "event_type", event.EventType())

	switch event.EventType() {
	case "PaymentRegistered", "PaymentAllocationUpdated", "RefundCreated", "RefundCompleted", "RefundCanceled":
		err := h.syncByPaymentID(ctx, event.AggregateID())
		if err != nil {
			telemetry.RecordError(span, err)
		}
		return err
	case "PaymentRemoved":
		err := h.reverseRemovedPayment(ctx, event.AggregateID())
		if err != nil {
			telemetry.RecordError(span, err)
		}
		return err
	}
	return nil
}

func (h *TransactionBridgeHandler) syncByPaymentID(ctx context.Context, paymentID uuid.UUID) error {
	return h.bridge.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		p, err := uow.Payments().FindByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		return h.bridge.SyncPayment(ctx, uow, p)
	})
}

// reverseRemovedPayment compensates every active ledger row of a
// payment that no longer exists.
func (h *TransactionBridgeHandler) reverseRemovedPayment(ctx context.Context, paymentID uuid.UUID) error {
	return h.bridge.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		rows, err := uow.Ledger().FindByPayment(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("load ledger rows: %w", err)
		}
		reversed := indexReversals(rows)
		for _, row := range rows {
			rev, ok := row.Type.ReversalType()
			if !ok {
				continue
			}
			if _, done := reversed[row.NaturalKey().String()]; done {
				continue
			}
			reversal, err := payment.NewLedgerTransaction(
				row.PartnerID, row.PaymentID, row.InvoiceID,
				row.Amount.Neg(), rev, row.Period, row.Currency,
			)
			if err != nil {
				return err
			}
			if err := h.bridge.createIfAbsent(ctx, uow, reversal); err != nil {
				return err
			}
		}
		return nil
	})
}
