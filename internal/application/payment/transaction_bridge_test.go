package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/domain/shared/valueobject"
)

type bridgeFixture struct {
	uow     *fakeUnitOfWork
	bridge  *TransactionBridge
	handler *TransactionBridgeHandler
	created []*payment.LedgerTransaction
}

func newBridgeFixture() *bridgeFixture {
	f := &bridgeFixture{uow: newFakeUnitOfWork()}
	f.bridge = NewTransactionBridge(&fakeUowFactory{uow: f.uow})
	f.handler = NewTransactionBridgeHandler(f.bridge)
	f.uow.ledger.On("Create", mock.Anything, mock.AnythingOfType("*payment.LedgerTransaction")).
		Run(func(args mock.Arguments) {
			f.created = append(f.created, args.Get(1).(*payment.LedgerTransaction))
		}).
		Return(nil)
	return f
}

func (f *bridgeFixture) findCreated(invoiceID uuid.UUID, txType payment.TransactionType) *payment.LedgerTransaction {
	for _, row := range f.created {
		if row.InvoiceID == invoiceID && row.Type == txType {
			return row
		}
	}
	return nil
}

func registeredPayment(t *testing.T, entries payment.AllocationEntries) *payment.Payment {
	t.Helper()
	total := entries.TotalAmount()
	p, err := payment.NewManualPayment(uuid.New(), uuid.New(), valueobject.NewMoneyNOK(total), time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	p.ReplaceAllocations(entries)
	return p
}

func TestTransactionBridge_CreatesRowPerNetContribution(t *testing.T) {
	f := newBridgeFixture()
	invX, invY, invZ := uuid.New(), uuid.New(), uuid.New()
	p := registeredPayment(t, payment.AllocationEntries{
		{InvoiceID: invX, Amount: dec("1200.00")},
		{InvoiceID: invY, Amount: dec("300.00")},
		// Fully parked slice: nothing applied, nothing booked.
		{InvoiceID: invZ, Amount: dec("100.00"), Remaining: dec("100.00")},
	})

	f.uow.ledger.On("FindByPayment", mock.Anything, p.ID).Return([]*payment.LedgerTransaction{}, nil)
	f.uow.ledger.On("Exists", mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, f.bridge.SyncPayment(context.Background(), f.uow, p))

	require.Len(t, f.created, 2)
	rowX := f.findCreated(invX, payment.TransactionTypePayment)
	require.NotNil(t, rowX)
	assert.True(t, rowX.Amount.Equal(dec("1200.00")))
	assert.Equal(t, "2026-03", rowX.Period)

	rowY := f.findCreated(invY, payment.TransactionTypePayment)
	require.NotNil(t, rowY)
	assert.True(t, rowY.Amount.Equal(dec("300.00")))
}

func TestTransactionBridge_ReplayIsNoOp(t *testing.T) {
	f := newBridgeFixture()
	invX := uuid.New()
	p := registeredPayment(t, payment.AllocationEntries{
		{InvoiceID: invX, Amount: dec("1200.00")},
	})

	row, err := payment.NewLedgerTransaction(p.PartnerID, p.ID, invX, dec("1200.00"), payment.TransactionTypePayment, "2026-03", "NOK")
	require.NoError(t, err)
	f.uow.ledger.On("FindByPayment", mock.Anything, p.ID).Return([]*payment.LedgerTransaction{row}, nil)

	require.NoError(t, f.bridge.SyncPayment(context.Background(), f.uow, p))

	assert.Empty(t, f.created)
	f.uow.ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// When forwarding moves money from one invoice to another, the old
// row is compensated with a reversal and the new contributions are
// booked; nothing is ever deleted.
func TestTransactionBridge_ReversesStaleRows(t *testing.T) {
	f := newBridgeFixture()
	invX, invY := uuid.New(), uuid.New()
	p := registeredPayment(t, payment.AllocationEntries{
		{InvoiceID: invX, Amount: dec("1200.00")},
		{InvoiceID: invY, Amount: dec("300.00")},
	})

	stale, err := payment.NewLedgerTransaction(p.PartnerID, p.ID, invX, dec("1500.00"), payment.TransactionTypePayment, "2026-03", "NOK")
	require.NoError(t, err)
	f.uow.ledger.On("FindByPayment", mock.Anything, p.ID).Return([]*payment.LedgerTransaction{stale}, nil)
	f.uow.ledger.On("Exists", mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, f.bridge.SyncPayment(context.Background(), f.uow, p))

	reversal := f.findCreated(invX, payment.TransactionTypePaymentReversal)
	require.NotNil(t, reversal)
	assert.True(t, reversal.Amount.Equal(dec("-1500.00")))

	require.NotNil(t, f.findCreated(invX, payment.TransactionTypePayment))
	require.NotNil(t, f.findCreated(invY, payment.TransactionTypePayment))
}

func TestTransactionBridge_StaleRowReversedOnlyOnce(t *testing.T) {
	f := newBridgeFixture()
	invX := uuid.New()
	p := registeredPayment(t, payment.AllocationEntries{
		{InvoiceID: invX, Amount: dec("1200.00")},
	})

	stale, err := payment.NewLedgerTransaction(p.PartnerID, p.ID, invX, dec("1500.00"), payment.TransactionTypePayment, "2026-03", "NOK")
	require.NoError(t, err)
	reversal, err := payment.NewLedgerTransaction(p.PartnerID, p.ID, invX, dec("-1500.00"), payment.TransactionTypePaymentReversal, "2026-03", "NOK")
	require.NoError(t, err)
	current, err := payment.NewLedgerTransaction(p.PartnerID, p.ID, invX, dec("1200.00"), payment.TransactionTypePayment, "2026-03", "NOK")
	require.NoError(t, err)

	f.uow.ledger.On("FindByPayment", mock.Anything, p.ID).
		Return([]*payment.LedgerTransaction{stale, reversal, current}, nil)

	require.NoError(t, f.bridge.SyncPayment(context.Background(), f.uow, p))
	assert.Empty(t, f.created)
}

func TestTransactionBridge_CanceledRefundFullyReversed(t *testing.T) {
	f := newBridgeFixture()
	invX := uuid.New()
	original := registeredPayment(t, payment.AllocationEntries{
		{InvoiceID: invX, Amount: dec("1200.00")},
	})
	allocs, err := payment.BuildRefundAllocations(original, dec("500.00"))
	require.NoError(t, err)
	refund, err := payment.NewRefundPayment(original, dec("500.00"), allocs, payment.RefundStatusEstimated, false, "")
	require.NoError(t, err)
	require.NoError(t, refund.MarkCanceled())

	booked, err := payment.NewLedgerTransaction(refund.PartnerID, refund.ID, invX, dec("-500.00"), payment.TransactionTypeRefund, "2026-03", "NOK")
	require.NoError(t, err)
	f.uow.ledger.On("FindByPayment", mock.Anything, refund.ID).Return([]*payment.LedgerTransaction{booked}, nil)
	f.uow.ledger.On("Exists", mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, f.bridge.SyncPayment(context.Background(), f.uow, refund))

	require.Len(t, f.created, 1)
	assert.Equal(t, payment.TransactionTypeRefundReversal, f.created[0].Type)
	assert.True(t, f.created[0].Amount.Equal(dec("500.00")))
}

// A refund posts to the ledger only once the money has actually been
// disbursed: pending refunds produce no rows, completion books them.
func TestTransactionBridge_PendingRefundPostsNothing(t *testing.T) {
	f := newBridgeFixture()
	invX := uuid.New()
	original := registeredPayment(t, payment.AllocationEntries{
		{InvoiceID: invX, Amount: dec("1200.00")},
	})
	allocs, err := payment.BuildRefundAllocations(original, dec("500.00"))
	require.NoError(t, err)
	refund, err := payment.NewRefundPayment(original, dec("500.00"), allocs, payment.RefundStatusEstimated, false, "")
	require.NoError(t, err)

	f.uow.ledger.On("FindByPayment", mock.Anything, refund.ID).Return([]*payment.LedgerTransaction{}, nil)

	require.NoError(t, f.bridge.SyncPayment(context.Background(), f.uow, refund))
	assert.Empty(t, f.created)

	require.NoError(t, refund.MarkCompleted())
	f.uow.ledger.On("Exists", mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, f.bridge.SyncPayment(context.Background(), f.uow, refund))
	require.Len(t, f.created, 1)
	assert.Equal(t, payment.TransactionTypeRefund, f.created[0].Type)
	assert.True(t, f.created[0].Amount.Equal(dec("-500.00")))
}

func TestTransactionBridgeHandler_RemovedPaymentReversesLedger(t *testing.T) {
	f := newBridgeFixture()
	partnerID, paymentID, invX := uuid.New(), uuid.New(), uuid.New()

	booked, err := payment.NewLedgerTransaction(partnerID, paymentID, invX, dec("1200.00"), payment.TransactionTypePayment, "2026-03", "NOK")
	require.NoError(t, err)
	f.uow.ledger.On("FindByPayment", mock.Anything, paymentID).Return([]*payment.LedgerTransaction{booked}, nil)
	f.uow.ledger.On("Exists", mock.Anything, mock.Anything).Return(false, nil)

	event := shared.NewBaseDomainEvent("PaymentRemoved", "Payment", paymentID, partnerID)
	require.NoError(t, f.handler.Handle(context.Background(), &event))

	require.Len(t, f.created, 1)
	assert.Equal(t, payment.TransactionTypePaymentReversal, f.created[0].Type)
	assert.True(t, f.created[0].Amount.Equal(dec("-1200.00")))
	assert.Equal(t, invX, f.created[0].InvoiceID)
}

func TestTransactionBridgeHandler_SyncEventsLoadThePayment(t *testing.T) {
	f := newBridgeFixture()
	invX := uuid.New()
	p := registeredPayment(t, payment.AllocationEntries{
		{InvoiceID: invX, Amount: dec("800.00")},
	})

	f.uow.payments.On("FindByID", mock.Anything, p.ID).Return(p, nil)
	f.uow.ledger.On("FindByPayment", mock.Anything, p.ID).Return([]*payment.LedgerTransaction{}, nil)
	f.uow.ledger.On("Exists", mock.Anything, mock.Anything).Return(false, nil)

	event := shared.NewBaseDomainEvent("PaymentRegistered", "Payment", p.ID, p.PartnerID)
	require.NoError(t, f.handler.Handle(context.Background(), &event))

	require.Len(t, f.created, 1)
	assert.True(t, f.created[0].Amount.Equal(dec("800.00")))
}
