package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/domain/shared/valueobject"
)

// paidFixture is a manual payment fully allocated to a single paid
// invoice, the usual starting point for refund flows.
func paidFixture(t *testing.T, f *serviceFixture) (*payment.Payment, *payment.Invoice) {
	t.Helper()
	contractID := uuid.New()
	inv := f.newInvoice("1200.00", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), contractID)
	inv.TotalPaid = dec("1200.00")
	inv.Status = payment.InvoiceStatusPaid

	original, err := payment.NewManualPayment(f.settings.ID, contractID, valueobject.NewMoneyNOK(dec("1200.00")), time.Now(), "")
	require.NoError(t, err)
	original.ReplaceAllocations(payment.AllocationEntries{{InvoiceID: inv.ID, Amount: dec("1200.00")}})
	return original, inv
}

// A manual refund is already paid out when it is recorded, so it starts
// completed/paid and rolls the touched invoice back in the same unit of
// work.
func TestRefundService_CreateRefund_ManualReopensInvoice(t *testing.T) {
	f := newServiceFixture(t)
	actorID := uuid.New()
	original, inv := paidFixture(t, f)

	f.uow.payments.On("FindByID", mock.Anything, original.ID).Return(original, nil)
	f.partners.On("RoleFor", mock.Anything, f.settings.ID, actorID).Return(partner.RoleAccounting, nil)

	// The recompute after the refund sees both rows.
	rows := []*payment.Payment{original, nil}
	f.uow.payments.On("Save", mock.Anything, mock.AnythingOfType("*payment.Payment")).
		Run(func(args mock.Arguments) { rows[1] = args.Get(1).(*payment.Payment) }).
		Return(nil)
	f.uow.payments.On("SaveWithLock", mock.Anything, original).Return(nil)
	f.uow.payments.On("FindRegisteredByInvoice", mock.Anything, inv.ID).Return(rows, nil)
	f.uow.invoices.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	f.uow.invoices.On("Save", mock.Anything, inv).Return(nil)
	f.uow.outbox.On("Save", mock.Anything, mock.Anything).Return(nil)

	refund, err := f.refunds.CreateRefund(context.Background(), actorID, CreateRefundRequest{
		PaymentID: original.ID,
		Amount:    dec("500.00"),
		Manual:    true,
		Note:      "tenant moved out",
	})
	require.NoError(t, err)

	assert.Equal(t, payment.TypeRefund, refund.Type)
	assert.Equal(t, payment.RefundStatusCompleted, refund.RefundStatus)
	assert.Equal(t, payment.RefundPaymentStatusPaid, refund.RefundPaymentStatus)
	assert.True(t, refund.ManualRefund)
	assert.True(t, refund.Amount.Equal(dec("-500.00")))
	require.Len(t, refund.Allocations, 1)
	assert.True(t, refund.Allocations[0].Amount.Equal(dec("-500.00")))

	assert.True(t, original.RefundedAmount.Equal(dec("500.00")))
	assert.True(t, original.PartiallyRefunded)
	assert.False(t, original.Refunded)

	assert.True(t, inv.TotalPaid.Equal(dec("700.00")))
	assert.NotEqual(t, payment.InvoiceStatusPaid, inv.Status)
}

// A system refund starts as an estimate: no money has moved, so invoice
// aggregates and the ledger stay untouched until the disbursement
// completes. Only the original payment's refund bookkeeping changes.
func TestRefundService_CreateRefund_EstimateDefersInvoiceRollback(t *testing.T) {
	f := newServiceFixture(t)
	actorID := uuid.New()
	original, inv := paidFixture(t, f)

	f.uow.payments.On("FindByID", mock.Anything, original.ID).Return(original, nil)
	f.partners.On("RoleFor", mock.Anything, f.settings.ID, actorID).Return(partner.RoleOwner, nil)
	f.uow.payments.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.uow.payments.On("SaveWithLock", mock.Anything, original).Return(nil)
	f.uow.outbox.On("Save", mock.Anything, mock.Anything).Return(nil)

	refund, err := f.refunds.CreateRefund(context.Background(), actorID, CreateRefundRequest{
		PaymentID: original.ID,
		Amount:    dec("500.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, payment.RefundStatusEstimated, refund.RefundStatus)
	assert.Equal(t, payment.RefundPaymentStatusPending, refund.RefundPaymentStatus)
	assert.True(t, original.PartiallyRefunded)

	// The paid invoice keeps its totals until the money actually leaves.
	f.uow.payments.AssertNotCalled(t, "FindRegisteredByInvoice", mock.Anything, inv.ID)
	f.uow.invoices.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	assert.True(t, inv.TotalPaid.Equal(dec("1200.00")))
	assert.Equal(t, payment.InvoiceStatusPaid, inv.Status)
}

func TestRefundService_CreateRefund_ExceedsRefundable(t *testing.T) {
	f := newServiceFixture(t)
	actorID := uuid.New()
	original, _ := paidFixture(t, f)

	f.uow.payments.On("FindByID", mock.Anything, original.ID).Return(original, nil)
	f.partners.On("RoleFor", mock.Anything, f.settings.ID, actorID).Return(partner.RoleAccounting, nil)

	_, err := f.refunds.CreateRefund(context.Background(), actorID, CreateRefundRequest{
		PaymentID: original.ID,
		Amount:    dec("1500.00"),
	})
	require.Error(t, err)
	f.uow.payments.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// Canceling a refund restores the original payment and the invoice to
// the exact state they had before the refund was created.
func TestRefundService_CancelRefund_RestoresEverything(t *testing.T) {
	f := newServiceFixture(t)
	actorID := uuid.New()
	original, inv := paidFixture(t, f)

	allocs, err := payment.BuildRefundAllocations(original, dec("500.00"))
	require.NoError(t, err)
	refund, err := payment.NewRefundPayment(original, dec("500.00"), allocs, payment.RefundStatusEstimated, false, "")
	require.NoError(t, err)
	require.NoError(t, original.RecordRefund(refund.ID, dec("500.00"), time.Now()))

	f.uow.payments.On("FindByID", mock.Anything, refund.ID).Return(refund, nil)
	f.uow.payments.On("FindByID", mock.Anything, original.ID).Return(original, nil)
	f.partners.On("RoleFor", mock.Anything, f.settings.ID, actorID).Return(partner.RoleAccounting, nil)
	f.uow.payments.On("SaveWithLock", mock.Anything, refund).Return(nil)
	f.uow.payments.On("SaveWithLock", mock.Anything, original).Return(nil)
	// Canceled refunds drop out of the registered set.
	f.uow.payments.On("FindRegisteredByInvoice", mock.Anything, inv.ID).Return([]*payment.Payment{original}, nil)
	f.uow.invoices.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	f.uow.invoices.On("Save", mock.Anything, inv).Return(nil)
	f.uow.outbox.On("Save", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.refunds.CancelRefund(context.Background(), actorID, refund.ID))

	assert.Equal(t, payment.RefundStatusCanceled, refund.RefundStatus)
	assert.True(t, original.RefundedAmount.IsZero())
	assert.False(t, original.PartiallyRefunded)
	assert.False(t, original.Refunded)
	assert.True(t, original.CanBeRefunded())
	assert.Empty(t, original.RefundPaymentIDs)

	assert.True(t, inv.TotalPaid.Equal(dec("1200.00")))
	assert.Equal(t, payment.InvoiceStatusPaid, inv.Status)

	// The row stays for the audit trail.
	f.uow.payments.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestRefundService_CancelRefund_CompletedRejected(t *testing.T) {
	f := newServiceFixture(t)
	actorID := uuid.New()
	original, _ := paidFixture(t, f)

	allocs, err := payment.BuildRefundAllocations(original, dec("500.00"))
	require.NoError(t, err)
	refund, err := payment.NewRefundPayment(original, dec("500.00"), allocs, payment.RefundStatusEstimated, false, "")
	require.NoError(t, err)
	require.NoError(t, refund.MarkCompleted())

	f.uow.payments.On("FindByID", mock.Anything, refund.ID).Return(refund, nil)
	f.partners.On("RoleFor", mock.Anything, f.settings.ID, actorID).Return(partner.RoleAccounting, nil)

	err = f.refunds.CancelRefund(context.Background(), actorID, refund.ID)
	require.Error(t, err)

	var domainErr *shared.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "REFUND_NOT_CANCELABLE", domainErr.Code)
}

func TestRefundService_CompleteAndFail(t *testing.T) {
	f := newServiceFixture(t)
	original, inv := paidFixture(t, f)

	allocs, err := payment.BuildRefundAllocations(original, dec("300.00"))
	require.NoError(t, err)
	refund, err := payment.NewRefundPayment(original, dec("300.00"), allocs, payment.RefundStatusEstimated, false, "")
	require.NoError(t, err)

	f.uow.payments.On("FindByID", mock.Anything, refund.ID).Return(refund, nil)
	f.uow.payments.On("SaveWithLock", mock.Anything, refund).Return(nil)

	require.NoError(t, f.refunds.FailRefund(context.Background(), refund.ID))
	assert.Equal(t, payment.RefundStatusFailed, refund.RefundStatus)
	// Nothing has been disbursed, so the invoice was not recomputed.
	f.uow.invoices.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)

	// A failed refund can still be retried to completion; the
	// disbursement is when the invoice rollback actually happens.
	refund.RefundStatus = payment.RefundStatusEstimated
	f.uow.payments.On("FindRegisteredByInvoice", mock.Anything, inv.ID).Return([]*payment.Payment{original, refund}, nil)
	f.uow.invoices.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
	f.uow.invoices.On("Save", mock.Anything, inv).Return(nil)
	f.uow.outbox.On("Save", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.refunds.CompleteRefund(context.Background(), refund.ID))
	assert.Equal(t, payment.RefundStatusCompleted, refund.RefundStatus)
	assert.Equal(t, payment.RefundPaymentStatusPaid, refund.RefundPaymentStatus)

	assert.True(t, inv.TotalPaid.Equal(dec("900.00")))
	assert.NotEqual(t, payment.InvoiceStatusPaid, inv.Status)
}
