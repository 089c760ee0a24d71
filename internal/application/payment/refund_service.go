package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/telemetry"
)

// RefundService creates and cancels refunds against registered
// payments. A refund and its cancellation are exact inverses: after
// cancel, the original payment's bookkeeping and every touched
// invoice look as if the refund had never existed.
type RefundService struct {
	uowFactory payment.UnitOfWorkFactory
	partners   partner.Directory
	aggregates *InvoiceAggregateService
}

// NewRefundService creates a new RefundService
func NewRefundService(uowFactory payment.UnitOfWorkFactory, partners partner.Directory, aggregates *InvoiceAggregateService) *RefundService {
	return &RefundService{
		uowFactory: uowFactory,
		partners:   partners,
		aggregates: aggregates,
	}
}

func (s *RefundService) requireAccountingRole(ctx context.Context, partnerID, actorID uuid.UUID) error {
	role, err := s.partners.RoleFor(ctx, partnerID, actorID)
	if err != nil {
		return shared.ErrPermissionDenied
	}
	if !role.HasAccountingAccess() {
		return shared.ErrPermissionDenied
	}
	return nil
}

// CreateRefundRequest issues a refund against a registered payment.
// With InvoiceID set the refund targets that invoice's slice of the
// payment; otherwise the amount is peeled off the newest allocations
// first.
type CreateRefundRequest struct {
	PaymentID uuid.UUID       `validate:"required"`
	Amount    decimal.Decimal `validate:"required"`
	InvoiceID *uuid.UUID      `validate:"omitempty"`
	Manual    bool
	Note      string `validate:"omitempty,max=500"`
}

// CreateRefund builds the refund row and records it on the original
// payment's bookkeeping. Manual refunds are money the operator has
// already paid out, so they start completed/paid and the touched
// invoices are rolled back immediately; system refunds start as
// estimates and leave invoice aggregates and the ledger untouched
// until the disbursement completes.
func (s *RefundService) CreateRefund(ctx context.Context, actorID uuid.UUID, req CreateRefundRequest) (*payment.Payment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "refund", "create_refund")
	defer span.End()
	telemetry.SetAttribute(span, "payment_id", req.PaymentID.String())

	if err := validate.Struct(req); err != nil {
		return nil, shared.NewDomainError("VALIDATION_FAILURE", err.Error())
	}

	var refund *payment.Payment
	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		original, err := uow.Payments().FindByID(ctx, req.PaymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if err := s.requireAccountingRole(ctx, original.PartnerID, actorID); err != nil {
			return err
		}
		if !original.CanBeRefunded() {
			return shared.NewDomainError("INVALID_STATE", "payment cannot be refunded")
		}

		var allocs payment.AllocationEntries
		if req.InvoiceID != nil {
			allocs, err = payment.BuildTargetedRefundAllocation(original, *req.InvoiceID, req.Amount)
		} else {
			allocs, err = payment.BuildRefundAllocations(original, req.Amount)
		}
		if err != nil {
			return err
		}

		status := payment.RefundStatusEstimated
		if req.Manual {
			status = payment.RefundStatusCompleted
		}

		switch original.Kind {
		case payment.KindInvoice, payment.KindAppInvoice:
			refund, err = payment.NewRefundPayment(original, req.Amount, allocs, status, req.Manual, req.Note)
		default:
			return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("unhandled payment kind %q", original.Kind))
		}
		if err != nil {
			return err
		}
		refund.CreatedBy = &actorID

		if err := original.RecordRefund(refund.ID, req.Amount, time.Now()); err != nil {
			return err
		}

		if err := uow.Payments().Save(ctx, refund); err != nil {
			return fmt.Errorf("save refund: %w", err)
		}
		if err := uow.Payments().SaveWithLock(ctx, original); err != nil {
			return fmt.Errorf("save original payment: %w", err)
		}
		// Only a disbursed refund changes what the invoices have been
		// paid; a pending one is bookkeeping on the original payment.
		if refund.RefundDisbursed() {
			if err := s.aggregates.RecomputeAll(ctx, uow, refund.Allocations.InvoiceIDs()); err != nil {
				return err
			}
		}
		return enqueueEvent(ctx, uow, payment.NewRefundCreatedEvent(refund))
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return refund, nil
}

// CancelRefund withdraws a refund that has not been paid out and
// reverses every trace of it: the original payment's refund
// bookkeeping, the touched invoices, and (through the bridge) the
// ledger rows.
func (s *RefundService) CancelRefund(ctx context.Context, actorID, refundPaymentID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "refund", "cancel_refund")
	defer span.End()
	telemetry.SetAttribute(span, "refund_payment_id", refundPaymentID.String())

	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		refund, err := uow.Payments().FindByID(ctx, refundPaymentID)
		if err != nil {
			return fmt.Errorf("load refund: %w", err)
		}
		if err := s.requireAccountingRole(ctx, refund.PartnerID, actorID); err != nil {
			return err
		}
		if refund.Type != payment.TypeRefund || refund.OriginalPaymentID == nil {
			return shared.NewDomainError("INVALID_STATE", "payment is not a refund")
		}

		if err := refund.MarkCanceled(); err != nil {
			return err
		}

		original, err := uow.Payments().FindByID(ctx, *refund.OriginalPaymentID)
		if err != nil {
			return fmt.Errorf("load original payment: %w", err)
		}
		if err := original.RevertRefund(refund.ID); err != nil {
			return err
		}

		touched := refund.Allocations.InvoiceIDs()
		canceledEvent := payment.NewRefundCanceledEvent(refund)

		// The refund keeps its row for the audit trail; canceled
		// refunds no longer count toward invoice aggregates.
		if err := uow.Payments().SaveWithLock(ctx, refund); err != nil {
			return fmt.Errorf("save refund: %w", err)
		}
		if err := uow.Payments().SaveWithLock(ctx, original); err != nil {
			return fmt.Errorf("save original payment: %w", err)
		}
		if err := s.aggregates.RecomputeAll(ctx, uow, touched); err != nil {
			return err
		}
		return enqueueEvent(ctx, uow, canceledEvent)
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

// CompleteRefund records a successful disbursement reported by the
// payout provider. The refund starts counting toward invoice
// aggregates at this point, so every touched invoice is recomputed
// and the bridge is told to post the ledger rows.
func (s *RefundService) CompleteRefund(ctx context.Context, refundPaymentID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "refund", "complete_refund")
	defer span.End()

	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		refund, err := uow.Payments().FindByID(ctx, refundPaymentID)
		if err != nil {
			return fmt.Errorf("load refund: %w", err)
		}
		if err := refund.MarkCompleted(); err != nil {
			return err
		}
		if err := uow.Payments().SaveWithLock(ctx, refund); err != nil {
			return fmt.Errorf("save refund: %w", err)
		}
		if err := s.aggregates.RecomputeAll(ctx, uow, refund.Allocations.InvoiceIDs()); err != nil {
			return err
		}
		return enqueueEvent(ctx, uow, payment.NewRefundCompletedEvent(refund))
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

// FailRefund records a rejected disbursement; the refund stays live
// for retry or cancellation.
func (s *RefundService) FailRefund(ctx context.Context, refundPaymentID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "refund", "fail_refund")
	defer span.End()

	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		refund, err := uow.Payments().FindByID(ctx, refundPaymentID)
		if err != nil {
			return fmt.Errorf("load refund: %w", err)
		}
		if err := refund.MarkFailed(); err != nil {
			return err
		}
		return uow.Payments().SaveWithLock(ctx, refund)
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}
