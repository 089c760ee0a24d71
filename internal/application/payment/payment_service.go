package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/domain/shared/valueobject"
	"github.com/rentledger/backend/internal/infrastructure/telemetry"
)

var validate = validator.New()

// PaymentService drives the payment lifecycle: classifying bank
// imports, registering manual payments, and rolling allocations
// forward or back. Every mutating operation runs in a single unit of
// work; side effects for other systems leave through the outbox.
type PaymentService struct {
	uowFactory payment.UnitOfWorkFactory
	partners   partner.Directory
	aggregates *InvoiceAggregateService
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(uowFactory payment.UnitOfWorkFactory, partners partner.Directory, aggregates *InvoiceAggregateService) *PaymentService {
	return &PaymentService{
		uowFactory: uowFactory,
		partners:   partners,
		aggregates: aggregates,
	}
}

// requireAccountingRole rejects actors without accounting access on
// the partner.
func (s *PaymentService) requireAccountingRole(ctx context.Context, partnerID, actorID uuid.UUID) error {
	role, err := s.partners.RoleFor(ctx, partnerID, actorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrPermissionDenied
		}
		return err
	}
	if !role.HasAccountingAccess() {
		return shared.ErrPermissionDenied
	}
	return nil
}

// MatchBankPayment classifies an imported bank payment and, when it
// resolves to an invoice, allocates and forwards it. Payments that
// cannot be placed end up unspecified, never errored.
func (s *PaymentService) MatchBankPayment(ctx context.Context, paymentID uuid.UUID) (*payment.Payment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "match_bank_payment")
	defer span.End()
	telemetry.SetAttribute(span, "payment_id", paymentID.String())

	var matched *payment.Payment
	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		p, err := uow.Payments().FindByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if p.Type != payment.TypePayment {
			return shared.NewDomainError("INVALID_STATE", "refunds are not matched against invoices")
		}
		if p.Status == payment.StatusRegistered {
			return shared.NewDomainError("INVALID_STATE", "payment is already registered")
		}

		matcher := payment.NewMatcher(s.partners, uow.Invoices(), uow.Contracts(), uow.Deposits())
		result, err := matcher.Classify(ctx, p)
		if err != nil {
			return fmt.Errorf("classify payment: %w", err)
		}
		telemetry.SetAttribute(span, "match_status", result.Status.String())
		p.ApplyClassification(result)

		var touched []uuid.UUID
		if result.Status == payment.StatusRegistered && result.InvoiceID != nil {
			touched, err = s.allocateToInvoice(ctx, uow, p, *result.InvoiceID)
			if err != nil {
				return err
			}
		}

		if err := uow.Payments().SaveWithLock(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		if err := s.aggregates.RecomputeAll(ctx, uow, touched); err != nil {
			return err
		}
		if result.Status == payment.StatusRegistered {
			if err := enqueueEvent(ctx, uow, payment.NewPaymentRegisteredEvent(p)); err != nil {
				return err
			}
		}
		matched = p
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return matched, nil
}

// allocateToInvoice points the full payment at one invoice and runs
// overpayment forwarding. Returns the invoices needing recomputation.
func (s *PaymentService) allocateToInvoice(ctx context.Context, uow payment.UnitOfWork, p *payment.Payment, invoiceID uuid.UUID) ([]uuid.UUID, error) {
	inv, err := uow.Invoices().FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	step := payment.AllocateToInvoice(p.AbsAmount(), inv, payment.ModeApply, true)
	p.ReplaceAllocations(payment.AllocationEntries{step.Entry})
	return s.forwardOverpayment(ctx, uow, p, inv)
}

// forwardOverpayment moves any remaining credit on the source invoice
// onto the contract's other open invoices.
func (s *PaymentService) forwardOverpayment(ctx context.Context, uow payment.UnitOfWork, p *payment.Payment, source *payment.Invoice) ([]uuid.UUID, error) {
	touched := p.Allocations.InvoiceIDs()

	entry := p.Allocations.EntryFor(source.ID)
	if entry == nil || !entry.Remaining.IsPositive() {
		return touched, nil
	}

	isolate := true
	if settings, err := s.partners.SettingsFor(ctx, p.PartnerID); err == nil {
		isolate = settings.NonRentIsolation
	}

	open, err := uow.Invoices().FindOpenByContract(ctx, source.ContractID)
	if err != nil {
		return nil, fmt.Errorf("load open invoices: %w", err)
	}
	candidates := payment.FilterForwardingCandidates(source, open, isolate)
	payment.SortForwardingCandidates(candidates)

	result := payment.ForwardOverpayment(p.Allocations, source.ID, candidates)
	p.ReplaceAllocations(result.Allocations)

	touched = append(touched, result.TouchedInvoiceIDs...)
	return touched, nil
}

// AddManualPaymentRequest registers money received outside the bank
// import, e.g. cash or a transfer matched by hand.
type AddManualPaymentRequest struct {
	PartnerID   uuid.UUID       `validate:"required"`
	ContractID  uuid.UUID       `validate:"required"`
	InvoiceID   *uuid.UUID      `validate:"omitempty"`
	Amount      decimal.Decimal `validate:"required"`
	PaymentDate time.Time       `validate:"required"`
	Note        string          `validate:"omitempty,max=500"`
}

// AddManualPayment creates a registered payment and distributes it
// over the contract's open invoices, or entirely onto the requested
// invoice.
func (s *PaymentService) AddManualPayment(ctx context.Context, actorID uuid.UUID, req AddManualPaymentRequest) (*payment.Payment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "add_manual_payment")
	defer span.End()
	telemetry.SetAttribute(span, "contract_id", req.ContractID.String())

	if err := validate.Struct(req); err != nil {
		return nil, shared.NewDomainError("VALIDATION_FAILURE", err.Error())
	}
	if err := s.requireAccountingRole(ctx, req.PartnerID, actorID); err != nil {
		return nil, err
	}

	money, err := valueobject.NewMoney(req.Amount, valueobject.DefaultCurrency)
	if err != nil {
		return nil, err
	}
	p, err := payment.NewManualPayment(req.PartnerID, req.ContractID, money, req.PaymentDate, req.Note)
	if err != nil {
		return nil, err
	}
	p.CreatedBy = &actorID

	err = s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		contract, err := uow.Contracts().FindByID(ctx, req.ContractID)
		if err != nil {
			return fmt.Errorf("load contract: %w", err)
		}
		if contract.PartnerID != req.PartnerID {
			return shared.ErrPermissionDenied
		}
		p.TenantID = contract.TenantID
		p.PropertyID = contract.PropertyID

		var touched []uuid.UUID
		if req.InvoiceID != nil {
			touched, err = s.allocateToInvoice(ctx, uow, p, *req.InvoiceID)
		} else {
			touched, err = s.allocateAcrossContract(ctx, uow, p, req.ContractID)
		}
		if err != nil {
			return err
		}

		if err := uow.Payments().Save(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		if err := s.aggregates.RecomputeAll(ctx, uow, touched); err != nil {
			return err
		}
		return enqueueEvent(ctx, uow, payment.NewPaymentRegisteredEvent(p))
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return p, nil
}

// allocateAcrossContract distributes the payment over the contract's
// open invoices in billing order; the last one absorbs any excess.
func (s *PaymentService) allocateAcrossContract(ctx context.Context, uow payment.UnitOfWork, p *payment.Payment, contractID uuid.UUID) ([]uuid.UUID, error) {
	open, err := uow.Invoices().FindOpenByContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("load open invoices: %w", err)
	}
	if len(open) == 0 {
		return nil, shared.NewDomainError("NO_OPEN_INVOICES", "contract has no open invoices to pay")
	}
	payment.SortInvoicesForAllocation(open)
	entries, err := payment.AllocateAcrossInvoices(p.AbsAmount(), open, payment.ModeApply)
	if err != nil {
		return nil, err
	}
	p.ReplaceAllocations(entries)
	return p.Allocations.InvoiceIDs(), nil
}

// EditManualPaymentRequest changes a manual payment's amount or date.
type EditManualPaymentRequest struct {
	PaymentID   uuid.UUID        `validate:"required"`
	Amount      *decimal.Decimal `validate:"omitempty"`
	PaymentDate *time.Time       `validate:"omitempty"`
	Note        *string          `validate:"omitempty"`
}

// EditManualPayment rebuilds the payment's allocation from scratch
// against the invoices it was already spread over. Rebuilding measures
// each invoice by its full total since the payment's own prior
// contribution is being replaced.
func (s *PaymentService) EditManualPayment(ctx context.Context, actorID uuid.UUID, req EditManualPaymentRequest) (*payment.Payment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "edit_manual_payment")
	defer span.End()
	telemetry.SetAttribute(span, "payment_id", req.PaymentID.String())

	if err := validate.Struct(req); err != nil {
		return nil, shared.NewDomainError("VALIDATION_FAILURE", err.Error())
	}

	var edited *payment.Payment
	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		p, err := uow.Payments().FindByID(ctx, req.PaymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if err := s.requireAccountingRole(ctx, p.PartnerID, actorID); err != nil {
			return err
		}
		if p.Type != payment.TypePayment || p.Method != payment.MethodManual {
			return shared.NewDomainError("INVALID_STATE", "only manual payments can be edited")
		}
		if p.RefundedAmount.IsPositive() {
			return shared.NewDomainError("INVALID_STATE", "payment with refunds cannot be edited")
		}

		before := p.Allocations.InvoiceIDs()

		if req.Amount != nil {
			money, err := valueobject.NewMoney(*req.Amount, valueobject.DefaultCurrency)
			if err != nil {
				return err
			}
			if !money.IsPositive() {
				return shared.NewDomainError("VALIDATION_FAILURE", "payment amount must be positive")
			}
			p.Amount = money.Round2().Amount()
		}
		if req.PaymentDate != nil {
			p.PaymentDate = *req.PaymentDate
		}
		if req.Note != nil {
			p.Note = *req.Note
		}

		touched := before
		if len(before) > 0 {
			invoices, err := uow.Invoices().FindByIDs(ctx, before)
			if err != nil {
				return fmt.Errorf("load allocated invoices: %w", err)
			}
			payment.SortInvoicesForAllocation(invoices)
			entries, err := payment.AllocateAcrossInvoices(p.AbsAmount(), invoices, payment.ModeEdit)
			if err != nil {
				return err
			}
			p.ReplaceAllocations(entries)

			if len(invoices) > 0 {
				last := invoices[len(invoices)-1]
				more, err := s.forwardOverpayment(ctx, uow, p, last)
				if err != nil {
					return err
				}
				touched = append(touched, more...)
			}
		}

		if err := uow.Payments().SaveWithLock(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		if err := s.aggregates.RecomputeAll(ctx, uow, touched); err != nil {
			return err
		}
		if err := enqueueEvent(ctx, uow, payment.NewPaymentAllocationUpdatedEvent(p, touched)); err != nil {
			return err
		}
		edited = p
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return edited, nil
}

// RemovePayment deletes a payment and rolls its invoice contributions
// back. Payments on contracts with a completed final settlement are
// frozen, as are payments with live refunds.
func (s *PaymentService) RemovePayment(ctx context.Context, actorID, paymentID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "remove_payment")
	defer span.End()
	telemetry.SetAttribute(span, "payment_id", paymentID.String())

	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		p, err := uow.Payments().FindByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if err := s.requireAccountingRole(ctx, p.PartnerID, actorID); err != nil {
			return err
		}
		if p.Type == payment.TypeRefund {
			return shared.NewDomainError("INVALID_STATE", "refunds are canceled, not removed")
		}
		if p.RefundedAmount.IsPositive() {
			return shared.NewDomainError("INVALID_STATE", "payment with refunds cannot be removed")
		}
		if p.ContractID != nil {
			contract, err := uow.Contracts().FindByID(ctx, *p.ContractID)
			if err != nil {
				return fmt.Errorf("load contract: %w", err)
			}
			if contract.FinalSettlementCompleted {
				return shared.NewDomainError("INVALID_STATE", "contract has completed final settlement")
			}
		}

		touched := p.Allocations.InvoiceIDs()
		removedEvent := payment.NewPaymentRemovedEvent(p, touched)

		if err := uow.Payments().Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		if err := s.aggregates.RecomputeAll(ctx, uow, touched); err != nil {
			return err
		}
		return enqueueEvent(ctx, uow, removedEvent)
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

// LinkUnspecifiedPaymentRequest ties a stranded payment to an invoice
// chosen by an operator.
type LinkUnspecifiedPaymentRequest struct {
	PaymentID uuid.UUID `validate:"required"`
	InvoiceID uuid.UUID `validate:"required"`
}

// LinkUnspecifiedPayment registers an unspecified payment against the
// given invoice, running the same allocation and forwarding as an
// automatic match. The final settlement gate still applies.
func (s *PaymentService) LinkUnspecifiedPayment(ctx context.Context, actorID uuid.UUID, req LinkUnspecifiedPaymentRequest) (*payment.Payment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "link_unspecified_payment")
	defer span.End()
	telemetry.SetAttribute(span, "payment_id", req.PaymentID.String())

	if err := validate.Struct(req); err != nil {
		return nil, shared.NewDomainError("VALIDATION_FAILURE", err.Error())
	}

	var linked *payment.Payment
	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		p, err := uow.Payments().FindByID(ctx, req.PaymentID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if p.Status != payment.StatusUnspecified {
			return shared.NewDomainError("INVALID_STATE", "only unspecified payments can be linked")
		}
		inv, err := uow.Invoices().FindByID(ctx, req.InvoiceID)
		if err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		if err := s.requireAccountingRole(ctx, inv.PartnerID, actorID); err != nil {
			return err
		}
		contract, err := uow.Contracts().FindByID(ctx, inv.ContractID)
		if err != nil {
			return fmt.Errorf("load contract: %w", err)
		}
		if contract.FinalSettlementCompleted && !(inv.IsFinalSettlement && inv.IsPayable()) {
			return shared.NewDomainError("INVALID_STATE", "contract has completed final settlement")
		}

		cid := inv.ContractID
		invID := inv.ID
		p.ApplyClassification(payment.MatchResult{
			Status:      payment.StatusRegistered,
			PartnerID:   inv.PartnerID,
			InvoiceID:   &invID,
			ContractID:  &cid,
			TenantID:    inv.TenantID,
			PropertyID:  inv.PropertyID,
			PaymentDate: p.PaymentDate,
		})

		touched, err := s.allocateToInvoice(ctx, uow, p, inv.ID)
		if err != nil {
			return err
		}
		if err := uow.Payments().SaveWithLock(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		if err := s.aggregates.RecomputeAll(ctx, uow, touched); err != nil {
			return err
		}
		if err := enqueueEvent(ctx, uow, payment.NewPaymentRegisteredEvent(p)); err != nil {
			return err
		}
		linked = p
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return linked, nil
}

// ListPayments returns a page of a partner's payments.
func (s *PaymentService) ListPayments(ctx context.Context, partnerID uuid.UUID, filter shared.Filter) (shared.Paginated[*payment.Payment], error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "list_payments")
	defer span.End()

	var page shared.Paginated[*payment.Payment]
	err := s.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		items, err := uow.Payments().FindAllForPartner(ctx, partnerID, filter)
		if err != nil {
			return err
		}
		total, err := uow.Payments().CountForPartner(ctx, partnerID, filter)
		if err != nil {
			return err
		}
		page = shared.NewPaginated(items, total, filter.Page, filter.PageSize)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return page, err
	}
	return page, nil
}
