package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/shared"
)

// MatchResult is the matcher's verdict on a bank payment. A result
// with StatusUnspecified still carries whatever was resolved before
// classification stopped, so an operator can finish the job manually.
type MatchResult struct {
	Status             Status
	PartnerID          uuid.UUID
	InvoiceID          *uuid.UUID
	ContractID         *uuid.UUID
	TenantID           *uuid.UUID
	PropertyID         *uuid.UUID
	DepositInsuranceID *uuid.UUID
	PaymentDate        time.Time
	// Reason explains an unspecified verdict for operator display.
	Reason string
}

const (
	ReasonUnknownAccount       = "no partner owns the creditor account"
	ReasonNoInvoiceMatch       = "no invoice matches the payment reference"
	ReasonFinalSettlementGate  = "contract has completed final settlement"
	ReasonDepositInsuranceHit  = "collected on deposit insurance account"
	ReasonMatchedByReference   = "matched invoice by structured reference"
	ReasonMissingReference     = "payment carries no usable reference"
)

// Matcher classifies imported bank payments. It never fails a payment
// for being unmatchable: anything it cannot place degrades to
// unspecified and waits for manual linking.
type Matcher struct {
	partners  partner.Directory
	invoices  InvoiceStore
	contracts ContractStore
	deposits  DepositInsuranceDirectory
}

// NewMatcher creates a Matcher from its lookup ports.
func NewMatcher(partners partner.Directory, invoices InvoiceStore, contracts ContractStore, deposits DepositInsuranceDirectory) *Matcher {
	return &Matcher{
		partners:  partners,
		invoices:  invoices,
		contracts: contracts,
		deposits:  deposits,
	}
}

// Classify runs the matching pipeline for a bank payment:
//
//  1. deposit-insurance short-circuit on the collecting account
//  2. partner resolution from the creditor account number
//  3. invoice lookup by structured reference, oldest unpaid first
//  4. final-settlement gate on the invoice's contract
//
// Lookup errors other than not-found are returned; a failed match is a
// verdict, not an error.
func (m *Matcher) Classify(ctx context.Context, p *Payment) (MatchResult, error) {
	if p.Type != TypePayment {
		return MatchResult{}, shared.NewDomainError("NOT_CLASSIFIABLE", "only incoming payments are classified")
	}

	// Step 1: deposit insurance premiums are collected on dedicated
	// accounts and never touch invoices.
	if acc := partner.NormalizeAccountNumber(p.Meta.CreditorAccountNumber); acc != "" {
		ins, err := m.deposits.FindByCollectingAccount(ctx, acc)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return MatchResult{}, err
		}
		if ins != nil && ins.Active {
			insID := ins.ID
			cid := ins.ContractID
			settings, err := m.partners.SettingsFor(ctx, ins.PartnerID)
			if err != nil {
				return MatchResult{}, err
			}
			return MatchResult{
				Status:             StatusRegistered,
				PartnerID:          ins.PartnerID,
				ContractID:         &cid,
				DepositInsuranceID: &insID,
				PaymentDate:        NormalizePaymentDate(p.PaymentDate, settings.Location()),
				Reason:             ReasonDepositInsuranceHit,
			}, nil
		}
	}

	// Step 2: the creditor account tells us whose books this payment
	// belongs in.
	settings, err := m.partners.ResolveByBankAccount(ctx, p.Meta.CreditorAccountNumber)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return MatchResult{Status: StatusUnspecified, Reason: ReasonUnknownAccount}, nil
		}
		return MatchResult{}, err
	}

	unspecified := func(reason string) MatchResult {
		return MatchResult{
			Status:    StatusUnspecified,
			PartnerID: settings.ID,
			Reason:    reason,
		}
	}

	ref := p.Meta.StructuredReference
	if ref == "" {
		return unspecified(ReasonMissingReference), nil
	}

	// Step 3: prefer the oldest unpaid invoice carrying the reference;
	// when everything is settled fall back to the newest one so the
	// payment still lands on the right contract.
	inv, err := m.findInvoiceByReference(ctx, settings.ID, ref)
	if err != nil {
		return MatchResult{}, err
	}
	if inv == nil {
		return unspecified(ReasonNoInvoiceMatch), nil
	}

	// Step 4: a contract that finished its final settlement no longer
	// accepts money, except on the settlement invoice itself.
	contract, err := m.contracts.FindByID(ctx, inv.ContractID)
	if err != nil {
		return MatchResult{}, err
	}
	if !m.passesFinalSettlementGate(contract, inv) {
		return unspecified(ReasonFinalSettlementGate), nil
	}

	invID := inv.ID
	cid := inv.ContractID
	return MatchResult{
		Status:      StatusRegistered,
		PartnerID:   settings.ID,
		InvoiceID:   &invID,
		ContractID:  &cid,
		TenantID:    inv.TenantID,
		PropertyID:  inv.PropertyID,
		PaymentDate: NormalizePaymentDate(p.PaymentDate, settings.Location()),
		Reason:      ReasonMatchedByReference,
	}, nil
}

func (m *Matcher) findInvoiceByReference(ctx context.Context, partnerID uuid.UUID, ref string) (*Invoice, error) {
	open, err := m.invoices.FindByReference(ctx, partnerID, ref, false)
	if err != nil {
		return nil, err
	}
	for _, inv := range open {
		if inv.IsUnpaid() {
			return inv, nil
		}
	}

	// No open unpaid invoice; retry across every status and take the
	// most recent.
	all, err := m.invoices.FindByReference(ctx, partnerID, ref, true)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1], nil
}

// passesFinalSettlementGate decides whether a matched invoice may
// still receive money given its contract's settlement state.
func (m *Matcher) passesFinalSettlementGate(contract *Contract, inv *Invoice) bool {
	if !contract.FinalSettlementCompleted {
		return true
	}
	if inv.IsFinalSettlement && inv.IsPayable() {
		return true
	}
	// A rent invoice issued while the settlement was still running may
	// collect its outstanding balance.
	if contract.FinalSettlementStarted && !inv.IsNonRent() && inv.AmountDue().IsPositive() {
		return true
	}
	return false
}

// NormalizePaymentDate truncates a payment timestamp to midnight in
// the partner's timezone. Bank exports carry timestamps in varying
// zones; accounting cares about the local calendar day.
func NormalizePaymentDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
