package payment

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared/valueobject"
)

// ForwardResult describes how an overpayment was moved off its source
// invoice.
type ForwardResult struct {
	// Allocations is the payment's new allocation set.
	Allocations AllocationEntries
	// TouchedInvoiceIDs lists every invoice whose aggregates must be
	// recomputed: the source plus every receiver.
	TouchedInvoiceIDs []uuid.UUID
	// Forwarded is how much credit left the source invoice.
	Forwarded decimal.Decimal
	// Unapplied is credit that found no invoice and stays parked as
	// remaining on the payment.
	Unapplied decimal.Decimal
}

// SortForwardingCandidates orders the invoices overflow credit should
// be offered to: successors reissued after a partial credit come
// first, then oldest billing period first.
func SortForwardingCandidates(invoices []*Invoice) {
	sort.SliceStable(invoices, func(a, b int) bool {
		if invoices[a].PartiallyCreditedSuccessor != invoices[b].PartiallyCreditedSuccessor {
			return invoices[a].PartiallyCreditedSuccessor
		}
		if !invoices[a].InvoiceStartOn.Equal(invoices[b].InvoiceStartOn) {
			return invoices[a].InvoiceStartOn.Before(invoices[b].InvoiceStartOn)
		}
		return invoices[a].DueDate.Before(invoices[b].DueDate)
	})
}

// FilterForwardingCandidates keeps the invoices overflow credit from
// sourceInvoice may legally land on: open invoices of the same
// contract, never the source itself, and never across the rent /
// non-rent boundary when isolation is on.
func FilterForwardingCandidates(source *Invoice, invoices []*Invoice, isolateNonRent bool) []*Invoice {
	out := make([]*Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.ID == source.ID {
			continue
		}
		if inv.ContractID != source.ContractID {
			continue
		}
		if !inv.IsOpenForForwarding() {
			continue
		}
		if isolateNonRent && inv.IsNonRent() != source.IsNonRent() {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// ForwardOverpayment moves the remaining credit parked on the source
// invoice's allocation entry onto the candidate invoices, oldest
// first, as a flat work list. Candidates must already be filtered and
// sorted. Each candidate before the last absorbs at most its unpaid
// balance; the last absorbs everything left and parks any excess as
// its own remaining. With no candidates the credit stays where it is.
func ForwardOverpayment(allocs AllocationEntries, sourceInvoiceID uuid.UUID, candidates []*Invoice) ForwardResult {
	result := ForwardResult{
		Allocations: allocs.Clone(),
		Forwarded:   decimal.Zero,
		Unapplied:   decimal.Zero,
	}

	src := result.Allocations.EntryFor(sourceInvoiceID)
	if src == nil || !src.Remaining.IsPositive() {
		return result
	}
	if len(candidates) == 0 {
		result.Unapplied = src.Remaining
		return result
	}

	credit := src.Remaining

	// Pull the credit out of the source entry. An entry left with no
	// consumed amount is dropped entirely.
	src.Amount = valueobject.Round2Decimal(src.Amount.Sub(credit))
	src.Remaining = decimal.Zero
	if !src.Amount.IsPositive() {
		result.Allocations = removeEntry(result.Allocations, sourceInvoiceID)
	}
	touched := []uuid.UUID{sourceInvoiceID}

	for i, inv := range candidates {
		if credit.IsZero() {
			break
		}
		isLast := i == len(candidates)-1
		step := AllocateToInvoice(credit, inv, ModeApply, isLast)
		if step.Entry.Amount.IsPositive() {
			result.Allocations = mergeEntry(result.Allocations, step.Entry)
			result.Forwarded = valueobject.Round2Decimal(result.Forwarded.Add(step.Entry.Net()))
			result.Unapplied = valueobject.Round2Decimal(result.Unapplied.Add(step.Entry.Remaining))
			touched = append(touched, inv.ID)
		}
		credit = step.RemainingPayment
	}

	result.TouchedInvoiceIDs = touched
	return result
}

func removeEntry(entries AllocationEntries, invoiceID uuid.UUID) AllocationEntries {
	out := make(AllocationEntries, 0, len(entries))
	for _, e := range entries {
		if e.InvoiceID != invoiceID {
			out = append(out, e)
		}
	}
	return out
}
