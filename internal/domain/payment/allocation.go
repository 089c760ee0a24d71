package payment

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/domain/shared/valueobject"
)

// AllocationMode controls how an invoice's capacity is measured while
// allocating.
type AllocationMode string

const (
	// ModeApply measures capacity as the unpaid balance. Used when a
	// payment is first distributed.
	ModeApply AllocationMode = "apply"
	// ModeEdit measures capacity as the full invoice total. Used when
	// an existing payment's allocation is rebuilt from scratch, since
	// the payment's own prior contribution has already been backed out.
	ModeEdit AllocationMode = "edit"
)

// AllocationStep is the outcome of allocating part of a payment to a
// single invoice.
type AllocationStep struct {
	Entry            AllocationEntry
	RemainingPayment decimal.Decimal
}

// allocationCapacity returns the amount the invoice can still absorb
// under the given mode, floored at zero and rounded.
func allocationCapacity(inv *Invoice, mode AllocationMode) decimal.Decimal {
	var capacity decimal.Decimal
	if mode == ModeEdit {
		capacity = inv.InvoiceTotal
	} else {
		capacity = inv.InvoiceTotal.Sub(inv.TotalPaid)
	}
	capacity = valueobject.Round2Decimal(capacity)
	if capacity.IsNegative() {
		return decimal.Zero
	}
	return capacity
}

// AllocateToInvoice applies the single-invoice allocation rule. The
// last invoice in a run absorbs the entire remaining payment; whatever
// exceeds its capacity is parked as the entry's Remaining. Earlier
// invoices absorb at most their capacity and pass the rest on.
func AllocateToInvoice(amount decimal.Decimal, inv *Invoice, mode AllocationMode, isLast bool) AllocationStep {
	amount = valueobject.Round2Decimal(amount)
	capacity := allocationCapacity(inv, mode)

	if isLast || (amount.LessThanOrEqual(capacity) && capacity.IsPositive()) {
		remaining := decimal.Zero
		if isLast && amount.GreaterThan(capacity) {
			remaining = amount.Sub(capacity)
		}
		return AllocationStep{
			Entry: AllocationEntry{
				InvoiceID: inv.ID,
				Amount:    amount,
				Remaining: valueobject.Round2Decimal(remaining),
			},
			RemainingPayment: decimal.Zero,
		}
	}

	return AllocationStep{
		Entry: AllocationEntry{
			InvoiceID: inv.ID,
			Amount:    capacity,
			Remaining: decimal.Zero,
		},
		RemainingPayment: valueobject.Round2Decimal(amount.Sub(capacity)),
	}
}

// SortInvoicesForAllocation orders invoices the way money should land
// on them: by billing period start, then due date, then creation time.
func SortInvoicesForAllocation(invoices []*Invoice) {
	sort.SliceStable(invoices, func(a, b int) bool {
		if !invoices[a].InvoiceStartOn.Equal(invoices[b].InvoiceStartOn) {
			return invoices[a].InvoiceStartOn.Before(invoices[b].InvoiceStartOn)
		}
		if !invoices[a].DueDate.Equal(invoices[b].DueDate) {
			return invoices[a].DueDate.Before(invoices[b].DueDate)
		}
		return invoices[a].CreatedAt.Before(invoices[b].CreatedAt)
	})
}

// AllocateAcrossInvoices distributes a payment amount over the given
// invoices in order. The final invoice absorbs everything left, parking
// any excess as Remaining, so the entries always account for the full
// amount. At least one invoice is required.
func AllocateAcrossInvoices(amount decimal.Decimal, invoices []*Invoice, mode AllocationMode) (AllocationEntries, error) {
	if len(invoices) == 0 {
		return nil, shared.NewDomainError("NO_ALLOCATION_TARGET", "cannot allocate payment without invoices")
	}
	amount = valueobject.Round2Decimal(amount)
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_ALLOCATION_AMOUNT", "allocation amount must be positive")
	}

	entries := make(AllocationEntries, 0, len(invoices))
	remaining := amount
	for i, inv := range invoices {
		if remaining.IsZero() {
			break
		}
		isLast := i == len(invoices)-1
		step := AllocateToInvoice(remaining, inv, mode, isLast)
		if step.Entry.Amount.IsPositive() || step.Entry.Remaining.IsPositive() {
			entries = mergeEntry(entries, step.Entry)
		}
		remaining = step.RemainingPayment
	}
	return entries, nil
}

// mergeEntry folds a new entry into the set, summing amounts when the
// invoice already holds a slice of this payment.
func mergeEntry(entries AllocationEntries, entry AllocationEntry) AllocationEntries {
	for i := range entries {
		if entries[i].InvoiceID == entry.InvoiceID {
			entries[i].Amount = valueobject.Round2Decimal(entries[i].Amount.Add(entry.Amount))
			entries[i].Remaining = valueobject.Round2Decimal(entries[i].Remaining.Add(entry.Remaining))
			return entries
		}
	}
	return append(entries, entry)
}
