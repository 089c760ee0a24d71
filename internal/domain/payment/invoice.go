package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/domain/shared/valueobject"
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusNew       InvoiceStatus = "new"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCredited  InvoiceStatus = "credited"
	InvoiceStatusLost      InvoiceStatus = "lost"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusNew, InvoiceStatusOverdue, InvoiceStatusPaid,
		InvoiceStatusCredited, InvoiceStatusLost, InvoiceStatusCancelled:
		return true
	}
	return false
}

// IsClosed reports whether the invoice can no longer receive
// allocations.
func (s InvoiceStatus) IsClosed() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCredited ||
		s == InvoiceStatusLost || s == InvoiceStatusCancelled
}

// InvoiceClass separates rent invoices from everything else the
// contract bills for. Overpayment credit never crosses classes.
type InvoiceClass string

const (
	InvoiceClassRent    InvoiceClass = "rent"
	InvoiceClassNonRent InvoiceClass = "non_rent"
)

// Invoice is the billing document payments are allocated against. The
// engine owns only the payment-derived aggregate fields (TotalPaid,
// status transitions toward paid, the paid flags); everything else is
// written by the billing side.
type Invoice struct {
	shared.PartnerAggregateRoot
	ContractID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	TenantID            *uuid.UUID      `gorm:"type:uuid"`
	PropertyID          *uuid.UUID      `gorm:"type:uuid"`
	Number              string          `gorm:"type:varchar(50);not null"`
	StructuredReference string          `gorm:"type:varchar(50);index"`
	Class               InvoiceClass    `gorm:"type:varchar(20);not null;default:'rent'"`
	Status              InvoiceStatus   `gorm:"type:varchar(20);not null;index"`
	InvoiceTotal        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TotalPaid           decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CreditedAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	Currency            string          `gorm:"type:varchar(3);not null;default:'NOK'"`
	InvoiceStartOn      time.Time       `gorm:"not null;index"`
	DueDate             time.Time       `gorm:"not null;index"`
	LastPaymentDate     *time.Time
	IsOverPaid          bool `gorm:"not null;default:false"`
	IsPartiallyPaid     bool `gorm:"not null;default:false"`
	FeesPaid            bool `gorm:"not null;default:false"`

	// IsFinalSettlement marks the closing invoice issued when a
	// contract ends. PartiallyCreditedSuccessor marks an invoice
	// reissued to replace the uncredited part of a partially credited
	// predecessor; such invoices jump the forwarding queue.
	IsFinalSettlement          bool `gorm:"not null;default:false"`
	PartiallyCreditedSuccessor bool `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (Invoice) TableName() string {
	return "invoices"
}

// IsNonRent reports whether this invoice bills something other than
// rent.
func (i *Invoice) IsNonRent() bool {
	return i.Class == InvoiceClassNonRent
}

// PayableTotal is the amount that counts as fully paying the invoice:
// the invoice total adjusted by credited amount. CreditedAmount may be
// negative when the invoice was over-credited.
func (i *Invoice) PayableTotal() decimal.Decimal {
	return valueobject.Round2Decimal(i.InvoiceTotal.Add(i.CreditedAmount))
}

// AmountDue is the outstanding balance: invoice total minus payments
// plus credits, never negative, rounded to 2 decimals.
func (i *Invoice) AmountDue() decimal.Decimal {
	due := i.InvoiceTotal.Sub(i.TotalPaid).Add(i.CreditedAmount)
	due = valueobject.Round2Decimal(due)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// UnpaidBalance is invoice total minus payments, ignoring credits.
// The allocator distributes against this figure.
func (i *Invoice) UnpaidBalance() decimal.Decimal {
	return valueobject.Round2Decimal(i.InvoiceTotal.Sub(i.TotalPaid))
}

// IsUnpaid reports whether the invoice still has an unpaid balance.
func (i *Invoice) IsUnpaid() bool {
	return i.InvoiceTotal.GreaterThan(i.TotalPaid)
}

// IsPayable reports whether the invoice may receive new allocations.
func (i *Invoice) IsPayable() bool {
	return !i.Status.IsClosed()
}

// IsOpenForForwarding reports whether forwarded overpayment credit may
// land on this invoice.
func (i *Invoice) IsOpenForForwarding() bool {
	return i.Status == InvoiceStatusNew || i.Status == InvoiceStatusOverdue
}

// PaymentContribution is one payment's net contribution to an invoice,
// as collected when recomputing invoice aggregates.
type PaymentContribution struct {
	PaymentID   uuid.UUID
	PaymentDate time.Time
	Net         decimal.Decimal
	Gross       decimal.Decimal
}

// RecomputeAggregates rebuilds the payment-derived fields of the
// invoice from the full set of registered payment contributions. It is
// a pure recomputation: running it twice on the same inputs changes
// nothing the second time. Credited, lost and cancelled statuses are
// never downgraded.
func (i *Invoice) RecomputeAggregates(contributions []PaymentContribution, now time.Time) bool {
	net := decimal.Zero
	gross := decimal.Zero
	var lastPayment *time.Time
	for _, c := range contributions {
		net = net.Add(c.Net)
		gross = gross.Add(c.Gross)
		if !c.Net.IsZero() || !c.Gross.IsZero() {
			d := c.PaymentDate
			if lastPayment == nil || d.After(*lastPayment) {
				lastPayment = &d
			}
		}
	}
	net = valueobject.Round2Decimal(net)
	gross = valueobject.Round2Decimal(gross)

	payable := i.PayableTotal()

	changed := false
	if !i.TotalPaid.Equal(net) {
		i.TotalPaid = net
		changed = true
	}

	overPaid := gross.GreaterThan(payable)
	if i.IsOverPaid != overPaid {
		i.IsOverPaid = overPaid
		changed = true
	}

	partiallyPaid := net.IsPositive() && net.LessThan(payable)
	if i.IsPartiallyPaid != partiallyPaid {
		i.IsPartiallyPaid = partiallyPaid
		changed = true
	}

	if !equalTimePtr(i.LastPaymentDate, lastPayment) {
		i.LastPaymentDate = lastPayment
		changed = true
	}

	fullyPaid := net.GreaterThanOrEqual(payable)
	if fullyPaid {
		if !i.FeesPaid {
			i.FeesPaid = true
			changed = true
		}
		if i.Status == InvoiceStatusNew || i.Status == InvoiceStatusOverdue {
			i.Status = InvoiceStatusPaid
			changed = true
		}
	} else {
		if i.FeesPaid {
			i.FeesPaid = false
			changed = true
		}
		switch i.Status {
		case InvoiceStatusPaid:
			// Payment was removed or refunded; reopen.
			if now.After(i.DueDate) {
				i.Status = InvoiceStatusOverdue
			} else {
				i.Status = InvoiceStatusNew
			}
			changed = true
		case InvoiceStatusNew:
			if now.After(i.DueDate) {
				i.Status = InvoiceStatusOverdue
				changed = true
			}
		}
	}

	if changed {
		i.UpdatedAt = now
	}
	return changed
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Contract carries the slice of contract state the payment engine
// reads: the final settlement gate and the identifiers payments inherit.
type Contract struct {
	shared.PartnerAggregateRoot
	TenantID                 *uuid.UUID `gorm:"type:uuid"`
	PropertyID               *uuid.UUID `gorm:"type:uuid"`
	FinalSettlementStarted   bool       `gorm:"not null;default:false"`
	FinalSettlementCompleted bool       `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (Contract) TableName() string {
	return "contracts"
}

// DepositInsurance is a deposit-insurance agreement whose premium
// payments are collected on a dedicated bank account. Payments landing
// there bypass invoice matching entirely.
type DepositInsurance struct {
	shared.PartnerAggregateRoot
	ContractID              uuid.UUID `gorm:"type:uuid;not null;index"`
	CollectingAccountNumber string    `gorm:"type:varchar(20);not null;index"`
	ReferenceCode           string    `gorm:"type:varchar(50);index"`
	Active                  bool      `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (DepositInsurance) TableName() string {
	return "deposit_insurances"
}
