package payment

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/domain/shared/valueobject"
)

// Type distinguishes money coming in from money going back out.
type Type string

const (
	TypePayment Type = "payment"
	TypeRefund  Type = "refund"
)

// IsValid checks if the type is a valid payment Type
func (t Type) IsValid() bool {
	return t == TypePayment || t == TypeRefund
}

// Status represents the classification status of a payment
type Status string

const (
	// StatusNew is an imported bank payment not yet classified
	StatusNew Status = "new"
	// StatusUnspecified is a payment that could not be tied to an invoice,
	// or that was blocked by a completed final settlement
	StatusUnspecified Status = "unspecified"
	// StatusRegistered is a payment matched and allocated to invoices
	StatusRegistered Status = "registered"
)

// IsValid checks if the status is a valid payment Status
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusUnspecified, StatusRegistered:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Kind is the closed set of payment origins the engine dispatches on.
// Adding a kind requires extending every switch over it.
type Kind string

const (
	// KindInvoice covers payments against contract invoices
	KindInvoice Kind = "invoice"
	// KindAppInvoice covers payments against application-fee invoices
	KindAppInvoice Kind = "app_invoice"
)

// IsValid checks if the kind is a valid payment Kind
func (k Kind) IsValid() bool {
	return k == KindInvoice || k == KindAppInvoice
}

// Method records how the money arrived.
type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodManual       Method = "manual"
	MethodDirectDebit  Method = "direct_debit"
)

// AllocationEntry records how much of a payment is parked on one
// invoice. Amount is the gross slice of the payment assigned to the
// invoice; Remaining is the part of that slice the invoice did not
// consume (overpayment credit awaiting forwarding). The invoice's net
// contribution is Amount minus Remaining.
type AllocationEntry struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Net returns the money actually consumed by the invoice.
func (e AllocationEntry) Net() decimal.Decimal {
	return e.Amount.Sub(e.Remaining)
}

// AllocationEntries is stored as a JSONB column on the payment row.
type AllocationEntries []AllocationEntry

// Value implements driver.Valuer interface for GORM to store as JSONB
func (a AllocationEntries) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (a *AllocationEntries) Scan(value interface{}) error {
	if value == nil {
		*a = AllocationEntries{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AllocationEntries", value)
	}
	if len(bytes) == 0 {
		*a = AllocationEntries{}
		return nil
	}
	return json.Unmarshal(bytes, a)
}

// TotalAmount sums the gross amounts of all entries.
func (a AllocationEntries) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, e := range a {
		total = total.Add(e.Amount)
	}
	return total
}

// TotalRemaining sums the unconsumed remainders of all entries.
func (a AllocationEntries) TotalRemaining() decimal.Decimal {
	total := decimal.Zero
	for _, e := range a {
		total = total.Add(e.Remaining)
	}
	return total
}

// NetFor returns the net contribution of this allocation set to the
// given invoice.
func (a AllocationEntries) NetFor(invoiceID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, e := range a {
		if e.InvoiceID == invoiceID {
			total = total.Add(e.Net())
		}
	}
	return total
}

// GrossFor returns the gross slice of this allocation set parked on
// the given invoice, including unconsumed remaining.
func (a AllocationEntries) GrossFor(invoiceID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, e := range a {
		if e.InvoiceID == invoiceID {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// EntryFor returns a pointer to the entry for the given invoice, or nil.
func (a AllocationEntries) EntryFor(invoiceID uuid.UUID) *AllocationEntry {
	for i := range a {
		if a[i].InvoiceID == invoiceID {
			return &a[i]
		}
	}
	return nil
}

// InvoiceIDs lists the distinct invoices referenced by the entries.
func (a AllocationEntries) InvoiceIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a))
	ids := make([]uuid.UUID, 0, len(a))
	for _, e := range a {
		if _, ok := seen[e.InvoiceID]; ok {
			continue
		}
		seen[e.InvoiceID] = struct{}{}
		ids = append(ids, e.InvoiceID)
	}
	return ids
}

// Clone returns a deep copy so callers can mutate freely.
func (a AllocationEntries) Clone() AllocationEntries {
	out := make(AllocationEntries, len(a))
	copy(out, a)
	return out
}

// RefundMeta records one refund issued against an original payment.
// It is a value object within the Payment aggregate, stored as JSONB.
type RefundMeta struct {
	RefundPaymentID uuid.UUID       `json:"refund_payment_id"`
	Amount          decimal.Decimal `json:"amount"`
	RefundedAt      time.Time       `json:"refunded_at"`
}

// RefundMetaList implements GORM Scanner/Valuer for JSONB storage
type RefundMetaList []RefundMeta

// Value implements driver.Valuer
func (r RefundMetaList) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner
func (r *RefundMetaList) Scan(value interface{}) error {
	if value == nil {
		*r = RefundMetaList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RefundMetaList", value)
	}
	if len(bytes) == 0 {
		*r = RefundMetaList{}
		return nil
	}
	return json.Unmarshal(bytes, r)
}

// UUIDList stores a list of UUIDs as a JSONB column.
type UUIDList []uuid.UUID

// Value implements driver.Valuer
func (l UUIDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *UUIDList) Scan(value interface{}) error {
	if value == nil {
		*l = UUIDList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into UUIDList", value)
	}
	if len(bytes) == 0 {
		*l = UUIDList{}
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Contains reports whether the list holds the given ID.
func (l UUIDList) Contains(id uuid.UUID) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// Remove returns a copy of the list without the given ID.
func (l UUIDList) Remove(id uuid.UUID) UUIDList {
	out := make(UUIDList, 0, len(l))
	for _, v := range l {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// BankMeta carries the raw bank-import fields the matcher classifies on.
// Stored as JSONB; absent on manual payments.
type BankMeta struct {
	CreditorAccountNumber string `json:"creditor_account_number,omitempty"`
	DebtorAccountNumber   string `json:"debtor_account_number,omitempty"`
	DebtorName            string `json:"debtor_name,omitempty"`
	StructuredReference   string `json:"structured_reference,omitempty"`
	UnstructuredMessage   string `json:"unstructured_message,omitempty"`
	BankTransactionID     string `json:"bank_transaction_id,omitempty"`
}

// Value implements driver.Valuer
func (m BankMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *BankMeta) Scan(value interface{}) error {
	if value == nil {
		*m = BankMeta{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into BankMeta", value)
	}
	if len(bytes) == 0 {
		*m = BankMeta{}
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Payment is the aggregate root for incoming money and refunds.
// A refund is a Payment row of TypeRefund with a negative amount,
// linked back to its original via OriginalPaymentID.
type Payment struct {
	shared.PartnerAggregateRoot
	Type        Type            `gorm:"type:varchar(20);not null;index"`
	Kind        Kind            `gorm:"type:varchar(20);not null;default:'invoice'"`
	Status      Status          `gorm:"type:varchar(20);not null;index"`
	Method      Method          `gorm:"type:varchar(30);not null;default:'bank_transfer'"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency    string          `gorm:"type:varchar(3);not null;default:'NOK'"`
	PaymentDate time.Time       `gorm:"not null;index"`
	Allocations AllocationEntries `gorm:"type:jsonb"`

	// Classification targets set by the matcher or by manual registration.
	InvoiceID          *uuid.UUID `gorm:"type:uuid;index"`
	ContractID         *uuid.UUID `gorm:"type:uuid;index"`
	TenantID           *uuid.UUID `gorm:"type:uuid"`
	PropertyID         *uuid.UUID `gorm:"type:uuid"`
	DepositInsuranceID *uuid.UUID `gorm:"type:uuid"`

	Meta BankMeta `gorm:"type:jsonb"`

	// Refund bookkeeping maintained on the original payment.
	RefundedAmount    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	RefundedMeta      RefundMetaList  `gorm:"type:jsonb"`
	RefundPaymentIDs  UUIDList        `gorm:"type:jsonb"`
	Refunded          bool            `gorm:"not null;default:false"`
	PartiallyRefunded bool            `gorm:"not null;default:false"`

	// Fields present only on refund rows.
	OriginalPaymentID   *uuid.UUID          `gorm:"type:uuid;index"`
	RefundStatus        RefundStatus        `gorm:"type:varchar(30)"`
	RefundPaymentStatus RefundPaymentStatus `gorm:"type:varchar(20)"`
	ManualRefund        bool                `gorm:"not null;default:false"`
	Note                string              `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (Payment) TableName() string {
	return "payments"
}

// NewBankPayment creates an unclassified payment from a bank import
// line. The partner is unknown until the matcher resolves it from the
// creditor account number.
func NewBankPayment(amount valueobject.Money, paymentDate time.Time, meta BankMeta) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_AMOUNT", "bank payment amount must be positive")
	}
	p := &Payment{
		PartnerAggregateRoot: shared.NewPartnerAggregateRoot(uuid.Nil),
		Type:                 TypePayment,
		Kind:                 KindInvoice,
		Status:               StatusNew,
		Method:               MethodBankTransfer,
		Amount:               amount.Round2().Amount(),
		Currency:             string(amount.Currency()),
		PaymentDate:          paymentDate,
		Allocations:          AllocationEntries{},
		Meta:                 meta,
	}
	return p, nil
}

// NewManualPayment creates a payment registered by an operator against
// a known contract. It starts registered; the caller still drives the
// allocator to distribute it.
func NewManualPayment(partnerID, contractID uuid.UUID, amount valueobject.Money, paymentDate time.Time, note string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_AMOUNT", "manual payment amount must be positive")
	}
	if partnerID == uuid.Nil || contractID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PAYMENT_TARGET", "manual payment requires partner and contract")
	}
	cid := contractID
	p := &Payment{
		PartnerAggregateRoot: shared.NewPartnerAggregateRoot(partnerID),
		Type:                 TypePayment,
		Kind:                 KindInvoice,
		Status:               StatusRegistered,
		Method:               MethodManual,
		Amount:               amount.Round2().Amount(),
		Currency:             string(amount.Currency()),
		PaymentDate:          paymentDate,
		Allocations:          AllocationEntries{},
		ContractID:           &cid,
		Note:                 note,
	}
	return p, nil
}

// IsRefund reports whether this row is a refund payment.
func (p *Payment) IsRefund() bool {
	return p.Type == TypeRefund
}

// AbsAmount returns the magnitude of the payment amount. Refund rows
// store a negative Amount.
func (p *Payment) AbsAmount() decimal.Decimal {
	return p.Amount.Abs()
}

// RefundableAmount is how much of the original payment has not yet
// been claimed by live refunds.
func (p *Payment) RefundableAmount() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// CanBeRefunded reports whether a new refund may be issued against
// this payment.
func (p *Payment) CanBeRefunded() bool {
	return p.Type == TypePayment &&
		p.Status == StatusRegistered &&
		p.RefundableAmount().IsPositive()
}

// ApplyClassification stamps the matcher's verdict onto the payment.
func (p *Payment) ApplyClassification(result MatchResult) {
	p.Status = result.Status
	if result.PartnerID != uuid.Nil {
		p.PartnerID = result.PartnerID
	}
	p.InvoiceID = result.InvoiceID
	p.ContractID = result.ContractID
	p.TenantID = result.TenantID
	p.PropertyID = result.PropertyID
	p.DepositInsuranceID = result.DepositInsuranceID
	if !result.PaymentDate.IsZero() {
		p.PaymentDate = result.PaymentDate
	}
	p.UpdatedAt = time.Now()
}

// ReplaceAllocations swaps the allocation set, keeping InvoiceID
// pointing at the first allocated invoice.
func (p *Payment) ReplaceAllocations(entries AllocationEntries) {
	p.Allocations = entries
	if len(entries) > 0 {
		first := entries[0].InvoiceID
		p.InvoiceID = &first
	} else {
		p.InvoiceID = nil
	}
	p.UpdatedAt = time.Now()
}

// UnappliedAmount is the part of the payment not consumed by any
// invoice.
func (p *Payment) UnappliedAmount() decimal.Decimal {
	return p.Allocations.TotalRemaining()
}

// CheckAllocationInvariant verifies that every krone of the payment is
// parked on some allocation entry. Unallocated unspecified payments
// trivially satisfy it.
func (p *Payment) CheckAllocationInvariant() error {
	if len(p.Allocations) == 0 {
		return nil
	}
	if !p.Allocations.TotalAmount().Equal(p.AbsAmount()) {
		return shared.NewDomainError("ALLOCATION_MISMATCH",
			fmt.Sprintf("allocations total %s does not match payment amount %s",
				p.Allocations.TotalAmount().StringFixed(2), p.AbsAmount().StringFixed(2)))
	}
	return nil
}

// RecordRefund registers a newly created refund against this original
// payment and updates the derived refund flags.
func (p *Payment) RecordRefund(refundPaymentID uuid.UUID, amount decimal.Decimal, at time.Time) error {
	if amount.GreaterThan(p.RefundableAmount()) {
		return shared.NewDomainError("REFUND_EXCEEDS_PAYMENT", "refund amount exceeds refundable amount")
	}
	if p.RefundPaymentIDs.Contains(refundPaymentID) {
		return shared.NewDomainError("DUPLICATE_REFUND", "refund already recorded on payment")
	}
	p.RefundedAmount = valueobject.Round2Decimal(p.RefundedAmount.Add(amount))
	p.RefundedMeta = append(p.RefundedMeta, RefundMeta{
		RefundPaymentID: refundPaymentID,
		Amount:          amount,
		RefundedAt:      at,
	})
	p.RefundPaymentIDs = append(p.RefundPaymentIDs, refundPaymentID)
	p.syncRefundFlags()
	p.UpdatedAt = time.Now()
	return nil
}

// RevertRefund is the exact inverse of RecordRefund: it removes the
// given refund's bookkeeping so the payment looks as if the refund had
// never been created.
func (p *Payment) RevertRefund(refundPaymentID uuid.UUID) error {
	if !p.RefundPaymentIDs.Contains(refundPaymentID) {
		return shared.NewDomainError("REFUND_NOT_RECORDED", "refund is not recorded on payment")
	}
	meta := make(RefundMetaList, 0, len(p.RefundedMeta))
	for _, m := range p.RefundedMeta {
		if m.RefundPaymentID == refundPaymentID {
			p.RefundedAmount = valueobject.Round2Decimal(p.RefundedAmount.Sub(m.Amount))
			continue
		}
		meta = append(meta, m)
	}
	p.RefundedMeta = meta
	p.RefundPaymentIDs = p.RefundPaymentIDs.Remove(refundPaymentID)
	p.syncRefundFlags()
	p.UpdatedAt = time.Now()
	return nil
}

func (p *Payment) syncRefundFlags() {
	switch {
	case p.RefundedAmount.GreaterThanOrEqual(p.Amount) && p.RefundedAmount.IsPositive():
		p.Refunded = true
		p.PartiallyRefunded = false
	case p.RefundedAmount.IsPositive():
		p.Refunded = false
		p.PartiallyRefunded = true
	default:
		p.Refunded = false
		p.PartiallyRefunded = false
	}
}
