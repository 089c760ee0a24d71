package payment

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentledger/backend/internal/domain/shared"
)

// TransactionType represents the accounting direction of a ledger row
type TransactionType string

const (
	TransactionTypePayment         TransactionType = "payment"
	TransactionTypePaymentReversal TransactionType = "payment_reversal"
	TransactionTypeRefund          TransactionType = "refund"
	TransactionTypeRefundReversal  TransactionType = "refund_reversal"
)

// IsValid checks if the type is a valid TransactionType
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypePaymentReversal,
		TransactionTypeRefund, TransactionTypeRefundReversal:
		return true
	}
	return false
}

// ReversalType returns the compensating type for an active row type.
func (t TransactionType) ReversalType() (TransactionType, bool) {
	switch t {
	case TransactionTypePayment:
		return TransactionTypePaymentReversal, true
	case TransactionTypeRefund:
		return TransactionTypeRefundReversal, true
	}
	return "", false
}

// LedgerTransaction is the accounting-facing record of money applied
// to an invoice. The engine only ever appends; corrections are new
// rows of the opposite type.
type LedgerTransaction struct {
	shared.BaseEntity
	PartnerID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_natural_key,priority:1"`
	PaymentID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_natural_key,priority:2"`
	InvoiceID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_natural_key,priority:3"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,2);not null;uniqueIndex:idx_ledger_natural_key,priority:4"`
	Type      TransactionType `gorm:"type:varchar(30);not null;uniqueIndex:idx_ledger_natural_key,priority:5"`
	Period    string          `gorm:"type:varchar(7);not null;index"`
	Currency  string          `gorm:"type:varchar(3);not null;default:'NOK'"`
}

// TableName returns the table name for GORM
func (LedgerTransaction) TableName() string {
	return "ledger_transactions"
}

// NaturalKey identifies a ledger row by content rather than ID, so
// replayed work items cannot double-book.
type NaturalKey struct {
	PartnerID uuid.UUID
	PaymentID uuid.UUID
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Type      TransactionType
}

// String renders the key for logging and idempotency storage.
func (k NaturalKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", k.PartnerID, k.PaymentID, k.InvoiceID, k.Amount.StringFixed(2), k.Type)
}

// NaturalKey returns the content identity of the transaction.
func (t *LedgerTransaction) NaturalKey() NaturalKey {
	return NaturalKey{
		PartnerID: t.PartnerID,
		PaymentID: t.PaymentID,
		InvoiceID: t.InvoiceID,
		Amount:    t.Amount,
		Type:      t.Type,
	}
}

// NewLedgerTransaction creates a ledger row for one allocation slice.
func NewLedgerTransaction(partnerID, paymentID, invoiceID uuid.UUID, amount decimal.Decimal, txType TransactionType, period, currency string) (*LedgerTransaction, error) {
	if !txType.IsValid() {
		return nil, shared.NewDomainError("INVALID_TRANSACTION_TYPE", "unknown ledger transaction type")
	}
	if amount.IsZero() {
		return nil, shared.NewDomainError("INVALID_TRANSACTION_AMOUNT", "ledger transaction amount cannot be zero")
	}
	return &LedgerTransaction{
		BaseEntity: shared.NewBaseEntity(),
		PartnerID:  partnerID,
		PaymentID:  paymentID,
		InvoiceID:  invoiceID,
		Amount:     amount,
		Type:       txType,
		Period:     period,
		Currency:   currency,
	}, nil
}
