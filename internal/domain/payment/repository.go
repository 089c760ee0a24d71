package payment

import (
	"context"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/shared"
)

// PaymentRepository defines the interface for payment persistence
type PaymentRepository interface {
	// FindByID finds a payment by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// FindByIDForPartner finds a payment by ID within a partner
	FindByIDForPartner(ctx context.Context, partnerID, id uuid.UUID) (*Payment, error)

	// FindRegisteredByInvoice finds all registered payments and refunds
	// holding an allocation entry on the given invoice
	FindRegisteredByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)

	// FindRefundsByOriginal finds refund rows issued against a payment
	FindRefundsByOriginal(ctx context.Context, originalPaymentID uuid.UUID) ([]*Payment, error)

	// FindUnmatched finds imported bank payments the matcher has not
	// classified yet, oldest first
	FindUnmatched(ctx context.Context, limit int) ([]*Payment, error)

	// FindAllForPartner finds payments for a partner matching the filter
	FindAllForPartner(ctx context.Context, partnerID uuid.UUID, filter shared.Filter) ([]*Payment, error)

	// CountForPartner counts payments for a partner matching the filter
	CountForPartner(ctx context.Context, partnerID uuid.UUID, filter shared.Filter) (int64, error)

	// Save persists a payment (insert or update)
	Save(ctx context.Context, p *Payment) error

	// SaveWithLock persists a payment with optimistic version checking;
	// returns shared.ErrConcurrencyConflict on a stale version
	SaveWithLock(ctx context.Context, p *Payment) error

	// Delete removes a payment
	Delete(ctx context.Context, id uuid.UUID) error
}

// InvoiceStore is the engine's view of invoice persistence. The engine
// updates only payment-derived aggregate fields; it never creates or
// cancels invoices.
type InvoiceStore interface {
	// FindByID finds an invoice by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByIDs finds multiple invoices by their IDs
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Invoice, error)

	// FindByReference finds invoices carrying the structured reference
	// within a partner, ordered oldest billing period first. With
	// includeClosed false, paid/credited/lost/cancelled invoices are
	// filtered out.
	FindByReference(ctx context.Context, partnerID uuid.UUID, reference string, includeClosed bool) ([]*Invoice, error)

	// FindOpenByContract finds the contract's invoices that can still
	// receive money (status new or overdue), ordered oldest billing
	// period first
	FindOpenByContract(ctx context.Context, contractID uuid.UUID) ([]*Invoice, error)

	// Save persists an invoice's aggregate fields
	Save(ctx context.Context, inv *Invoice) error
}

// ContractStore resolves the contract state the engine gates on.
type ContractStore interface {
	// FindByID finds a contract by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Contract, error)
}

// DepositInsuranceDirectory resolves deposit insurance agreements for
// the matcher's short-circuit.
type DepositInsuranceDirectory interface {
	// FindByCollectingAccount finds the insurance collecting premiums
	// on the given (normalized) bank account number, or
	// shared.ErrNotFound
	FindByCollectingAccount(ctx context.Context, accountNumber string) (*DepositInsurance, error)

	// FindByReference finds an insurance by its payment reference code
	FindByReference(ctx context.Context, partnerID uuid.UUID, referenceCode string) (*DepositInsurance, error)
}

// TransactionLedger stores accounting rows. Creation is idempotent by
// natural key: creating a row whose key already exists is a no-op.
type TransactionLedger interface {
	// Exists reports whether a row with this natural key is present
	Exists(ctx context.Context, key NaturalKey) (bool, error)

	// Create appends a ledger row
	Create(ctx context.Context, tx *LedgerTransaction) error

	// FindByPayment lists the ledger rows of a payment
	FindByPayment(ctx context.Context, paymentID uuid.UUID) ([]*LedgerTransaction, error)
}

// UnitOfWork exposes the repositories bound to one database
// transaction. Every mutating engine operation runs inside exactly one
// unit of work; commit and rollback are owned by the factory.
type UnitOfWork interface {
	Payments() PaymentRepository
	Invoices() InvoiceStore
	Contracts() ContractStore
	Deposits() DepositInsuranceDirectory
	Ledger() TransactionLedger
	Outbox() shared.OutboxRepository
}

// UnitOfWorkFactory opens a transaction, runs fn against it, and
// commits when fn returns nil. Any error rolls everything back.
type UnitOfWorkFactory interface {
	Do(ctx context.Context, fn func(uow UnitOfWork) error) error
}
