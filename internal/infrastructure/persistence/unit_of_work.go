package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
)

// gormUnitOfWork exposes every repository the payment engine touches,
// all bound to one transaction. Instances live for the duration of a
// single transaction and must not be retained.
type gormUnitOfWork struct {
	payments  *GormPaymentRepository
	invoices  *GormInvoiceStore
	contracts *GormContractStore
	deposits  *GormDepositInsuranceDirectory
	ledger    *GormTransactionLedger
	outbox    shared.OutboxRepository
}

func (u *gormUnitOfWork) Payments() payment.PaymentRepository         { return u.payments }
func (u *gormUnitOfWork) Invoices() payment.InvoiceStore              { return u.invoices }
func (u *gormUnitOfWork) Contracts() payment.ContractStore            { return u.contracts }
func (u *gormUnitOfWork) Deposits() payment.DepositInsuranceDirectory { return u.deposits }
func (u *gormUnitOfWork) Ledger() payment.TransactionLedger           { return u.ledger }
func (u *gormUnitOfWork) Outbox() shared.OutboxRepository             { return u.outbox }

// GormUnitOfWorkFactory implements payment.UnitOfWorkFactory: Do runs
// the callback inside a database transaction, with every repository
// bound to it. A returned error rolls everything back, including the
// queued outbox entries.
type GormUnitOfWorkFactory struct {
	db     *gorm.DB
	outbox func(tx *gorm.DB) shared.OutboxRepository
}

// NewGormUnitOfWorkFactory creates a new GormUnitOfWorkFactory. The
// outbox constructor is injected to keep persistence free of the event
// package.
func NewGormUnitOfWorkFactory(db *gorm.DB, outbox func(tx *gorm.DB) shared.OutboxRepository) *GormUnitOfWorkFactory {
	return &GormUnitOfWorkFactory{db: db, outbox: outbox}
}

// Do implements payment.UnitOfWorkFactory
func (f *GormUnitOfWorkFactory) Do(ctx context.Context, fn func(uow payment.UnitOfWork) error) error {
	return f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		uow := &gormUnitOfWork{
			payments:  NewGormPaymentRepository(tx),
			invoices:  NewGormInvoiceStore(tx),
			contracts: NewGormContractStore(tx),
			deposits:  NewGormDepositInsuranceDirectory(tx),
			ledger:    NewGormTransactionLedger(tx),
			outbox:    f.outbox(tx),
		}
		return fn(uow)
	})
}

// Ensure the factory satisfies the domain port
var _ payment.UnitOfWorkFactory = (*GormUnitOfWorkFactory)(nil)
