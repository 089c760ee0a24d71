package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
)

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByIDForPartner(ctx context.Context, partnerID, id uuid.UUID) (*payment.Payment, error) {
	args := m.Called(ctx, partnerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindRegisteredByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*payment.Payment, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindRefundsByOriginal(ctx context.Context, originalPaymentID uuid.UUID) ([]*payment.Payment, error) {
	args := m.Called(ctx, originalPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindUnmatched(ctx context.Context, limit int) ([]*payment.Payment, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindAllForPartner(ctx context.Context, partnerID uuid.UUID, filter shared.Filter) ([]*payment.Payment, error) {
	args := m.Called(ctx, partnerID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) CountForPartner(ctx context.Context, partnerID uuid.UUID, filter shared.Filter) (int64, error) {
	args := m.Called(ctx, partnerID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPaymentRepository) SaveWithLock(ctx context.Context, p *payment.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPaymentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockInvoiceStore struct {
	mock.Mock
}

func (m *MockInvoiceStore) FindByID(ctx context.Context, id uuid.UUID) (*payment.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Invoice), args.Error(1)
}

func (m *MockInvoiceStore) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*payment.Invoice, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Invoice), args.Error(1)
}

func (m *MockInvoiceStore) FindByReference(ctx context.Context, partnerID uuid.UUID, reference string, includeClosed bool) ([]*payment.Invoice, error) {
	args := m.Called(ctx, partnerID, reference, includeClosed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Invoice), args.Error(1)
}

func (m *MockInvoiceStore) FindOpenByContract(ctx context.Context, contractID uuid.UUID) ([]*payment.Invoice, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Invoice), args.Error(1)
}

func (m *MockInvoiceStore) Save(ctx context.Context, inv *payment.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

type MockContractStore struct {
	mock.Mock
}

func (m *MockContractStore) FindByID(ctx context.Context, id uuid.UUID) (*payment.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Contract), args.Error(1)
}

type MockDepositDirectory struct {
	mock.Mock
}

func (m *MockDepositDirectory) FindByCollectingAccount(ctx context.Context, accountNumber string) (*payment.DepositInsurance, error) {
	args := m.Called(ctx, accountNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.DepositInsurance), args.Error(1)
}

func (m *MockDepositDirectory) FindByReference(ctx context.Context, partnerID uuid.UUID, referenceCode string) (*payment.DepositInsurance, error) {
	args := m.Called(ctx, partnerID, referenceCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.DepositInsurance), args.Error(1)
}

type MockTransactionLedger struct {
	mock.Mock
}

func (m *MockTransactionLedger) Exists(ctx context.Context, key payment.NaturalKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionLedger) Create(ctx context.Context, tx *payment.LedgerTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionLedger) FindByPayment(ctx context.Context, paymentID uuid.UUID) ([]*payment.LedgerTransaction, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.LedgerTransaction), args.Error(1)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Save(ctx context.Context, entries ...*shared.OutboxEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockOutboxRepository) FindPending(ctx context.Context, limit int) ([]*shared.OutboxEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*shared.OutboxEntry), args.Error(1)
}

func (m *MockOutboxRepository) FindRetryable(ctx context.Context, before time.Time, limit int) ([]*shared.OutboxEntry, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*shared.OutboxEntry), args.Error(1)
}

func (m *MockOutboxRepository) FindDead(ctx context.Context, limit int) ([]*shared.OutboxEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*shared.OutboxEntry), args.Error(1)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[shared.OutboxStatus]int64), args.Error(1)
}

func (m *MockOutboxRepository) Update(ctx context.Context, entry *shared.OutboxEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type MockPartnerDirectory struct {
	mock.Mock
}

func (m *MockPartnerDirectory) ResolveByBankAccount(ctx context.Context, accountNumber string) (*partner.Settings, error) {
	args := m.Called(ctx, accountNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*partner.Settings), args.Error(1)
}

func (m *MockPartnerDirectory) SettingsFor(ctx context.Context, partnerID uuid.UUID) (*partner.Settings, error) {
	args := m.Called(ctx, partnerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*partner.Settings), args.Error(1)
}

func (m *MockPartnerDirectory) RoleFor(ctx context.Context, partnerID, userID uuid.UUID) (partner.Role, error) {
	args := m.Called(ctx, partnerID, userID)
	return args.Get(0).(partner.Role), args.Error(1)
}

// fakeUnitOfWork bundles the port mocks into a payment.UnitOfWork.
type fakeUnitOfWork struct {
	payments  *MockPaymentRepository
	invoices  *MockInvoiceStore
	contracts *MockContractStore
	deposits  *MockDepositDirectory
	ledger    *MockTransactionLedger
	outbox    *MockOutboxRepository
}

func newFakeUnitOfWork() *fakeUnitOfWork {
	return &fakeUnitOfWork{
		payments:  new(MockPaymentRepository),
		invoices:  new(MockInvoiceStore),
		contracts: new(MockContractStore),
		deposits:  new(MockDepositDirectory),
		ledger:    new(MockTransactionLedger),
		outbox:    new(MockOutboxRepository),
	}
}

func (u *fakeUnitOfWork) Payments() payment.PaymentRepository          { return u.payments }
func (u *fakeUnitOfWork) Invoices() payment.InvoiceStore               { return u.invoices }
func (u *fakeUnitOfWork) Contracts() payment.ContractStore             { return u.contracts }
func (u *fakeUnitOfWork) Deposits() payment.DepositInsuranceDirectory  { return u.deposits }
func (u *fakeUnitOfWork) Ledger() payment.TransactionLedger            { return u.ledger }
func (u *fakeUnitOfWork) Outbox() shared.OutboxRepository              { return u.outbox }

// fakeUowFactory runs the unit of work against the shared mocks; a
// returned error plays the role of a rollback.
type fakeUowFactory struct {
	uow *fakeUnitOfWork
}

func (f *fakeUowFactory) Do(ctx context.Context, fn func(uow payment.UnitOfWork) error) error {
	return fn(f.uow)
}
