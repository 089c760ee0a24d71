package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
)

// newMockPaymentRepository creates a GormPaymentRepository with a mocked SQL connection
func newMockPaymentRepository(t *testing.T) (*GormPaymentRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormPaymentRepository(gormDB), mock, mockDB
}

func TestNewGormPaymentRepository(t *testing.T) {
	t.Run("creates repository with valid DB", func(t *testing.T) {
		repo, _, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		assert.NotNil(t, repo)
		assert.NotNil(t, repo.db)
	})
}

func TestGormPaymentRepository_FindByID(t *testing.T) {
	t.Run("finds existing payment", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		paymentID := uuid.New()
		partnerID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "partner_id", "type", "status", "method", "amount", "currency", "payment_date"}).
			AddRow(paymentID, partnerID, "payment", "registered", "bank_transfer", decimal.NewFromInt(1200), "NOK", time.Now())

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(paymentID, 1).
			WillReturnRows(rows)

		p, err := repo.FindByID(context.Background(), paymentID)

		assert.NoError(t, err)
		assert.NotNil(t, p)
		assert.Equal(t, paymentID, p.ID)
		assert.Equal(t, payment.StatusRegistered, p.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for non-existent payment", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		paymentID := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(paymentID, 1).
			WillReturnError(gorm.ErrRecordNotFound)

		p, err := repo.FindByID(context.Background(), paymentID)

		assert.Error(t, err)
		assert.Nil(t, p)
		assert.Equal(t, shared.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRepository_FindByIDForPartner(t *testing.T) {
	t.Run("scopes lookup to the partner", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		paymentID := uuid.New()
		partnerID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "partner_id", "type", "status"}).
			AddRow(paymentID, partnerID, "payment", "registered")

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE partner_id = \$1 AND id = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(partnerID, paymentID, 1).
			WillReturnRows(rows)

		p, err := repo.FindByIDForPartner(context.Background(), partnerID, paymentID)

		assert.NoError(t, err)
		assert.NotNil(t, p)
		assert.Equal(t, partnerID, p.PartnerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for another partner's payment", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		paymentID := uuid.New()
		partnerID := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE partner_id = \$1 AND id = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(partnerID, paymentID, 1).
			WillReturnError(gorm.ErrRecordNotFound)

		p, err := repo.FindByIDForPartner(context.Background(), partnerID, paymentID)

		assert.Error(t, err)
		assert.Nil(t, p)
		assert.Equal(t, shared.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRepository_FindUnmatched(t *testing.T) {
	t.Run("returns imported bank payments oldest first", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		first := uuid.New()
		second := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "status", "method", "payment_date"}).
			AddRow(first, "new", "bank_transfer", time.Now().Add(-48*time.Hour)).
			AddRow(second, "new", "bank_transfer", time.Now().Add(-24*time.Hour))

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE status = \$1 AND method = \$2 ORDER BY payment_date ASC, created_at ASC LIMIT .*`).
			WithArgs(payment.StatusNew, payment.MethodBankTransfer, 100).
			WillReturnRows(rows)

		payments, err := repo.FindUnmatched(context.Background(), 100)

		assert.NoError(t, err)
		assert.Len(t, payments, 2)
		assert.Equal(t, first, payments[0].ID)
		assert.Equal(t, second, payments[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns empty slice when queue is drained", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE status = \$1 AND method = \$2 ORDER BY payment_date ASC, created_at ASC LIMIT .*`).
			WithArgs(payment.StatusNew, payment.MethodBankTransfer, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		payments, err := repo.FindUnmatched(context.Background(), 100)

		assert.NoError(t, err)
		assert.Empty(t, payments)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRepository_FindRegisteredByInvoice(t *testing.T) {
	t.Run("counts refunds only once disbursed", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		invoiceID := uuid.New()
		paymentID := uuid.New()
		needle := `[{"invoice_id":"` + invoiceID.String() + `"}]`

		rows := sqlmock.NewRows([]string{"id", "type", "status", "amount"}).
			AddRow(paymentID, "payment", "registered", decimal.NewFromInt(1200))

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE status = \$1 AND allocations @> \$2 AND \(type <> \$3 OR refund_status = \$4\) ORDER BY payment_date ASC, created_at ASC`).
			WithArgs(payment.StatusRegistered, needle, payment.TypeRefund, payment.RefundStatusCompleted).
			WillReturnRows(rows)

		payments, err := repo.FindRegisteredByInvoice(context.Background(), invoiceID)

		assert.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, paymentID, payments[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRepository_FindRefundsByOriginal(t *testing.T) {
	t.Run("returns refund rows linked to the original", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		originalID := uuid.New()
		refundID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "type", "original_payment_id", "amount"}).
			AddRow(refundID, "refund", originalID, decimal.NewFromInt(-500))

		mock.ExpectQuery(`SELECT \* FROM "payments" WHERE type = \$1 AND original_payment_id = \$2 ORDER BY created_at ASC`).
			WithArgs(payment.TypeRefund, originalID).
			WillReturnRows(rows)

		refunds, err := repo.FindRefundsByOriginal(context.Background(), originalID)

		assert.NoError(t, err)
		require.Len(t, refunds, 1)
		assert.Equal(t, refundID, refunds[0].ID)
		assert.Equal(t, payment.TypeRefund, refunds[0].Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRepository_SaveWithLock(t *testing.T) {
	t.Run("returns ErrConcurrencyConflict when version moved", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		p := &payment.Payment{}
		p.ID = uuid.New()
		p.Version = 3

		mock.ExpectExec(`UPDATE "payments" SET .*`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "payments" WHERE id = \$1`).
			WithArgs(p.ID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.SaveWithLock(context.Background(), p)

		assert.Equal(t, shared.ErrConcurrencyConflict, err)
		assert.Equal(t, 3, p.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRepository_Delete(t *testing.T) {
	t.Run("deletes existing payment", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		paymentID := uuid.New()

		mock.ExpectExec(`DELETE FROM "payments" WHERE id = \$1`).
			WithArgs(paymentID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Delete(context.Background(), paymentID)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound when nothing was deleted", func(t *testing.T) {
		repo, mock, mockDB := newMockPaymentRepository(t)
		defer mockDB.Close()

		paymentID := uuid.New()

		mock.ExpectExec(`DELETE FROM "payments" WHERE id = \$1`).
			WithArgs(paymentID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Delete(context.Background(), paymentID)

		assert.Equal(t, shared.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
