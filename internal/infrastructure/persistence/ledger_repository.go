package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rentledger/backend/internal/domain/payment"
)

// GormTransactionLedger implements payment.TransactionLedger using GORM.
// The ledger is append-only; rows are only ever inserted, and the
// natural-key unique index makes duplicate inserts no-ops.
type GormTransactionLedger struct {
	db *gorm.DB
}

// NewGormTransactionLedger creates a new GormTransactionLedger
func NewGormTransactionLedger(db *gorm.DB) *GormTransactionLedger {
	return &GormTransactionLedger{db: db}
}

// Exists reports whether a row with the given natural key is already
// booked
func (r *GormTransactionLedger) Exists(ctx context.Context, key payment.NaturalKey) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&payment.LedgerTransaction{}).
		Where("partner_id = ? AND payment_id = ? AND invoice_id = ? AND amount = ? AND type = ?",
			key.PartnerID, key.PaymentID, key.InvoiceID, key.Amount, key.Type).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts a ledger row. A concurrent insert of the same natural
// key is absorbed by the unique index instead of failing the unit of
// work.
func (r *GormTransactionLedger) Create(ctx context.Context, tx *payment.LedgerTransaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(tx).Error
}

// FindByPayment returns every ledger row booked for a payment
func (r *GormTransactionLedger) FindByPayment(ctx context.Context, paymentID uuid.UUID) ([]*payment.LedgerTransaction, error) {
	var rows []*payment.LedgerTransaction
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
