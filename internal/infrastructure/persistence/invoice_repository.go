package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
)

// openInvoiceStatuses are the statuses a payment can still be applied to.
var openInvoiceStatuses = []payment.InvoiceStatus{
	payment.InvoiceStatusNew,
	payment.InvoiceStatusOverdue,
}

// GormInvoiceStore implements payment.InvoiceStore using GORM
type GormInvoiceStore struct {
	db *gorm.DB
}

// NewGormInvoiceStore creates a new GormInvoiceStore
func NewGormInvoiceStore(db *gorm.DB) *GormInvoiceStore {
	return &GormInvoiceStore{db: db}
}

// FindByID finds an invoice by its ID
func (r *GormInvoiceStore) FindByID(ctx context.Context, id uuid.UUID) (*payment.Invoice, error) {
	var inv payment.Invoice
	if err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// FindByIDs finds multiple invoices by their IDs
func (r *GormInvoiceStore) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*payment.Invoice, error) {
	if len(ids) == 0 {
		return []*payment.Invoice{}, nil
	}
	var invoices []*payment.Invoice
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// FindByReference returns the partner's invoices carrying the given
// structured reference, oldest billing period first. With includeClosed
// false only invoices a payment can still land on are returned.
func (r *GormInvoiceStore) FindByReference(ctx context.Context, partnerID uuid.UUID, reference string, includeClosed bool) ([]*payment.Invoice, error) {
	query := r.db.WithContext(ctx).
		Where("partner_id = ? AND structured_reference = ?", partnerID, reference)
	if !includeClosed {
		query = query.Where("status IN ?", openInvoiceStatuses)
	}
	var invoices []*payment.Invoice
	if err := query.
		Order("invoice_start_on ASC, due_date ASC, created_at ASC").
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// FindOpenByContract returns the contract's invoices still open for
// allocation or forwarding, oldest billing period first.
func (r *GormInvoiceStore) FindOpenByContract(ctx context.Context, contractID uuid.UUID) ([]*payment.Invoice, error) {
	var invoices []*payment.Invoice
	if err := r.db.WithContext(ctx).
		Where("contract_id = ? AND status IN ?", contractID, openInvoiceStatuses).
		Order("invoice_start_on ASC, due_date ASC, created_at ASC").
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// Save creates or updates an invoice
func (r *GormInvoiceStore) Save(ctx context.Context, inv *payment.Invoice) error {
	return r.db.WithContext(ctx).Save(inv).Error
}
