package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
)

// PaymentSortFields contains allowed sort fields for payments
var PaymentSortFields = map[string]bool{
	"id":           true,
	"created_at":   true,
	"updated_at":   true,
	"payment_date": true,
	"amount":       true,
	"status":       true,
	"type":         true,
}

// GormPaymentRepository implements payment.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// FindByID finds a payment by its ID
func (r *GormPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	var p payment.Payment
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindByIDForPartner finds a payment by ID within a partner
func (r *GormPaymentRepository) FindByIDForPartner(ctx context.Context, partnerID, id uuid.UUID) (*payment.Payment, error) {
	var p payment.Payment
	if err := r.db.WithContext(ctx).
		Where("partner_id = ? AND id = ?", partnerID, id).
		First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindRegisteredByInvoice returns every registered payment and refund
// carrying an allocation entry for the invoice. Refunds count toward
// invoice aggregates only once disbursed, so anything short of
// completed is filtered out here.
func (r *GormPaymentRepository) FindRegisteredByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*payment.Payment, error) {
	needle := fmt.Sprintf(`[{"invoice_id":%q}]`, invoiceID)
	var payments []*payment.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ?", payment.StatusRegistered).
		Where("allocations @> ?", needle).
		Where("type <> ? OR refund_status = ?", payment.TypeRefund, payment.RefundStatusCompleted).
		Order("payment_date ASC, created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// FindRefundsByOriginal returns all refund rows issued against a payment
func (r *GormPaymentRepository) FindRefundsByOriginal(ctx context.Context, originalPaymentID uuid.UUID) ([]*payment.Payment, error) {
	var refunds []*payment.Payment
	if err := r.db.WithContext(ctx).
		Where("type = ? AND original_payment_id = ?", payment.TypeRefund, originalPaymentID).
		Order("created_at ASC").
		Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
}

// FindUnmatched returns imported bank payments still awaiting
// classification, oldest first
func (r *GormPaymentRepository) FindUnmatched(ctx context.Context, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ? AND method = ?", payment.StatusNew, payment.MethodBankTransfer).
		Order("payment_date ASC, created_at ASC").
		Limit(limit).
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// FindAllForPartner returns a page of a partner's payments
func (r *GormPaymentRepository) FindAllForPartner(ctx context.Context, partnerID uuid.UUID, filter shared.Filter) ([]*payment.Payment, error) {
	query := r.db.WithContext(ctx).Where("partner_id = ?", partnerID)
	query = applyPaymentFilters(query, filter)

	sortField := ValidateSortField(filter.OrderBy, PaymentSortFields, "payment_date")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(sortField + " " + sortOrder)

	if filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		if offset < 0 {
			offset = 0
		}
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var payments []*payment.Payment
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// CountForPartner counts a partner's payments matching the filter
func (r *GormPaymentRepository) CountForPartner(ctx context.Context, partnerID uuid.UUID, filter shared.Filter) (int64, error) {
	query := r.db.WithContext(ctx).Model(&payment.Payment{}).Where("partner_id = ?", partnerID)
	query = applyPaymentFilters(query, filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func applyPaymentFilters(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if status, ok := filter.Filters["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if typ, ok := filter.Filters["type"]; ok {
		query = query.Where("type = ?", typ)
	}
	if contractID, ok := filter.Filters["contract_id"]; ok {
		query = query.Where("contract_id = ?", contractID)
	}
	if invoiceID, ok := filter.Filters["invoice_id"]; ok {
		query = query.Where("invoice_id = ?", invoiceID)
	}
	return query
}

// Save creates or updates a payment
func (r *GormPaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	return r.db.WithContext(ctx).Save(p).Error
}

// SaveWithLock saves with optimistic locking (checks version)
func (r *GormPaymentRepository) SaveWithLock(ctx context.Context, p *payment.Payment) error {
	currentVersion := p.Version
	p.IncrementVersion()

	result := r.db.WithContext(ctx).
		Model(&payment.Payment{}).
		Where("id = ? AND version = ?", p.ID, currentVersion).
		Select("*").
		Updates(p)
	if result.Error != nil {
		p.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		p.Version = currentVersion
		// Row may not exist yet, e.g. a bank payment imported in the
		// same unit of work.
		var count int64
		if err := r.db.WithContext(ctx).Model(&payment.Payment{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return r.db.WithContext(ctx).Create(p).Error
		}
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Delete removes a payment row
func (r *GormPaymentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&payment.Payment{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
