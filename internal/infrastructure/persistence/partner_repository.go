package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/shared"
)

// PartnerSortFields contains allowed sort fields for partner settings
var PartnerSortFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"status":     true,
}

// GormPartnerSettingsRepository implements partner.SettingsRepository using GORM
type GormPartnerSettingsRepository struct {
	db *gorm.DB
}

// NewGormPartnerSettingsRepository creates a new GormPartnerSettingsRepository
func NewGormPartnerSettingsRepository(db *gorm.DB) *GormPartnerSettingsRepository {
	return &GormPartnerSettingsRepository{db: db}
}

// FindByID finds partner settings by partner ID
func (r *GormPartnerSettingsRepository) FindByID(ctx context.Context, id uuid.UUID) (*partner.Settings, error) {
	var settings partner.Settings
	if err := r.db.WithContext(ctx).First(&settings, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// FindByBankAccount finds the partner owning the given bank account.
// Account numbers are stored normalized, so lookup is a JSONB
// containment check.
func (r *GormPartnerSettingsRepository) FindByBankAccount(ctx context.Context, accountNumber string) (*partner.Settings, error) {
	accountNumber = partner.NormalizeAccountNumber(accountNumber)
	if accountNumber == "" {
		return nil, shared.ErrNotFound
	}
	needle := fmt.Sprintf("%q", accountNumber)

	var settings partner.Settings
	if err := r.db.WithContext(ctx).
		Where("bank_account_numbers @> ?", needle).
		First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// FindAll finds all partner settings matching the filter
func (r *GormPartnerSettingsRepository) FindAll(ctx context.Context, filter shared.Filter) ([]partner.Settings, error) {
	query := r.db.WithContext(ctx).Model(&partner.Settings{})
	if status, ok := filter.Filters["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if filter.Search != "" {
		query = query.Where("name ILIKE ?", "%"+filter.Search+"%")
	}

	sortField := ValidateSortField(filter.OrderBy, PartnerSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(sortField + " " + sortOrder)

	if filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		if offset < 0 {
			offset = 0
		}
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var settings []partner.Settings
	if err := query.Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// Save persists partner settings
func (r *GormPartnerSettingsRepository) Save(ctx context.Context, settings *partner.Settings) error {
	return r.db.WithContext(ctx).Save(settings).Error
}

// GormMembershipRepository implements partner.MembershipRepository using GORM
type GormMembershipRepository struct {
	db *gorm.DB
}

// NewGormMembershipRepository creates a new GormMembershipRepository
func NewGormMembershipRepository(db *gorm.DB) *GormMembershipRepository {
	return &GormMembershipRepository{db: db}
}

// FindRole returns the role a user holds within a partner
func (r *GormMembershipRepository) FindRole(ctx context.Context, partnerID, userID uuid.UUID) (partner.Role, error) {
	var membership partner.Membership
	if err := r.db.WithContext(ctx).
		Where("partner_id = ? AND user_id = ?", partnerID, userID).
		First(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return membership.Role, nil
}

// Save persists a membership
func (r *GormMembershipRepository) Save(ctx context.Context, membership *partner.Membership) error {
	return r.db.WithContext(ctx).Save(membership).Error
}

// PartnerDirectory implements partner.Directory over the settings and
// membership repositories.
type PartnerDirectory struct {
	settings    partner.SettingsRepository
	memberships partner.MembershipRepository
}

// NewPartnerDirectory creates a new PartnerDirectory
func NewPartnerDirectory(settings partner.SettingsRepository, memberships partner.MembershipRepository) *PartnerDirectory {
	return &PartnerDirectory{settings: settings, memberships: memberships}
}

// ResolveByBankAccount returns the active partner owning the account.
// Suspended or closed partners do not receive payments; their accounts
// resolve to not found and the payment degrades to unspecified.
func (d *PartnerDirectory) ResolveByBankAccount(ctx context.Context, accountNumber string) (*partner.Settings, error) {
	settings, err := d.settings.FindByBankAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if !settings.IsActive() {
		return nil, shared.ErrNotFound
	}
	return settings, nil
}

// SettingsFor returns the settings for a partner
func (d *PartnerDirectory) SettingsFor(ctx context.Context, partnerID uuid.UUID) (*partner.Settings, error) {
	return d.settings.FindByID(ctx, partnerID)
}

// RoleFor returns the role a user holds within a partner
func (d *PartnerDirectory) RoleFor(ctx context.Context, partnerID, userID uuid.UUID) (partner.Role, error) {
	return d.memberships.FindRole(ctx, partnerID, userID)
}
