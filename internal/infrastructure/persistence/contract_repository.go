package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/payment"
	"github.com/rentledger/backend/internal/domain/shared"
)

// GormContractStore implements payment.ContractStore using GORM
type GormContractStore struct {
	db *gorm.DB
}

// NewGormContractStore creates a new GormContractStore
func NewGormContractStore(db *gorm.DB) *GormContractStore {
	return &GormContractStore{db: db}
}

// FindByID finds a contract by its ID
func (r *GormContractStore) FindByID(ctx context.Context, id uuid.UUID) (*payment.Contract, error) {
	var contract payment.Contract
	if err := r.db.WithContext(ctx).First(&contract, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &contract, nil
}

// GormDepositInsuranceDirectory implements payment.DepositInsuranceDirectory
// using GORM
type GormDepositInsuranceDirectory struct {
	db *gorm.DB
}

// NewGormDepositInsuranceDirectory creates a new GormDepositInsuranceDirectory
func NewGormDepositInsuranceDirectory(db *gorm.DB) *GormDepositInsuranceDirectory {
	return &GormDepositInsuranceDirectory{db: db}
}

// FindByCollectingAccount finds the active deposit-insurance agreement
// collecting premiums on the given bank account
func (r *GormDepositInsuranceDirectory) FindByCollectingAccount(ctx context.Context, accountNumber string) (*payment.DepositInsurance, error) {
	accountNumber = partner.NormalizeAccountNumber(accountNumber)
	var deposit payment.DepositInsurance
	if err := r.db.WithContext(ctx).
		Where("collecting_account_number = ? AND active = ?", accountNumber, true).
		First(&deposit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &deposit, nil
}

// FindByReference finds an active deposit-insurance agreement by its
// payment reference code within a partner
func (r *GormDepositInsuranceDirectory) FindByReference(ctx context.Context, partnerID uuid.UUID, referenceCode string) (*payment.DepositInsurance, error) {
	var deposit payment.DepositInsurance
	if err := r.db.WithContext(ctx).
		Where("partner_id = ? AND reference_code = ? AND active = ?", partnerID, referenceCode, true).
		First(&deposit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &deposit, nil
}
