package partner

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/shared"
)

// SettingsService handles partner onboarding and settings maintenance
type SettingsService struct {
	settingsRepo   partner.SettingsRepository
	membershipRepo partner.MembershipRepository
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(settingsRepo partner.SettingsRepository, membershipRepo partner.MembershipRepository) *SettingsService {
	return &SettingsService{
		settingsRepo:   settingsRepo,
		membershipRepo: membershipRepo,
	}
}

// Create onboards a new partner with its incoming-payment accounts.
// The creating user becomes the owner.
func (s *SettingsService) Create(ctx context.Context, userID uuid.UUID, req CreateSettingsRequest) (*SettingsResponse, error) {
	for _, acc := range req.BankAccountNumbers {
		normalized := partner.NormalizeAccountNumber(acc)
		if normalized == "" {
			continue
		}
		// An account can only route payments to one partner.
		if _, err := s.settingsRepo.FindByBankAccount(ctx, normalized); err == nil {
			return nil, shared.NewDomainError("BANK_ACCOUNT_TAKEN", "bank account is already registered to another partner")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	settings, err := partner.NewSettings(req.Name, req.BankAccountNumbers)
	if err != nil {
		return nil, err
	}
	if req.Timezone != "" {
		if err := settings.SetTimezone(req.Timezone); err != nil {
			return nil, err
		}
	}
	settings.OrganizationNumber = req.OrganizationNumber
	settings.ContactEmail = req.ContactEmail

	if err := s.settingsRepo.Save(ctx, settings); err != nil {
		return nil, err
	}

	membership, err := partner.NewMembership(settings.ID, userID, partner.RoleOwner)
	if err != nil {
		return nil, err
	}
	if err := s.membershipRepo.Save(ctx, membership); err != nil {
		return nil, err
	}

	return toSettingsResponse(settings), nil
}

// Get returns a partner's settings
func (s *SettingsService) Get(ctx context.Context, partnerID uuid.UUID) (*SettingsResponse, error) {
	settings, err := s.settingsRepo.FindByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	return toSettingsResponse(settings), nil
}

// List returns partner settings matching the filter
func (s *SettingsService) List(ctx context.Context, filter shared.Filter) ([]*SettingsResponse, error) {
	all, err := s.settingsRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	responses := make([]*SettingsResponse, len(all))
	for i := range all {
		responses[i] = toSettingsResponse(&all[i])
	}
	return responses, nil
}

// AddBankAccount registers an additional incoming-payment account for
// the partner. The account must not route to any other partner.
func (s *SettingsService) AddBankAccount(ctx context.Context, partnerID uuid.UUID, accountNumber string) (*SettingsResponse, error) {
	normalized := partner.NormalizeAccountNumber(accountNumber)
	if owner, err := s.settingsRepo.FindByBankAccount(ctx, normalized); err == nil {
		if owner.ID == partnerID {
			return nil, shared.NewDomainError("DUPLICATE_BANK_ACCOUNT", "bank account already registered")
		}
		return nil, shared.NewDomainError("BANK_ACCOUNT_TAKEN", "bank account is already registered to another partner")
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	settings, err := s.settingsRepo.FindByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if err := settings.AddBankAccount(accountNumber); err != nil {
		return nil, err
	}
	if err := s.settingsRepo.Save(ctx, settings); err != nil {
		return nil, err
	}
	return toSettingsResponse(settings), nil
}

// SetTimezone changes the timezone payment dates are normalized in
func (s *SettingsService) SetTimezone(ctx context.Context, partnerID uuid.UUID, timezone string) error {
	settings, err := s.settingsRepo.FindByID(ctx, partnerID)
	if err != nil {
		return err
	}
	if err := settings.SetTimezone(timezone); err != nil {
		return err
	}
	return s.settingsRepo.Save(ctx, settings)
}

// Suspend takes the partner out of payment matching
func (s *SettingsService) Suspend(ctx context.Context, partnerID uuid.UUID) error {
	settings, err := s.settingsRepo.FindByID(ctx, partnerID)
	if err != nil {
		return err
	}
	if err := settings.Suspend(); err != nil {
		return err
	}
	return s.settingsRepo.Save(ctx, settings)
}

// Reactivate puts a suspended partner back into payment matching
func (s *SettingsService) Reactivate(ctx context.Context, partnerID uuid.UUID) error {
	settings, err := s.settingsRepo.FindByID(ctx, partnerID)
	if err != nil {
		return err
	}
	if err := settings.Reactivate(); err != nil {
		return err
	}
	return s.settingsRepo.Save(ctx, settings)
}

// AddMember grants a user a role within the partner
func (s *SettingsService) AddMember(ctx context.Context, partnerID, userID uuid.UUID, role partner.Role) error {
	if _, err := s.settingsRepo.FindByID(ctx, partnerID); err != nil {
		return err
	}
	membership, err := partner.NewMembership(partnerID, userID, role)
	if err != nil {
		return err
	}
	return s.membershipRepo.Save(ctx, membership)
}
