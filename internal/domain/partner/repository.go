package partner

import (
	"context"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/shared"
)

// SettingsRepository defines the interface for partner settings persistence
type SettingsRepository interface {
	// FindByID finds partner settings by partner ID
	FindByID(ctx context.Context, id uuid.UUID) (*Settings, error)

	// FindByBankAccount finds the partner owning the given (normalized)
	// incoming-payment bank account number
	FindByBankAccount(ctx context.Context, accountNumber string) (*Settings, error)

	// FindAll finds all partner settings matching the filter
	FindAll(ctx context.Context, filter shared.Filter) ([]Settings, error)

	// Save persists partner settings (insert or update)
	Save(ctx context.Context, settings *Settings) error
}

// MembershipRepository defines the interface for partner membership persistence
type MembershipRepository interface {
	// FindRole returns the role a user holds within a partner, or
	// shared.ErrNotFound when the user is not a member
	FindRole(ctx context.Context, partnerID, userID uuid.UUID) (Role, error)

	// Save persists a membership (insert or update)
	Save(ctx context.Context, membership *Membership) error
}

// Directory resolves partner facts the payment engine needs without
// pulling in the full settings aggregate API.
type Directory interface {
	// ResolveByBankAccount returns the active partner owning the account,
	// or shared.ErrNotFound when no partner claims it
	ResolveByBankAccount(ctx context.Context, accountNumber string) (*Settings, error)

	// SettingsFor returns the settings for a partner
	SettingsFor(ctx context.Context, partnerID uuid.UUID) (*Settings, error)

	// RoleFor returns the role a user holds within a partner
	RoleFor(ctx context.Context, partnerID, userID uuid.UUID) (Role, error)
}
