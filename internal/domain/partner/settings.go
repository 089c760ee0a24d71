package partner

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/shared"
)

// SettingsStatus represents the lifecycle status of a partner account.
type SettingsStatus string

const (
	SettingsStatusActive    SettingsStatus = "active"
	SettingsStatusSuspended SettingsStatus = "suspended"
	SettingsStatusClosed    SettingsStatus = "closed"
)

// Settings is the aggregate root for a property-management partner.
// It carries the bank accounts incoming payments are matched against
// and the timezone used to normalize payment dates.
type Settings struct {
	shared.BaseAggregateRoot
	Name                 string         `gorm:"type:varchar(200);not null"`
	OrganizationNumber   string         `gorm:"type:varchar(20);index"`
	Status               SettingsStatus `gorm:"type:varchar(20);not null;default:'active'"`
	BankAccountNumbers   StringList     `gorm:"type:jsonb"`
	Timezone             string         `gorm:"type:varchar(64);not null;default:'Europe/Oslo'"`
	NonRentIsolation     bool           `gorm:"not null;default:true"`
	ContactEmail         string         `gorm:"type:varchar(200)"`
	DefaultPaymentMethod string         `gorm:"type:varchar(50)"`
}

// TableName returns the table name for GORM
func (Settings) TableName() string {
	return "partner_settings"
}

// NewSettings creates partner settings with sane defaults.
func NewSettings(name string, bankAccounts []string) (*Settings, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_PARTNER_NAME", "partner name cannot be empty")
	}
	normalized := make(StringList, 0, len(bankAccounts))
	for _, acc := range bankAccounts {
		acc = NormalizeAccountNumber(acc)
		if acc != "" {
			normalized = append(normalized, acc)
		}
	}
	return &Settings{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		Name:               name,
		Status:             SettingsStatusActive,
		BankAccountNumbers: normalized,
		Timezone:           "Europe/Oslo",
		NonRentIsolation:   true,
	}, nil
}

// IsActive reports whether the partner can receive payments.
func (s *Settings) IsActive() bool {
	return s.Status == SettingsStatusActive
}

// OwnsBankAccount reports whether the given account number belongs to
// this partner. Account numbers are compared in normalized form.
func (s *Settings) OwnsBankAccount(accountNumber string) bool {
	accountNumber = NormalizeAccountNumber(accountNumber)
	for _, acc := range s.BankAccountNumbers {
		if acc == accountNumber {
			return true
		}
	}
	return false
}

// AddBankAccount registers an additional incoming-payment account.
func (s *Settings) AddBankAccount(accountNumber string) error {
	accountNumber = NormalizeAccountNumber(accountNumber)
	if accountNumber == "" {
		return shared.NewDomainError("INVALID_BANK_ACCOUNT", "bank account number cannot be empty")
	}
	if s.OwnsBankAccount(accountNumber) {
		return shared.NewDomainError("DUPLICATE_BANK_ACCOUNT", "bank account already registered")
	}
	s.BankAccountNumbers = append(s.BankAccountNumbers, accountNumber)
	s.UpdatedAt = time.Now()
	return nil
}

// SetTimezone changes the timezone used to normalize payment dates.
func (s *Settings) SetTimezone(name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return shared.NewDomainError("INVALID_TIMEZONE", "unknown timezone name")
	}
	s.Timezone = name
	s.UpdatedAt = time.Now()
	return nil
}

// Suspend stops the partner from receiving payments. Payments on its
// accounts degrade to unspecified until it is reactivated.
func (s *Settings) Suspend() error {
	if s.Status == SettingsStatusClosed {
		return shared.NewDomainError("PARTNER_CLOSED", "closed partner cannot be suspended")
	}
	s.Status = SettingsStatusSuspended
	s.UpdatedAt = time.Now()
	return nil
}

// Reactivate puts a suspended partner back into payment matching.
func (s *Settings) Reactivate() error {
	if s.Status == SettingsStatusClosed {
		return shared.NewDomainError("PARTNER_CLOSED", "closed partner cannot be reactivated")
	}
	s.Status = SettingsStatusActive
	s.UpdatedAt = time.Now()
	return nil
}

// Location resolves the partner timezone, falling back to UTC when the
// stored zone name is invalid.
func (s *Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NormalizeAccountNumber strips spaces and dots from a Norwegian bank
// account number so formatted and raw forms compare equal.
func NormalizeAccountNumber(accountNumber string) string {
	accountNumber = strings.TrimSpace(accountNumber)
	accountNumber = strings.ReplaceAll(accountNumber, ".", "")
	accountNumber = strings.ReplaceAll(accountNumber, " ", "")
	return accountNumber
}

// Role represents a user's role within a partner organization.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAccounting Role = "accounting"
	RoleReadOnly   Role = "read_only"
)

// HasAccountingAccess reports whether the role may register, edit or
// remove payments and refunds.
func (r Role) HasAccountingAccess() bool {
	return r == RoleOwner || r == RoleAccounting
}

// IsValid reports whether the role is a known one.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAccounting, RoleReadOnly:
		return true
	}
	return false
}

// Membership links a user to a partner with a role.
type Membership struct {
	shared.BaseEntity
	PartnerID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_membership_partner_user,priority:1"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_membership_partner_user,priority:2"`
	Role      Role      `gorm:"type:varchar(20);not null"`
}

// NewMembership links a user to a partner with the given role.
func NewMembership(partnerID, userID uuid.UUID, role Role) (*Membership, error) {
	if !role.IsValid() {
		return nil, shared.NewDomainError("INVALID_ROLE", "unknown membership role")
	}
	return &Membership{
		BaseEntity: shared.NewBaseEntity(),
		PartnerID:  partnerID,
		UserID:     userID,
		Role:       role,
	}, nil
}

// TableName returns the table name for GORM
func (Membership) TableName() string {
	return "partner_memberships"
}
