package partner

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/backend/internal/domain/partner"
)

// CreateSettingsRequest carries the data for partner onboarding
type CreateSettingsRequest struct {
	Name               string   `json:"name" binding:"required"`
	OrganizationNumber string   `json:"organization_number"`
	BankAccountNumbers []string `json:"bank_account_numbers"`
	Timezone           string   `json:"timezone"`
	ContactEmail       string   `json:"contact_email"`
}

// SettingsResponse is the partner settings view returned by the service
type SettingsResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	OrganizationNumber string    `json:"organization_number,omitempty"`
	Status             string    `json:"status"`
	BankAccountNumbers []string  `json:"bank_account_numbers"`
	Timezone           string    `json:"timezone"`
	NonRentIsolation   bool      `json:"non_rent_isolation"`
	ContactEmail       string    `json:"contact_email,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toSettingsResponse(s *partner.Settings) *SettingsResponse {
	return &SettingsResponse{
		ID:                 s.ID,
		Name:               s.Name,
		OrganizationNumber: s.OrganizationNumber,
		Status:             string(s.Status),
		BankAccountNumbers: s.BankAccountNumbers,
		Timezone:           s.Timezone,
		NonRentIsolation:   s.NonRentIsolation,
		ContactEmail:       s.ContactEmail,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}
