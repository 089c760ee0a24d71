package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rentledger/backend/internal/domain/partner"
	"github.com/rentledger/backend/internal/domain/shared"
)

func TestGormPartnerSettingsRepository_FindByBankAccount(t *testing.T) {
	t.Run("finds the partner owning the account", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPartnerSettingsRepository(gormDB)

		partnerID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "name", "status", "timezone"}).
			AddRow(partnerID, "Utleiemegleren AS", "active", "Europe/Oslo")

		mock.ExpectQuery(`SELECT \* FROM "partner_settings" WHERE bank_account_numbers @> \$1 ORDER BY .* LIMIT .*`).
			WithArgs(`"15034567890"`, 1).
			WillReturnRows(rows)

		settings, err := repo.FindByBankAccount(context.Background(), "1503.45.67890")

		assert.NoError(t, err)
		assert.NotNil(t, settings)
		assert.Equal(t, partnerID, settings.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for an unknown account", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPartnerSettingsRepository(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "partner_settings" WHERE bank_account_numbers @> \$1 ORDER BY .* LIMIT .*`).
			WithArgs(`"99990000000"`, 1).
			WillReturnError(gorm.ErrRecordNotFound)

		settings, err := repo.FindByBankAccount(context.Background(), "99990000000")

		assert.Error(t, err)
		assert.Nil(t, settings)
		assert.Equal(t, shared.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects blank account numbers without hitting the database", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPartnerSettingsRepository(gormDB)

		settings, err := repo.FindByBankAccount(context.Background(), "   ")

		assert.Equal(t, shared.ErrNotFound, err)
		assert.Nil(t, settings)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormMembershipRepository_FindRole(t *testing.T) {
	t.Run("returns the user's role within the partner", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormMembershipRepository(gormDB)

		partnerID := uuid.New()
		userID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "partner_id", "user_id", "role"}).
			AddRow(uuid.New(), partnerID, userID, "accounting")

		mock.ExpectQuery(`SELECT \* FROM "partner_memberships" WHERE partner_id = \$1 AND user_id = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(partnerID, userID, 1).
			WillReturnRows(rows)

		role, err := repo.FindRole(context.Background(), partnerID, userID)

		assert.NoError(t, err)
		assert.Equal(t, partner.RoleAccounting, role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for a non-member", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormMembershipRepository(gormDB)

		partnerID := uuid.New()
		userID := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "partner_memberships" WHERE partner_id = \$1 AND user_id = \$2 ORDER BY .* LIMIT .*`).
			WithArgs(partnerID, userID, 1).
			WillReturnError(gorm.ErrRecordNotFound)

		_, err := repo.FindRole(context.Background(), partnerID, userID)

		assert.Equal(t, shared.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPartnerDirectory_ResolveByBankAccount(t *testing.T) {
	t.Run("resolves through the settings repository", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		settingsRepo := NewGormPartnerSettingsRepository(gormDB)
		membershipRepo := NewGormMembershipRepository(gormDB)
		directory := NewPartnerDirectory(settingsRepo, membershipRepo)

		partnerID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "name", "status"}).
			AddRow(partnerID, "Utleiemegleren AS", "active")

		mock.ExpectQuery(`SELECT \* FROM "partner_settings" WHERE bank_account_numbers @> \$1 ORDER BY .* LIMIT .*`).
			WithArgs(`"15034567890"`, 1).
			WillReturnRows(rows)

		settings, err := directory.ResolveByBankAccount(context.Background(), "1503 45 67890")

		require.NoError(t, err)
		assert.Equal(t, partnerID, settings.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
