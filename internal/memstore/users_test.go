package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

func TestUpsertFromIdentity(t *testing.T) {
	ctx := context.Background()
	users := New().Users()

	u, created, err := users.UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-1", Email: "Alice@Acme.com", FirstName: "Alice"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice@acme.com", u.Email)
	assert.Equal(t, "Alice", u.Name)
	assert.False(t, u.HasCompany())

	u2, created, err := users.UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-1", Email: "alice@acme.com", FirstName: "Alice", LastName: "Smith", EmailVerified: true})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, u2.ID)
	assert.Equal(t, "Alice Smith", u2.Name)
	assert.True(t, u2.EmailVerified)

	byEmail, err := users.FindByEmail(ctx, "ALICE@acme.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)
}

func TestUpsertKeepsAffiliation(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Companies().Create(ctx, &models.Company{CompanyID: "COMP-1", CompanyName: "Acme"}, models.CompanyMember{Email: "o@acme.com"}))

	u, _, err := s.Users().UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-1", Email: "bob@acme.com"})
	require.NoError(t, err)
	co, _ := s.Companies().FindByID(ctx, "COMP-1")
	_, err = s.Users().AttachToCompany(ctx, u.ID, co)
	require.NoError(t, err)

	u, _, err = s.Users().UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-1", Email: "bob@acme.com", FirstName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "COMP-1", u.CompanyIDValue())
	assert.Equal(t, "Acme", u.CompanyName)
}

func TestUpsertEmailTakenByOtherIdentity(t *testing.T) {
	ctx := context.Background()
	users := New().Users()
	_, _, err := users.UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-1", Email: "bob@acme.com"})
	require.NoError(t, err)

	_, _, err = users.UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-2", Email: "Bob@acme.com"})
	assert.True(t, errors.Is(err, database.ErrDuplicateKey))
}

func TestDeleteClearsMembershipUserID(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, _, err := s.Users().UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-1", Email: "owner@acme.com"})
	require.NoError(t, err)
	require.NoError(t, s.Companies().Create(ctx, &models.Company{CompanyID: "COMP-1"}, models.CompanyMember{Email: u.Email, UserID: u.ID.String()}))

	deleted, err := s.Users().DeleteByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Users().DeleteByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	co, _ := s.Companies().FindByID(ctx, "COMP-1")
	require.Len(t, co.Members, 1)
	assert.Empty(t, co.Members[0].UserID)
	assert.Equal(t, "owner@acme.com", co.Members[0].Email)
}

func TestUpdateOnboardingFlags(t *testing.T) {
	ctx := context.Background()
	users := New().Users()
	u, _, _ := users.UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "ext-1", Email: "a@b.io"})

	skipped := true
	got, err := users.UpdateOnboardingFlags(ctx, u.ID, nil, &skipped)
	require.NoError(t, err)
	assert.True(t, got.OnboardingSkipped)
	assert.False(t, got.OnboardingCompleted)
}
