package users

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

// testPool connects to TEST_DATABASE_URL and applies the migrations.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	// Packages tested in parallel can race on CREATE ... IF NOT EXISTS; the second run sees the tables.
	if err := database.Migrate(ctx, pool); err != nil {
		require.NoError(t, database.Migrate(ctx, pool))
	}
	return pool
}

func uniqueProfile(t *testing.T, pool *pgxpool.Pool) models.IdentityProfile {
	t.Helper()
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	p := models.IdentityProfile{
		ExternalID:    "ext-" + tag,
		Email:         "Dana." + tag + "@Example.com",
		EmailVerified: true,
		FirstName:     "Dana",
		LastName:      "Scully",
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE external_id = $1`, p.ExternalID)
	})
	return p
}

func TestRepositoryUpsertFromIdentity(t *testing.T) {
	pool := testPool(t)
	r := NewRepository(pool)
	ctx := context.Background()
	p := uniqueProfile(t, pool)

	u, created, err := r.UpsertFromIdentity(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, strings.ToLower(p.Email), u.Email)
	assert.Equal(t, "Dana Scully", u.Name)
	assert.True(t, u.IsActive)
	assert.NotNil(t, u.LastLoginAt)
	assert.Nil(t, u.CompanyID)

	p.FirstName = "Danielle"
	again, created, err := r.UpsertFromIdentity(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "Danielle Scully", again.Name)

	byEmail, err := r.FindByEmail(ctx, strings.ToUpper(p.Email))
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)

	missing, err := r.FindByExternalID(ctx, "ext-missing-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryUpsertRejectsEmailTakenByAnotherAccount(t *testing.T) {
	pool := testPool(t)
	r := NewRepository(pool)
	ctx := context.Background()
	first := uniqueProfile(t, pool)
	_, _, err := r.UpsertFromIdentity(ctx, first)
	require.NoError(t, err)

	second := uniqueProfile(t, pool)
	second.Email = first.Email
	_, _, err = r.UpsertFromIdentity(ctx, second)
	assert.ErrorIs(t, err, database.ErrDuplicateKey)
}

func TestRepositoryAttachAndRefreshCompany(t *testing.T) {
	pool := testPool(t)
	r := NewRepository(pool)
	ctx := context.Background()
	u, _, err := r.UpsertFromIdentity(ctx, uniqueProfile(t, pool))
	require.NoError(t, err)

	company := &models.Company{CompanyID: "COMP-T-" + u.ID.String()[:8], CompanyName: "Acme", Industry: "Retail"}
	_, err = pool.Exec(ctx, `INSERT INTO companies (company_id, company_name, industry, owner_id, owner_email)
		VALUES ($1, $2, $3, $4, $5)`, company.CompanyID, company.CompanyName, company.Industry, u.ID.String(), u.Email)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM companies WHERE company_id = $1`, company.CompanyID)
	})

	attached, err := r.AttachToCompany(ctx, u.ID, company)
	require.NoError(t, err)
	require.True(t, attached.HasCompany())
	assert.Equal(t, company.CompanyID, *attached.CompanyID)
	assert.Equal(t, "Retail", attached.Industry)

	// Identity refreshes never touch the affiliation.
	refreshed, _, err := r.UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: u.ExternalID, Email: u.Email})
	require.NoError(t, err)
	assert.Equal(t, company.CompanyID, *refreshed.CompanyID)

	company.Industry = "Logistics"
	require.NoError(t, r.RefreshCompanyCache(ctx, company))
	found, err := r.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Logistics", found.Industry)

	_, err = r.AttachToCompany(ctx, uuid.New(), company)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRepositoryOnboardingFlagsAndDelete(t *testing.T) {
	pool := testPool(t)
	r := NewRepository(pool)
	ctx := context.Background()
	u, _, err := r.UpsertFromIdentity(ctx, uniqueProfile(t, pool))
	require.NoError(t, err)

	yes := true
	updated, err := r.UpdateOnboardingFlags(ctx, u.ID, nil, &yes)
	require.NoError(t, err)
	assert.True(t, updated.OnboardingSkipped)
	assert.False(t, updated.OnboardingCompleted)

	updated, err = r.UpdateOnboardingFlags(ctx, u.ID, &yes, nil)
	require.NoError(t, err)
	assert.True(t, updated.OnboardingSkipped)
	assert.True(t, updated.OnboardingCompleted)

	deleted, err := r.DeleteByExternalID(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = r.DeleteByExternalID(ctx, u.ExternalID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = r.UpdateOnboardingFlags(ctx, u.ID, &yes, nil)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
