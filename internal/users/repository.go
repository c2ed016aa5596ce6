package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

const userColumns = `id, external_id, email, name, first_name, last_name, image_url, email_verified, is_active,
	company_id, company_name, industry, total_employees, address, website,
	onboarding_completed, onboarding_skipped, last_login_at, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row, extra ...any) (*models.User, error) {
	var u models.User
	dest := []any{&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.FirstName, &u.LastName, &u.ImageURL,
		&u.EmailVerified, &u.IsActive, &u.CompanyID, &u.CompanyName, &u.Industry, &u.TotalEmployees,
		&u.Address, &u.Website, &u.OnboardingCompleted, &u.OnboardingSkipped, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// FindByExternalID returns the user for an identity provider id, or nil.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return r.findOne(ctx, `external_id = $1`, externalID)
}

// FindByEmail returns the user with email (case-insensitive), or nil.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `email = $1`, domains.NormalizeEmail(email))
}

// FindByID returns the user with the given primary key, or nil.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.findOne(ctx, `id = $1`, id)
}

// UpsertFromIdentity creates the user or refreshes its profile fields. Affiliation columns are never touched.
// The bool result is true when the row was created.
func (r *Repository) UpsertFromIdentity(ctx context.Context, p models.IdentityProfile) (*models.User, bool, error) {
	q := `INSERT INTO users (id, external_id, email, name, first_name, last_name, image_url, email_verified,
			is_active, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			email          = EXCLUDED.email,
			name           = EXCLUDED.name,
			first_name     = EXCLUDED.first_name,
			last_name      = EXCLUDED.last_name,
			image_url      = EXCLUDED.image_url,
			email_verified = EXCLUDED.email_verified,
			is_active      = TRUE,
			last_login_at  = NOW(),
			updated_at     = NOW()
		RETURNING ` + userColumns + `, (xmax = 0)`
	var created bool
	u, err := scanUser(r.pool.QueryRow(ctx, q, uuid.New(), p.ExternalID, domains.NormalizeEmail(p.Email),
		p.DisplayName(), p.FirstName, p.LastName, p.ImageURL, p.EmailVerified), &created)
	if database.IsDuplicateKey(err) {
		return nil, false, fmt.Errorf("upsert user %s: %w", p.ExternalID, database.ErrDuplicateKey)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert user %s: %w", p.ExternalID, err)
	}
	return u, created, nil
}

// AttachToCompany sets the affiliation and the denormalized company copy in one update.
func (r *Repository) AttachToCompany(ctx context.Context, userID uuid.UUID, c *models.Company) (*models.User, error) {
	q := `UPDATE users SET
			company_id      = $2,
			company_name    = $3,
			industry        = $4,
			total_employees = $5,
			address         = $6,
			website         = $7,
			updated_at      = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, userID, c.CompanyID, c.CompanyName, c.Industry,
		c.TotalEmployees, c.Address, c.Website))
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("attach user %s: %w", userID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("attach user %s: %w", userID, err)
	}
	return u, nil
}

// RefreshCompanyCache rewrites the denormalized copy for every user of the company.
func (r *Repository) RefreshCompanyCache(ctx context.Context, c *models.Company) error {
	const q = `UPDATE users SET company_name = $2, industry = $3, total_employees = $4, address = $5,
			website = $6, updated_at = NOW()
		WHERE company_id = $1`
	if _, err := r.pool.Exec(ctx, q, c.CompanyID, c.CompanyName, c.Industry, c.TotalEmployees, c.Address, c.Website); err != nil {
		return fmt.Errorf("refresh company cache %s: %w", c.CompanyID, err)
	}
	return nil
}

// UpdateOnboardingFlags records that the user completed or skipped onboarding. Nil leaves a flag unchanged.
func (r *Repository) UpdateOnboardingFlags(ctx context.Context, userID uuid.UUID, completed, skipped *bool) (*models.User, error) {
	q := `UPDATE users SET
			onboarding_completed = COALESCE($2, onboarding_completed),
			onboarding_skipped   = COALESCE($3, onboarding_skipped),
			updated_at           = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, userID, completed, skipped))
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("update onboarding %s: %w", userID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update onboarding %s: %w", userID, err)
	}
	return u, nil
}

// DeleteByExternalID removes the user. Memberships keep the email with a NULL user id.
// Returns false when no such user existed.
func (r *Repository) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE external_id = $1`, externalID)
	if err != nil {
		return false, fmt.Errorf("delete user %s: %w", externalID, err)
	}
	return tag.RowsAffected() > 0, nil
}
