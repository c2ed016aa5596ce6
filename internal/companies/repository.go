package companies

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

const companyColumns = `company_id, company_name, industry, total_employees, phone_number, address, website,
	description, COALESCE(domain, ''), owner_id, owner_email, is_active, created_at, updated_at`

// Repository handles company and company_members persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a companies repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	err := row.Scan(&c.CompanyID, &c.CompanyName, &c.Industry, &c.TotalEmployees, &c.PhoneNumber,
		&c.Address, &c.Website, &c.Description, &c.Domain, &c.OwnerID, &c.OwnerEmail, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByID returns the company with its members, or nil if absent.
func (r *Repository) FindByID(ctx context.Context, companyID string) (*models.Company, error) {
	q := `SELECT ` + companyColumns + ` FROM companies WHERE company_id = $1`
	c, err := scanCompany(r.pool.QueryRow(ctx, q, companyID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find company %s: %w", companyID, err)
	}
	if c.Members, err = r.members(ctx, c.CompanyID); err != nil {
		return nil, err
	}
	return c, nil
}

// FindByDomain returns the active company claiming domain, or nil.
func (r *Repository) FindByDomain(ctx context.Context, domain string) (*models.Company, error) {
	q := `SELECT ` + companyColumns + ` FROM companies WHERE domain = $1 AND is_active`
	c, err := scanCompany(r.pool.QueryRow(ctx, q, domain))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find company by domain %s: %w", domain, err)
	}
	if c.Members, err = r.members(ctx, c.CompanyID); err != nil {
		return nil, err
	}
	return c, nil
}

// Exists reports whether companyID is taken.
func (r *Repository) Exists(ctx context.Context, companyID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM companies WHERE company_id = $1)`, companyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("company exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) members(ctx context.Context, companyID string) ([]models.CompanyMember, error) {
	const q = `SELECT COALESCE(user_id::text, ''), email, role, added_at
		FROM company_members WHERE company_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, companyID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	list := []models.CompanyMember{}
	for rows.Next() {
		var m models.CompanyMember
		if err := rows.Scan(&m.UserID, &m.Email, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// Create inserts the company and its owner member in one transaction.
// Returns database.ErrDuplicateKey when the id or the active domain is already claimed.
func (r *Repository) Create(ctx context.Context, c *models.Company, owner models.CompanyMember) error {
	const insertCompany = `INSERT INTO companies (company_id, company_name, industry, total_employees, phone_number,
			address, website, description, domain, owner_id, owner_email, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, TRUE)
		RETURNING created_at, updated_at`
	const insertOwner = `INSERT INTO company_members (company_id, user_id, email, role)
		VALUES ($1, $2, $3, 'owner')
		RETURNING added_at`

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertCompany, c.CompanyID, c.CompanyName, c.Industry, c.TotalEmployees,
			c.PhoneNumber, c.Address, c.Website, c.Description, c.Domain, c.OwnerID, c.OwnerEmail).
			Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		owner.Email = domains.NormalizeEmail(owner.Email)
		owner.Role = models.CompanyRoleOwner
		return tx.QueryRow(ctx, insertOwner, c.CompanyID, nullableUserID(owner.UserID), owner.Email).Scan(&owner.AddedAt)
	})
	if database.IsDuplicateKey(err) {
		return fmt.Errorf("create company %s: %w: %w", c.CompanyID, database.ErrDuplicateKey, err)
	}
	if err != nil {
		return fmt.Errorf("create company %s: %w", c.CompanyID, err)
	}
	c.IsActive = true
	c.Members = []models.CompanyMember{owner}
	return nil
}

// AddMember inserts the member unless one with the same email or user id already exists.
// A pre-existing email row without a user id gets the user id attached, and the row of a user
// whose email changed is rewritten to the current email.
// Returns whether a new row was inserted.
func (r *Repository) AddMember(ctx context.Context, companyID string, m models.CompanyMember) (bool, error) {
	const insert = `WITH ins AS (
			INSERT INTO company_members (company_id, user_id, email, role)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM ins)`
	const attach = `UPDATE company_members SET user_id = $3
		WHERE company_id = $1 AND email = $2 AND user_id IS NULL
		AND NOT EXISTS (SELECT 1 FROM company_members WHERE company_id = $1 AND user_id = $3)`
	const rename = `UPDATE company_members SET email = $3
		WHERE company_id = $1 AND user_id = $2 AND email <> $3`

	m.Email = domains.NormalizeEmail(m.Email)
	if m.Role == "" {
		m.Role = models.CompanyRoleMember
	}
	userID := nullableUserID(m.UserID)
	var inserted bool
	if err := r.pool.QueryRow(ctx, insert, companyID, userID, m.Email, m.Role).Scan(&inserted); err != nil {
		if database.IsForeignKeyViolation(err) {
			return false, fmt.Errorf("add member to %s: %w", companyID, database.ErrNotFound)
		}
		return false, fmt.Errorf("add member to %s: %w", companyID, err)
	}
	if inserted || userID == nil {
		return inserted, nil
	}
	// A duplicate key here means the current email already has its own row.
	if _, err := r.pool.Exec(ctx, rename, companyID, userID, m.Email); err != nil && !database.IsDuplicateKey(err) {
		return false, fmt.Errorf("rename member in %s: %w", companyID, err)
	}
	if _, err := r.pool.Exec(ctx, attach, companyID, m.Email, userID); err != nil && !database.IsDuplicateKey(err) {
		return false, fmt.Errorf("attach member user to %s: %w", companyID, err)
	}
	return false, nil
}

// UpdateProfileFields overwrites only the non-empty fields of p.
func (r *Repository) UpdateProfileFields(ctx context.Context, companyID string, p models.CompanyProfile) (*models.Company, error) {
	q := `UPDATE companies SET
			company_name    = COALESCE(NULLIF($2, ''), company_name),
			industry        = COALESCE(NULLIF($3, ''), industry),
			total_employees = COALESCE(NULLIF($4, ''), total_employees),
			phone_number    = COALESCE(NULLIF($5, ''), phone_number),
			address         = COALESCE(NULLIF($6, ''), address),
			website         = COALESCE(NULLIF($7, ''), website),
			description     = COALESCE(NULLIF($8, ''), description),
			updated_at      = NOW()
		WHERE company_id = $1
		RETURNING ` + companyColumns
	c, err := scanCompany(r.pool.QueryRow(ctx, q, companyID, p.CompanyName, p.Industry, p.TotalEmployees,
		p.PhoneNumber, p.Address, p.Website, p.Description))
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("update company %s: %w", companyID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update company %s: %w", companyID, err)
	}
	if c.Members, err = r.members(ctx, c.CompanyID); err != nil {
		return nil, err
	}
	return c, nil
}

// SetActive toggles the soft-delete flag. Reactivation fails with ErrDuplicateKey if the domain was claimed meanwhile.
func (r *Repository) SetActive(ctx context.Context, companyID string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE companies SET is_active = $2, updated_at = NOW() WHERE company_id = $1`, companyID, active)
	if database.IsDuplicateKey(err) {
		return fmt.Errorf("activate company %s: %w", companyID, database.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("set company %s active: %w", companyID, err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// nullableUserID converts a user id string to a value pgx writes as NULL when empty or malformed.
func nullableUserID(id string) any {
	if id == "" {
		return nil
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return u
}
