package teams

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

const teamColumns = `team_id, company_id, team_name, description, created_by_id, created_by_email, is_active, created_at, updated_at`

// Repository handles team and team_members persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a teams repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTeam(row pgx.Row) (*models.Team, error) {
	var t models.Team
	err := row.Scan(&t.TeamID, &t.CompanyID, &t.TeamName, &t.Description, &t.CreatedByID, &t.CreatedByEmail,
		&t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Exists reports whether teamID is taken.
func (r *Repository) Exists(ctx context.Context, teamID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE team_id = $1)`, teamID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("team exists: %w", err)
	}
	return exists, nil
}

// Create inserts the team and its members in one transaction.
func (r *Repository) Create(ctx context.Context, t *models.Team) error {
	const q = `INSERT INTO teams (team_id, company_id, team_name, description, created_by_id, created_by_email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING is_active, created_at, updated_at`
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, q, t.TeamID, t.CompanyID, t.TeamName, t.Description, t.CreatedByID, t.CreatedByEmail).
			Scan(&t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}
		return insertMembers(ctx, tx, t)
	})
	switch {
	case database.IsDuplicateKey(err):
		return fmt.Errorf("create team %s: %w", t.TeamID, database.ErrDuplicateKey)
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("create team %s: %w", t.TeamID, database.ErrNotFound)
	case err != nil:
		return fmt.Errorf("create team %s: %w", t.TeamID, err)
	}
	return nil
}

func insertMembers(ctx context.Context, tx pgx.Tx, t *models.Team) error {
	const q = `INSERT INTO team_members (team_id, user_id, email, name, role, added_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING added_at`
	for i := range t.Members {
		m := &t.Members[i]
		var addedAt any
		if !m.AddedAt.IsZero() {
			addedAt = m.AddedAt
		}
		if err := tx.QueryRow(ctx, q, t.TeamID, m.UserID, m.Email, m.Name, m.Role, addedAt).Scan(&m.AddedAt); err != nil {
			return err
		}
	}
	return nil
}

// FindByID returns the team with its members, or nil if absent.
func (r *Repository) FindByID(ctx context.Context, teamID string) (*models.Team, error) {
	t, err := scanTeam(r.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE team_id = $1`, teamID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find team %s: %w", teamID, err)
	}
	if t.Members, err = r.members(ctx, t.TeamID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListByCompany returns the company's active teams with members, newest first.
func (r *Repository) ListByCompany(ctx context.Context, companyID string) ([]models.Team, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+teamColumns+` FROM teams
		WHERE company_id = $1 AND is_active ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	list := []models.Team{}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, *t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Members, err = r.members(ctx, list[i].TeamID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *Repository) members(ctx context.Context, teamID string) ([]models.TeamMember, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, email, name, role, added_at
		FROM team_members WHERE team_id = $1 ORDER BY id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()
	list := []models.TeamMember{}
	for rows.Next() {
		var m models.TeamMember
		if err := rows.Scan(&m.UserID, &m.Email, &m.Name, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// Update replaces the name, description and member list of t in one transaction.
func (r *Repository) Update(ctx context.Context, t *models.Team) error {
	const q = `UPDATE teams SET team_name = $2, description = $3, updated_at = NOW()
		WHERE team_id = $1
		RETURNING ` + teamColumns
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		updated, err := scanTeam(tx.QueryRow(ctx, q, t.TeamID, t.TeamName, t.Description))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1`, t.TeamID); err != nil {
			return err
		}
		updated.Members = t.Members
		*t = *updated
		return insertMembers(ctx, tx, t)
	})
	switch {
	case database.IsNoRows(err):
		return fmt.Errorf("update team %s: %w", t.TeamID, database.ErrNotFound)
	case database.IsDuplicateKey(err):
		return fmt.Errorf("update team %s: %w", t.TeamID, database.ErrDuplicateKey)
	case err != nil:
		return fmt.Errorf("update team %s: %w", t.TeamID, err)
	}
	return nil
}
