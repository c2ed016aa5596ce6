package tickets

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

const ticketColumns = `ticket_id, company_id, company_name, team_id, team_name, raised_by_id, raised_by_email,
	raised_by_name, subject, message, priority, status, assigned_to_email, resolution_notes, resolved_at,
	closed_at, created_at, updated_at`

// Repository handles ticket, activity and attachment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a tickets repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.TicketID, &t.CompanyID, &t.CompanyName, &t.TeamID, &t.TeamName, &t.RaisedBy.UserID,
		&t.RaisedBy.Email, &t.RaisedBy.Name, &t.Subject, &t.Message, &t.Priority, &t.Status, &t.AssignedTo,
		&t.ResolutionNotes, &t.ResolvedAt, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Exists reports whether ticketID is taken.
func (r *Repository) Exists(ctx context.Context, ticketID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, ticketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ticket exists: %w", err)
	}
	return exists, nil
}

// Create inserts the ticket and its initial activity entries in one transaction.
func (r *Repository) Create(ctx context.Context, t *models.Ticket) error {
	const q = `INSERT INTO tickets (ticket_id, company_id, company_name, team_id, team_name, raised_by_id,
			raised_by_email, raised_by_name, subject, message, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, q, t.TicketID, t.CompanyID, t.CompanyName, t.TeamID, t.TeamName,
			t.RaisedBy.UserID, t.RaisedBy.Email, t.RaisedBy.Name, t.Subject, t.Message, t.Priority, t.Status).
			Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}
		return insertActivity(ctx, tx, t.TicketID, t.ActivityLog)
	})
	switch {
	case database.IsDuplicateKey(err):
		return fmt.Errorf("create ticket %s: %w", t.TicketID, database.ErrDuplicateKey)
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("create ticket %s: %w", t.TicketID, database.ErrNotFound)
	case err != nil:
		return fmt.Errorf("create ticket %s: %w", t.TicketID, err)
	}
	return nil
}

func insertActivity(ctx context.Context, tx pgx.Tx, ticketID string, entries []models.TicketActivity) error {
	const q = `INSERT INTO ticket_activity (ticket_id, action, performed_by_id, performed_by_email, performed_by_name, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	for i := range entries {
		a := &entries[i]
		if err := tx.QueryRow(ctx, q, ticketID, a.Action, a.PerformedBy.UserID, a.PerformedBy.Email,
			a.PerformedBy.Name, a.Details).Scan(&a.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// FindByID returns the ticket with its activity log, or nil if absent.
func (r *Repository) FindByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket %s: %w", ticketID, err)
	}
	if t.ActivityLog, err = r.activity(ctx, ticketID); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Repository) activity(ctx context.Context, ticketID string) ([]models.TicketActivity, error) {
	rows, err := r.pool.Query(ctx, `SELECT action, performed_by_id, performed_by_email, performed_by_name, details, created_at
		FROM ticket_activity WHERE ticket_id = $1 ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket activity: %w", err)
	}
	defer rows.Close()
	list := []models.TicketActivity{}
	for rows.Next() {
		var a models.TicketActivity
		if err := rows.Scan(&a.Action, &a.PerformedBy.UserID, &a.PerformedBy.Email, &a.PerformedBy.Name,
			&a.Details, &a.Timestamp); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// List returns the company's tickets matching f, newest first, without activity logs.
func (r *Repository) List(ctx context.Context, companyID string, f models.TicketFilter) ([]models.Ticket, error) {
	where := []string{"company_id = $1"}
	args := []any{companyID}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	add("status", f.Status)
	add("priority", f.Priority)
	add("team_id", f.TeamID)
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	list := []models.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// Update writes the mutable fields of t and appends activity in one transaction.
func (r *Repository) Update(ctx context.Context, t *models.Ticket, activity []models.TicketActivity) error {
	const q = `UPDATE tickets SET subject = $2, priority = $3, status = $4, assigned_to_email = $5,
			resolution_notes = $6, resolved_at = $7, closed_at = $8, updated_at = NOW()
		WHERE ticket_id = $1
		RETURNING ` + ticketColumns
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		updated, err := scanTicket(tx.QueryRow(ctx, q, t.TicketID, t.Subject, t.Priority, t.Status, t.AssignedTo,
			t.ResolutionNotes, t.ResolvedAt, t.ClosedAt))
		if err != nil {
			return err
		}
		if err := insertActivity(ctx, tx, t.TicketID, activity); err != nil {
			return err
		}
		updated.ActivityLog = append(t.ActivityLog, activity...)
		*t = *updated
		return nil
	})
	if database.IsNoRows(err) {
		return fmt.Errorf("update ticket %s: %w", t.TicketID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", t.TicketID, err)
	}
	return nil
}

// AddAttachment records an uploaded object for a ticket.
func (r *Repository) AddAttachment(ctx context.Context, a *models.TicketAttachment) error {
	const q = `INSERT INTO ticket_attachments (id, ticket_id, object_key, file_name, content_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, q, a.ID, a.TicketID, a.ObjectKey, a.FileName, a.ContentType, a.UploadedBy).Scan(&a.CreatedAt)
	if database.IsForeignKeyViolation(err) {
		return fmt.Errorf("add attachment to %s: %w", a.TicketID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("add attachment to %s: %w", a.TicketID, err)
	}
	return nil
}

// Attachments lists a ticket's attachments in upload order.
func (r *Repository) Attachments(ctx context.Context, ticketID string) ([]models.TicketAttachment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, ticket_id, object_key, file_name, content_type, uploaded_by, created_at
		FROM ticket_attachments WHERE ticket_id = $1 ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	list := []models.TicketAttachment{}
	for rows.Next() {
		var a models.TicketAttachment
		if err := rows.Scan(&a.ID, &a.TicketID, &a.ObjectKey, &a.FileName, &a.ContentType, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
