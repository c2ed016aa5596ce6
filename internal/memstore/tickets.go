package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

// Tickets is the in-memory ticket store.
type Tickets struct {
	s *Store
}

// Exists reports whether ticketID is taken.
func (r *Tickets) Exists(ctx context.Context, ticketID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.tickets[ticketID]
	return ok, nil
}

// Create stores t together with its initial activity entries.
func (r *Tickets) Create(ctx context.Context, t *models.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tickets[t.TicketID]; ok {
		return fmt.Errorf("create ticket %s: %w", t.TicketID, database.ErrDuplicateKey)
	}
	if _, ok := r.s.teams[t.TeamID]; !ok {
		return fmt.Errorf("create ticket %s: team %s: %w", t.TicketID, t.TeamID, database.ErrNotFound)
	}
	now := r.s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	for i := range t.ActivityLog {
		if t.ActivityLog[i].Timestamp.IsZero() {
			t.ActivityLog[i].Timestamp = now
		}
	}
	r.s.tickets[t.TicketID] = copyTicket(t)
	return nil
}

// FindByID returns the ticket with its activity log, or nil.
func (r *Tickets) FindByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tickets[ticketID]; ok {
		return copyTicket(t), nil
	}
	return nil, nil
}

// List returns the company's tickets matching f, newest first, without activity logs.
func (r *Tickets) List(ctx context.Context, companyID string, f models.TicketFilter) ([]models.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := []models.Ticket{}
	for _, t := range r.s.tickets {
		if t.CompanyID != companyID {
			continue
		}
		if (f.Status != "" && t.Status != f.Status) || (f.Priority != "" && t.Priority != f.Priority) || (f.TeamID != "" && t.TeamID != f.TeamID) {
			continue
		}
		out := *t
		out.ActivityLog = nil
		list = append(list, out)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

// Update writes the mutable fields of t and appends activity.
func (r *Tickets) Update(ctx context.Context, t *models.Ticket, activity []models.TicketActivity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tickets[t.TicketID]
	if !ok {
		return fmt.Errorf("update ticket %s: %w", t.TicketID, database.ErrNotFound)
	}
	now := r.s.now()
	cur.Subject = t.Subject
	cur.Priority = t.Priority
	cur.Status = t.Status
	cur.AssignedTo = t.AssignedTo
	cur.ResolutionNotes = t.ResolutionNotes
	cur.ResolvedAt = t.ResolvedAt
	cur.ClosedAt = t.ClosedAt
	cur.UpdatedAt = now
	for _, a := range activity {
		if a.Timestamp.IsZero() {
			a.Timestamp = now
		}
		cur.ActivityLog = append(cur.ActivityLog, a)
	}
	*t = *copyTicket(cur)
	return nil
}

// AddAttachment records an uploaded object for a ticket.
func (r *Tickets) AddAttachment(ctx context.Context, a *models.TicketAttachment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tickets[a.TicketID]; !ok {
		return fmt.Errorf("add attachment to %s: %w", a.TicketID, database.ErrNotFound)
	}
	a.CreatedAt = r.s.now()
	r.s.attachments[a.TicketID] = append(r.s.attachments[a.TicketID], *a)
	return nil
}

// Attachments lists a ticket's attachments in upload order.
func (r *Tickets) Attachments(ctx context.Context, ticketID string) ([]models.TicketAttachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.TicketAttachment{}, r.s.attachments[ticketID]...), nil
}
