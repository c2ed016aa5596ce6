// Package memstore keeps every record in process memory. It enforces the same uniqueness rules
// as the SQL schema and backs STORE_DRIVER=memory and the handler tests.
package memstore

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-helpdesk/backend/internal/models"
)

// Store is the shared state behind the per-collection views.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	companies   map[string]*models.Company
	users       map[uuid.UUID]*models.User
	teams       map[string]*models.Team
	tickets     map[string]*models.Ticket
	attachments map[string][]models.TicketAttachment
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		companies:   make(map[string]*models.Company),
		users:       make(map[uuid.UUID]*models.User),
		teams:       make(map[string]*models.Team),
		tickets:     make(map[string]*models.Ticket),
		attachments: make(map[string][]models.TicketAttachment),
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Companies returns the company view.
func (s *Store) Companies() *Companies { return &Companies{s: s} }

// Users returns the user view.
func (s *Store) Users() *Users { return &Users{s: s} }

// Teams returns the team view.
func (s *Store) Teams() *Teams { return &Teams{s: s} }

// Tickets returns the ticket view.
func (s *Store) Tickets() *Tickets { return &Tickets{s: s} }

func copyCompany(c *models.Company) *models.Company {
	out := *c
	out.Members = append([]models.CompanyMember{}, c.Members...)
	return &out
}

func copyUser(u *models.User) *models.User {
	out := *u
	if u.CompanyID != nil {
		id := *u.CompanyID
		out.CompanyID = &id
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}

func copyTeam(t *models.Team) *models.Team {
	out := *t
	out.Members = append([]models.TeamMember{}, t.Members...)
	return &out
}

func copyTicket(t *models.Ticket) *models.Ticket {
	out := *t
	out.ActivityLog = append([]models.TicketActivity{}, t.ActivityLog...)
	return &out
}
