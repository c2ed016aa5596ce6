package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

// Teams is the in-memory team store.
type Teams struct {
	s *Store
}

// Exists reports whether teamID is taken.
func (r *Teams) Exists(ctx context.Context, teamID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.teams[teamID]
	return ok, nil
}

// Create stores t and its members.
func (r *Teams) Create(ctx context.Context, t *models.Team) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.teams[t.TeamID]; ok {
		return fmt.Errorf("create team %s: %w", t.TeamID, database.ErrDuplicateKey)
	}
	if _, ok := r.s.companies[t.CompanyID]; !ok {
		return fmt.Errorf("create team %s: company %s: %w", t.TeamID, t.CompanyID, database.ErrNotFound)
	}
	if hasDuplicateEmail(t.Members) {
		return fmt.Errorf("create team %s: member email: %w", t.TeamID, database.ErrDuplicateKey)
	}
	now := r.s.now()
	t.IsActive = true
	t.CreatedAt = now
	t.UpdatedAt = now
	stampMembers(t.Members, now)
	r.s.teams[t.TeamID] = copyTeam(t)
	return nil
}

// FindByID returns a copy of the team, or nil.
func (r *Teams) FindByID(ctx context.Context, teamID string) (*models.Team, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.teams[teamID]; ok {
		return copyTeam(t), nil
	}
	return nil, nil
}

// ListByCompany returns the company's active teams, newest first.
func (r *Teams) ListByCompany(ctx context.Context, companyID string) ([]models.Team, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := []models.Team{}
	for _, t := range r.s.teams {
		if t.CompanyID == companyID && t.IsActive {
			list = append(list, *copyTeam(t))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// Update replaces the name, description and member list of t.
func (r *Teams) Update(ctx context.Context, t *models.Team) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.teams[t.TeamID]
	if !ok {
		return fmt.Errorf("update team %s: %w", t.TeamID, database.ErrNotFound)
	}
	if hasDuplicateEmail(t.Members) {
		return fmt.Errorf("update team %s: member email: %w", t.TeamID, database.ErrDuplicateKey)
	}
	now := r.s.now()
	stampMembers(t.Members, now)
	cur.TeamName = t.TeamName
	cur.Description = t.Description
	cur.Members = append([]models.TeamMember{}, t.Members...)
	cur.UpdatedAt = now
	*t = *copyTeam(cur)
	return nil
}

func stampMembers(members []models.TeamMember, now time.Time) {
	for i := range members {
		if members[i].AddedAt.IsZero() {
			members[i].AddedAt = now
		}
	}
}

func hasDuplicateEmail(members []models.TeamMember) bool {
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m.Email] {
			return true
		}
		seen[m.Email] = true
	}
	return false
}
