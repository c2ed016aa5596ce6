package memstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

// Users is the in-memory user directory.
type Users struct {
	s *Store
}

func (s *Store) userBy(match func(*models.User) bool) *models.User {
	for _, u := range s.users {
		if match(u) {
			return u
		}
	}
	return nil
}

// FindByExternalID returns the user for an identity provider id, or nil.
func (r *Users) FindByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u := r.s.userBy(func(u *models.User) bool { return u.ExternalID == externalID }); u != nil {
		return copyUser(u), nil
	}
	return nil, nil
}

// FindByEmail returns the user with email (case-insensitive), or nil.
func (r *Users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = domains.NormalizeEmail(email)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u := r.s.userBy(func(u *models.User) bool { return u.Email == email }); u != nil {
		return copyUser(u), nil
	}
	return nil, nil
}

// FindByID returns the user with the given id, or nil.
func (r *Users) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

// UpsertFromIdentity creates the user or refreshes its profile fields.
func (r *Users) UpsertFromIdentity(ctx context.Context, p models.IdentityProfile) (*models.User, bool, error) {
	email := domains.NormalizeEmail(p.Email)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if other := r.s.userBy(func(u *models.User) bool { return u.Email == email && u.ExternalID != p.ExternalID }); other != nil {
		return nil, false, fmt.Errorf("upsert user %s: %w", p.ExternalID, database.ErrDuplicateKey)
	}
	now := r.s.now()
	u := r.s.userBy(func(u *models.User) bool { return u.ExternalID == p.ExternalID })
	created := u == nil
	if created {
		u = &models.User{ID: uuid.New(), ExternalID: p.ExternalID, CreatedAt: now}
		r.s.users[u.ID] = u
	}
	u.Email = email
	u.Name = p.DisplayName()
	u.FirstName = p.FirstName
	u.LastName = p.LastName
	u.ImageURL = p.ImageURL
	u.EmailVerified = p.EmailVerified
	u.IsActive = true
	u.LastLoginAt = &now
	u.UpdatedAt = now
	return copyUser(u), created, nil
}

// AttachToCompany sets the affiliation and the denormalized company copy.
func (r *Users) AttachToCompany(ctx context.Context, userID uuid.UUID, c *models.Company) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, fmt.Errorf("attach user %s: %w", userID, database.ErrNotFound)
	}
	if _, ok := r.s.companies[c.CompanyID]; !ok {
		return nil, fmt.Errorf("attach user %s to %s: %w", userID, c.CompanyID, database.ErrNotFound)
	}
	id := c.CompanyID
	u.CompanyID = &id
	u.CompanyName = c.CompanyName
	u.Industry = c.Industry
	u.TotalEmployees = c.TotalEmployees
	u.Address = c.Address
	u.Website = c.Website
	u.UpdatedAt = r.s.now()
	return copyUser(u), nil
}

// RefreshCompanyCache rewrites the denormalized copy for every user of the company.
func (r *Users) RefreshCompanyCache(ctx context.Context, c *models.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.CompanyIDValue() == c.CompanyID {
			u.CompanyName = c.CompanyName
			u.Industry = c.Industry
			u.TotalEmployees = c.TotalEmployees
			u.Address = c.Address
			u.Website = c.Website
			u.UpdatedAt = r.s.now()
		}
	}
	return nil
}

// UpdateOnboardingFlags records onboarding progress. Nil leaves a flag unchanged.
func (r *Users) UpdateOnboardingFlags(ctx context.Context, userID uuid.UUID, completed, skipped *bool) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, fmt.Errorf("update onboarding %s: %w", userID, database.ErrNotFound)
	}
	if completed != nil {
		u.OnboardingCompleted = *completed
	}
	if skipped != nil {
		u.OnboardingSkipped = *skipped
	}
	u.UpdatedAt = r.s.now()
	return copyUser(u), nil
}

// DeleteByExternalID removes the user and clears its id from company memberships.
func (r *Users) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u := r.s.userBy(func(u *models.User) bool { return u.ExternalID == externalID })
	if u == nil {
		return false, nil
	}
	delete(r.s.users, u.ID)
	id := u.ID.String()
	for _, co := range r.s.companies {
		for i := range co.Members {
			if co.Members[i].UserID == id {
				co.Members[i].UserID = ""
			}
		}
	}
	return true, nil
}
