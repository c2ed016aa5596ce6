package memstore

import (
	"context"
	"fmt"

	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
)

// Companies is the in-memory company directory.
type Companies struct {
	s *Store
}

// FindByID returns a copy of the company, or nil.
func (c *Companies) FindByID(ctx context.Context, companyID string) (*models.Company, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if co, ok := c.s.companies[companyID]; ok {
		return copyCompany(co), nil
	}
	return nil, nil
}

// FindByDomain returns the active company claiming domain, or nil.
func (c *Companies) FindByDomain(ctx context.Context, domain string) (*models.Company, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if co := c.s.activeByDomain(domain); co != nil {
		return copyCompany(co), nil
	}
	return nil, nil
}

func (s *Store) activeByDomain(domain string) *models.Company {
	if domain == "" {
		return nil
	}
	for _, co := range s.companies {
		if co.IsActive && co.Domain == domain {
			return co
		}
	}
	return nil
}

// Exists reports whether companyID is taken.
func (c *Companies) Exists(ctx context.Context, companyID string) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	_, ok := c.s.companies[companyID]
	return ok, nil
}

// Create stores the company with owner as its only member.
func (c *Companies) Create(ctx context.Context, co *models.Company, owner models.CompanyMember) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.companies[co.CompanyID]; ok {
		return fmt.Errorf("create company %s: %w", co.CompanyID, database.DuplicateKeyError(database.CompanyPrimaryKey))
	}
	if c.s.activeByDomain(co.Domain) != nil {
		return fmt.Errorf("create company %s: domain %s: %w", co.CompanyID, co.Domain, database.DuplicateKeyError(database.CompanyDomainKey))
	}
	now := c.s.now()
	owner.Email = domains.NormalizeEmail(owner.Email)
	owner.Role = models.CompanyRoleOwner
	owner.AddedAt = now
	co.IsActive = true
	co.CreatedAt = now
	co.UpdatedAt = now
	co.Members = []models.CompanyMember{owner}
	c.s.companies[co.CompanyID] = copyCompany(co)
	return nil
}

// AddMember appends m unless the email or user id is already a member.
// A user whose email changed has their row rewritten to the current email.
func (c *Companies) AddMember(ctx context.Context, companyID string, m models.CompanyMember) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	co, ok := c.s.companies[companyID]
	if !ok {
		return false, fmt.Errorf("add member to %s: %w", companyID, database.ErrNotFound)
	}
	m.Email = domains.NormalizeEmail(m.Email)
	if m.Role == "" {
		m.Role = models.CompanyRoleMember
	}
	if co.HasMember(m.Email, m.UserID) {
		if m.UserID == "" {
			return false, nil
		}
		for i := range co.Members {
			if co.Members[i].UserID != m.UserID {
				continue
			}
			if co.Members[i].Email != m.Email && !co.HasMember(m.Email, "") {
				co.Members[i].Email = m.Email
			}
			return false, nil
		}
		for i := range co.Members {
			if co.Members[i].Email == m.Email && co.Members[i].UserID == "" {
				co.Members[i].UserID = m.UserID
			}
		}
		return false, nil
	}
	if m.Role == models.CompanyRoleOwner {
		for _, existing := range co.Members {
			if existing.Role == models.CompanyRoleOwner {
				return false, nil
			}
		}
	}
	m.AddedAt = c.s.now()
	co.Members = append(co.Members, m)
	return true, nil
}

// UpdateProfileFields overwrites only the non-empty fields of p.
func (c *Companies) UpdateProfileFields(ctx context.Context, companyID string, p models.CompanyProfile) (*models.Company, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	co, ok := c.s.companies[companyID]
	if !ok {
		return nil, fmt.Errorf("update company %s: %w", companyID, database.ErrNotFound)
	}
	merged := p.Merge(*co)
	merged.UpdatedAt = c.s.now()
	*co = merged
	return copyCompany(co), nil
}

// SetActive toggles the soft-delete flag.
func (c *Companies) SetActive(ctx context.Context, companyID string, active bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	co, ok := c.s.companies[companyID]
	if !ok {
		return database.ErrNotFound
	}
	if active && !co.IsActive {
		if other := c.s.activeByDomain(co.Domain); other != nil {
			return fmt.Errorf("activate company %s: %w", companyID, database.ErrDuplicateKey)
		}
	}
	co.IsActive = active
	co.UpdatedAt = c.s.now()
	return nil
}
