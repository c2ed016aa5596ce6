package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a person synced from the identity provider.
// CompanyName through Website are a denormalized copy of the affiliated company.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	ExternalID          string     `json:"externalId"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	ImageURL            string     `json:"imageUrl"`
	EmailVerified       bool       `json:"emailVerified"`
	IsActive            bool       `json:"isActive"`
	CompanyID           *string    `json:"companyId"`
	CompanyName         string     `json:"companyName"`
	Industry            string     `json:"industry"`
	TotalEmployees      string     `json:"totalEmployees"`
	Address             string     `json:"address"`
	Website             string     `json:"website"`
	OnboardingCompleted bool       `json:"onboardingCompleted"`
	OnboardingSkipped   bool       `json:"onboardingSkipped"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// HasCompany reports whether the user is affiliated.
func (u *User) HasCompany() bool {
	return u.CompanyID != nil && *u.CompanyID != ""
}

// CompanyIDValue returns the company id or empty.
func (u *User) CompanyIDValue() string {
	if u.CompanyID == nil {
		return ""
	}
	return *u.CompanyID
}

// IdentityProfile is what the identity provider knows about a user.
type IdentityProfile struct {
	ExternalID    string `json:"externalId"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	ImageURL      string `json:"imageUrl"`
}

// DisplayName joins first and last name, falling back to the email local part.
func (p IdentityProfile) DisplayName() string {
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	if name != "" {
		return name
	}
	for i := 0; i < len(p.Email); i++ {
		if p.Email[i] == '@' {
			return p.Email[:i]
		}
	}
	return p.Email
}
