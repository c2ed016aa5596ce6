package models

import "time"

// Company member roles.
const (
	CompanyRoleOwner  = "owner"
	CompanyRoleAdmin  = "admin"
	CompanyRoleMember = "member"
)

// Company is a tenant. Domain, when set, is claimed by at most one active company.
type Company struct {
	CompanyID      string          `json:"companyId"`
	CompanyName    string          `json:"companyName"`
	Industry       string          `json:"industry"`
	TotalEmployees string          `json:"totalEmployees"`
	PhoneNumber    string          `json:"phoneNumber"`
	Address        string          `json:"address"`
	Website        string          `json:"website"`
	Description    string          `json:"description"`
	Domain         string          `json:"domain,omitempty"`
	OwnerID        string          `json:"ownerId"`
	OwnerEmail     string          `json:"ownerEmail"`
	IsActive       bool            `json:"isActive"`
	Members        []CompanyMember `json:"members"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CompanyMember links a user (possibly not yet known) to a company with a role.
type CompanyMember struct {
	UserID  string    `json:"userId,omitempty"`
	Email   string    `json:"email"`
	Role    string    `json:"role"`
	AddedAt time.Time `json:"addedAt"`
}

// CompanyProfile is the set of editable company attributes. Empty fields mean "leave as is".
type CompanyProfile struct {
	CompanyName    string `json:"companyName"`
	Industry       string `json:"industry"`
	TotalEmployees string `json:"totalEmployees"`
	PhoneNumber    string `json:"phoneNumber"`
	Address        string `json:"address"`
	Website        string `json:"website"`
	Description    string `json:"description"`
}

// HasMember reports whether email (already lowercased) or userID is in the member list.
func (c *Company) HasMember(email, userID string) bool {
	for _, m := range c.Members {
		if m.Email == email || (userID != "" && m.UserID == userID) {
			return true
		}
	}
	return false
}

// Merge returns c with every non-empty field of p applied.
func (p CompanyProfile) Merge(c Company) Company {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.CompanyName, p.CompanyName)
	set(&c.Industry, p.Industry)
	set(&c.TotalEmployees, p.TotalEmployees)
	set(&c.PhoneNumber, p.PhoneNumber)
	set(&c.Address, p.Address)
	set(&c.Website, p.Website)
	set(&c.Description, p.Description)
	return c
}

// Profile returns the editable fields of c.
func (c *Company) Profile() CompanyProfile {
	return CompanyProfile{
		CompanyName:    c.CompanyName,
		Industry:       c.Industry,
		TotalEmployees: c.TotalEmployees,
		PhoneNumber:    c.PhoneNumber,
		Address:        c.Address,
		Website:        c.Website,
		Description:    c.Description,
	}
}

// WhereBlank returns only the fields of p whose counterpart in cur is empty.
func (p CompanyProfile) WhereBlank(cur CompanyProfile) CompanyProfile {
	keep := func(v, existing string) string {
		if existing != "" {
			return ""
		}
		return v
	}
	return CompanyProfile{
		CompanyName:    keep(p.CompanyName, cur.CompanyName),
		Industry:       keep(p.Industry, cur.Industry),
		TotalEmployees: keep(p.TotalEmployees, cur.TotalEmployees),
		PhoneNumber:    keep(p.PhoneNumber, cur.PhoneNumber),
		Address:        keep(p.Address, cur.Address),
		Website:        keep(p.Website, cur.Website),
		Description:    keep(p.Description, cur.Description),
	}
}

// FillBlanks returns p with empty fields taken from other.
func (p CompanyProfile) FillBlanks(other CompanyProfile) CompanyProfile {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&p.CompanyName, other.CompanyName)
	fill(&p.Industry, other.Industry)
	fill(&p.TotalEmployees, other.TotalEmployees)
	fill(&p.PhoneNumber, other.PhoneNumber)
	fill(&p.Address, other.Address)
	fill(&p.Website, other.Website)
	fill(&p.Description, other.Description)
	return p
}
