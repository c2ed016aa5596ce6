package models

import "time"

// Team member roles.
const (
	TeamRoleAdmin  = "admin"
	TeamRoleAgent  = "agent"
	TeamRoleMember = "member"
)

// Team belongs to one company. The creator is always an admin member.
type Team struct {
	TeamID         string       `json:"teamId"`
	CompanyID      string       `json:"companyId"`
	TeamName       string       `json:"teamName"`
	Description    string       `json:"description"`
	CreatedByID    string       `json:"createdById"`
	CreatedByEmail string       `json:"createdByEmail"`
	IsActive       bool         `json:"isActive"`
	Members        []TeamMember `json:"members"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// TeamMember is a team membership entry.
type TeamMember struct {
	UserID  string    `json:"userId,omitempty"`
	Email   string    `json:"email"`
	Name    string    `json:"name,omitempty"`
	Role    string    `json:"role"`
	AddedAt time.Time `json:"addedAt"`
}

// IsTeamRole reports whether role is a known team role.
func IsTeamRole(role string) bool {
	switch role {
	case TeamRoleAdmin, TeamRoleAgent, TeamRoleMember:
		return true
	}
	return false
}
