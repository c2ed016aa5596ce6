package models

import (
	"time"

	"github.com/google/uuid"
)

// Ticket priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Ticket statuses.
const (
	TicketStatusOpen       = "open"
	TicketStatusInProgress = "in_progress"
	TicketStatusResolved   = "resolved"
	TicketStatusClosed     = "closed"
)

// Ticket activity actions.
const (
	ActivityCreated         = "created"
	ActivityUpdated         = "updated"
	ActivityAssigned        = "assigned"
	ActivityStatusChanged   = "status_changed"
	ActivityPriorityChanged = "priority_changed"
	ActivityResolved        = "resolved"
	ActivityClosed          = "closed"
	ActivityReopened        = "reopened"
)

// Actor identifies who raised a ticket or performed an action.
type Actor struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Ticket is a support request raised against a team.
type Ticket struct {
	TicketID        string           `json:"ticketId"`
	CompanyID       string           `json:"companyId"`
	CompanyName     string           `json:"companyName"`
	TeamID          string           `json:"teamId"`
	TeamName        string           `json:"teamName"`
	RaisedBy        Actor            `json:"raisedBy"`
	Subject         string           `json:"subject"`
	Message         string           `json:"message"`
	Priority        string           `json:"priority"`
	Status          string           `json:"status"`
	AssignedTo      string           `json:"assignedTo,omitempty"`
	ResolutionNotes string           `json:"resolutionNotes,omitempty"`
	ResolvedAt      *time.Time       `json:"resolvedAt,omitempty"`
	ClosedAt        *time.Time       `json:"closedAt,omitempty"`
	ActivityLog     []TicketActivity `json:"activityLog,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// TicketActivity is one append-only history entry.
type TicketActivity struct {
	Action      string    `json:"action"`
	PerformedBy Actor     `json:"performedBy"`
	Details     string    `json:"details"`
	Timestamp   time.Time `json:"timestamp"`
}

// TicketAttachment records an object uploaded for a ticket.
type TicketAttachment struct {
	ID          uuid.UUID `json:"id"`
	TicketID    string    `json:"ticketId"`
	ObjectKey   string    `json:"objectKey"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsPriority reports whether p is a valid priority.
func IsPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// IsTicketStatus reports whether s is a valid status.
func IsTicketStatus(s string) bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketFilter narrows a ticket listing. Empty fields match everything.
type TicketFilter struct {
	Status   string
	Priority string
	TeamID   string
	Limit    int
}
