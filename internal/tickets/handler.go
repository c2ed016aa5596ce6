package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/idgen"
	"github.com/aura-helpdesk/backend/internal/middleware"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
	"github.com/aura-helpdesk/backend/pkg/response"
	"github.com/aura-helpdesk/backend/pkg/storage"
)

// listLimit caps GET /tickets to the most recent tickets.
const listLimit = 100

const maxSubjectLen = 100

// Store is the ticket persistence the handler needs.
type Store interface {
	Exists(ctx context.Context, ticketID string) (bool, error)
	Create(ctx context.Context, t *models.Ticket) error
	FindByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	List(ctx context.Context, companyID string, f models.TicketFilter) ([]models.Ticket, error)
	Update(ctx context.Context, t *models.Ticket, activity []models.TicketActivity) error
	AddAttachment(ctx context.Context, a *models.TicketAttachment) error
	Attachments(ctx context.Context, ticketID string) ([]models.TicketAttachment, error)
}

// TeamFinder loads the team a ticket is raised against.
type TeamFinder interface {
	FindByID(ctx context.Context, teamID string) (*models.Team, error)
}

// Uploader issues pre-signed attachment URLs.
type Uploader interface {
	PresignUpload(ctx context.Context, key, contentType string) (string, time.Time, error)
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Handler handles ticket HTTP endpoints.
type Handler struct {
	store   Store
	teams   TeamFinder
	uploads Uploader
	ids     *idgen.Generator
	now     func() time.Time
	logger  *zap.Logger
}

// NewHandler creates a tickets handler. uploads may be nil, which disables attachments.
func NewHandler(store Store, teams TeamFinder, uploads Uploader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   store,
		teams:   teams,
		uploads: uploads,
		ids:     idgen.New(idgen.PrefixTicket, idgen.CheckerFunc(store.Exists)),
		now:     time.Now,
		logger:  logger,
	}
}

// CreateTicketRequest is the body for POST /tickets.
type CreateTicketRequest struct {
	Email    string `json:"email"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
	TeamID   string `json:"teamId"`
	Subject  string `json:"subject"`
}

// UpdateTicketRequest is the body for PATCH /tickets/:id. Absent fields are left unchanged.
type UpdateTicketRequest struct {
	Subject         *string `json:"subject"`
	Status          *string `json:"status"`
	Priority        *string `json:"priority"`
	AssignedTo      *string `json:"assignedTo"`
	ResolutionNotes *string `json:"resolutionNotes"`
}

// AttachmentRequest is the body for POST /tickets/:id/attachments.
type AttachmentRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// AttachmentView is an attachment with a download link.
type AttachmentView struct {
	models.TicketAttachment
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// TicketDetail is the GET /tickets/:id payload.
type TicketDetail struct {
	*models.Ticket
	Attachments []AttachmentView `json:"attachments"`
}

// Create handles POST /tickets.
func (h *Handler) Create(c *gin.Context) {
	user := middleware.User(c)
	var body CreateTicketRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	email := domains.NormalizeEmail(body.Email)
	message := strings.TrimSpace(body.Message)
	teamID := strings.TrimSpace(body.TeamID)
	priority := strings.ToLower(strings.TrimSpace(body.Priority))
	if priority == "" {
		priority = models.PriorityMedium
	}
	switch {
	case email == "":
		response.BadRequest(c, "Email is required")
		return
	case message == "":
		response.BadRequest(c, "Message is required")
		return
	case teamID == "":
		response.BadRequest(c, "Team selection is required")
		return
	case !models.IsPriority(priority):
		response.BadRequest(c, "Invalid priority level")
		return
	case !user.HasCompany() || user.CompanyName == "":
		response.BadRequest(c, "Company not found. Please complete company setup first.")
		return
	}

	ctx := c.Request.Context()
	team, err := h.teams.FindByID(ctx, teamID)
	if err != nil {
		h.logger.Error("load team for ticket", zap.String("team_id", teamID), zap.Error(err))
		response.Internal(c, "failed to create ticket")
		return
	}
	if team == nil || !team.IsActive || team.CompanyID != user.CompanyIDValue() {
		response.NotFound(c, "Team not found or inactive")
		return
	}

	id, err := h.ids.Generate(ctx)
	if err != nil {
		h.logger.Error("generate ticket id", zap.Error(err))
		response.Internal(c, "failed to create ticket")
		return
	}
	subject := strings.TrimSpace(body.Subject)
	if subject == "" {
		subject = truncate(message, maxSubjectLen)
	}
	raisedBy := models.Actor{UserID: user.ID.String(), Email: email, Name: displayName(user.Name, email)}
	ticket := &models.Ticket{
		TicketID:    id,
		CompanyID:   user.CompanyIDValue(),
		CompanyName: user.CompanyName,
		TeamID:      team.TeamID,
		TeamName:    team.TeamName,
		RaisedBy:    raisedBy,
		Subject:     subject,
		Message:     message,
		Priority:    priority,
		Status:      models.TicketStatusOpen,
		ActivityLog: []models.TicketActivity{{
			Action:      models.ActivityCreated,
			PerformedBy: actor(user),
			Details:     "Ticket created with priority: " + priority,
		}},
	}
	if err := h.store.Create(ctx, ticket); err != nil {
		h.logger.Error("create ticket", zap.String("ticket_id", id), zap.Error(err))
		response.Internal(c, "failed to create ticket")
		return
	}
	h.logger.Info("ticket created", zap.String("ticket_id", id), zap.String("team_id", team.TeamID), zap.String("priority", priority))
	response.Created(c, ticket, "Ticket created successfully")
}

// List handles GET /tickets?status=&priority=&teamId=. Unknown status or priority values are ignored.
func (h *Handler) List(c *gin.Context) {
	user := middleware.User(c)
	if !user.HasCompany() {
		response.OKMessage(c, []models.Ticket{}, "No company found. Tickets will be available after company setup.")
		return
	}
	f := models.TicketFilter{TeamID: strings.TrimSpace(c.Query("teamId")), Limit: listLimit}
	if s := c.Query("status"); models.IsTicketStatus(s) {
		f.Status = s
	}
	if p := c.Query("priority"); models.IsPriority(p) {
		f.Priority = p
	}
	list, err := h.store.List(c.Request.Context(), user.CompanyIDValue(), f)
	if err != nil {
		h.logger.Error("list tickets", zap.String("company_id", user.CompanyIDValue()), zap.Error(err))
		response.Internal(c, "failed to fetch tickets")
		return
	}
	response.OKMessage(c, list, "Tickets fetched successfully")
}

// Get handles GET /tickets/:id.
func (h *Handler) Get(c *gin.Context) {
	ticket, ok := h.loadTicket(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	files, err := h.store.Attachments(ctx, ticket.TicketID)
	if err != nil {
		h.logger.Error("list attachments", zap.String("ticket_id", ticket.TicketID), zap.Error(err))
		response.Internal(c, "failed to fetch ticket")
		return
	}
	detail := TicketDetail{Ticket: ticket, Attachments: make([]AttachmentView, 0, len(files))}
	for _, f := range files {
		v := AttachmentView{TicketAttachment: f}
		if h.uploads != nil {
			if v.DownloadURL, err = h.uploads.PresignDownload(ctx, f.ObjectKey); err != nil {
				h.logger.Warn("presign attachment download", zap.String("key", f.ObjectKey), zap.Error(err))
			}
		}
		detail.Attachments = append(detail.Attachments, v)
	}
	response.OK(c, detail)
}

// Update handles PATCH /tickets/:id. The raiser and the team's admins and agents may update.
// Every change appends an activity entry.
func (h *Handler) Update(c *gin.Context) {
	user := middleware.User(c)
	var body UpdateTicketRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	ticket, ok := h.loadTicket(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	team, err := h.teams.FindByID(ctx, ticket.TeamID)
	if err != nil {
		h.logger.Error("load ticket team", zap.String("team_id", ticket.TeamID), zap.Error(err))
		response.Internal(c, "failed to update ticket")
		return
	}
	if !canUpdate(ticket, team, user) {
		response.Forbidden(c, "You do not have permission to update this ticket")
		return
	}

	activity, err := h.applyChanges(ticket, team, body, actor(user))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(activity) == 0 {
		response.OKMessage(c, ticket, "No changes")
		return
	}
	if err := h.store.Update(ctx, ticket, activity); err != nil {
		h.logger.Error("update ticket", zap.String("ticket_id", ticket.TicketID), zap.Error(err))
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "Ticket not found")
			return
		}
		response.Internal(c, "failed to update ticket")
		return
	}
	response.OKMessage(c, ticket, "Ticket updated successfully")
}

// CreateAttachment handles POST /tickets/:id/attachments. Returns a pre-signed upload URL and records the attachment.
func (h *Handler) CreateAttachment(c *gin.Context) {
	user := middleware.User(c)
	if h.uploads == nil {
		response.ServiceUnavailable(c, "attachments are not configured")
		return
	}
	var body AttachmentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	name := strings.TrimSpace(body.FileName)
	contentType := strings.ToLower(strings.TrimSpace(body.ContentType))
	switch {
	case name == "":
		response.BadRequest(c, "fileName is required")
		return
	case !storage.ValidateAttachmentType(contentType):
		response.BadRequest(c, "unsupported content type")
		return
	case body.Size < 0 || body.Size > storage.MaxAttachmentSize:
		response.BadRequest(c, fmt.Sprintf("file must be at most %d bytes", storage.MaxAttachmentSize))
		return
	}
	ticket, ok := h.loadTicket(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	id := uuid.New()
	key := storage.AttachmentKey(ticket.TicketID, id, name)
	url, expires, err := h.uploads.PresignUpload(ctx, key, contentType)
	if err != nil {
		h.logger.Error("presign attachment upload", zap.String("ticket_id", ticket.TicketID), zap.Error(err))
		response.Internal(c, "failed to prepare upload")
		return
	}
	att := &models.TicketAttachment{
		ID:          id,
		TicketID:    ticket.TicketID,
		ObjectKey:   key,
		FileName:    name,
		ContentType: contentType,
		UploadedBy:  user.Email,
	}
	if err := h.store.AddAttachment(ctx, att); err != nil {
		h.logger.Error("record attachment", zap.String("ticket_id", ticket.TicketID), zap.Error(err))
		response.Internal(c, "failed to record attachment")
		return
	}
	response.Created(c, gin.H{"attachment": att, "uploadUrl": url, "expiresAt": expires}, "Upload URL created")
}

// loadTicket loads :id and checks it belongs to the caller's company. It writes the error response itself.
func (h *Handler) loadTicket(c *gin.Context) (*models.Ticket, bool) {
	user := middleware.User(c)
	id := c.Param("id")
	ticket, err := h.store.FindByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load ticket", zap.String("ticket_id", id), zap.Error(err))
		response.Internal(c, "failed to load ticket")
		return nil, false
	}
	if ticket == nil || !user.HasCompany() || ticket.CompanyID != user.CompanyIDValue() {
		response.NotFound(c, "Ticket not found")
		return nil, false
	}
	return ticket, true
}

// applyChanges mutates t according to req and returns the activity entries describing the changes.
func (h *Handler) applyChanges(t *models.Ticket, team *models.Team, req UpdateTicketRequest, by models.Actor) ([]models.TicketActivity, error) {
	var out []models.TicketActivity
	add := func(action, details string) {
		out = append(out, models.TicketActivity{Action: action, PerformedBy: by, Details: details})
	}
	now := h.now().UTC()

	if req.Priority != nil {
		p := strings.ToLower(strings.TrimSpace(*req.Priority))
		if !models.IsPriority(p) {
			return nil, errors.New("Invalid priority level")
		}
		if p != t.Priority {
			add(models.ActivityPriorityChanged, fmt.Sprintf("Priority changed from %s to %s", t.Priority, p))
			t.Priority = p
		}
	}
	if req.AssignedTo != nil {
		email := domains.NormalizeEmail(*req.AssignedTo)
		if email != "" && (team == nil || !isTeamMember(team, email)) {
			return nil, errors.New("Assignee must be a member of the ticket's team")
		}
		if email != t.AssignedTo {
			if email == "" {
				add(models.ActivityAssigned, "Ticket unassigned")
			} else {
				add(models.ActivityAssigned, "Assigned to "+email)
			}
			t.AssignedTo = email
		}
	}
	if req.Status != nil {
		s := strings.ToLower(strings.TrimSpace(*req.Status))
		if !models.IsTicketStatus(s) {
			return nil, errors.New("Invalid status")
		}
		if s != t.Status {
			wasDone := t.Status == models.TicketStatusResolved || t.Status == models.TicketStatusClosed
			details := fmt.Sprintf("Status changed from %s to %s", t.Status, s)
			switch {
			case s == models.TicketStatusResolved:
				add(models.ActivityResolved, details)
				t.ResolvedAt = &now
				t.ClosedAt = nil
			case s == models.TicketStatusClosed:
				add(models.ActivityClosed, details)
				t.ClosedAt = &now
			case wasDone:
				add(models.ActivityReopened, details)
				t.ResolvedAt = nil
				t.ClosedAt = nil
			default:
				add(models.ActivityStatusChanged, details)
			}
			t.Status = s
		}
	}

	var updated []string
	if req.Subject != nil {
		s := truncate(strings.TrimSpace(*req.Subject), maxSubjectLen)
		if s == "" {
			return nil, errors.New("Subject cannot be empty")
		}
		if s != t.Subject {
			t.Subject = s
			updated = append(updated, "subject")
		}
	}
	if req.ResolutionNotes != nil {
		if notes := strings.TrimSpace(*req.ResolutionNotes); notes != t.ResolutionNotes {
			t.ResolutionNotes = notes
			updated = append(updated, "resolution notes")
		}
	}
	if len(updated) > 0 {
		add(models.ActivityUpdated, "Updated "+strings.Join(updated, " and "))
	}
	return out, nil
}

func canUpdate(t *models.Ticket, team *models.Team, user *models.User) bool {
	if t.RaisedBy.UserID == user.ID.String() {
		return true
	}
	if team == nil {
		return false
	}
	if team.CreatedByID == user.ID.String() {
		return true
	}
	for _, m := range team.Members {
		if m.UserID == user.ID.String() || m.Email == user.Email {
			return m.Role == models.TeamRoleAdmin || m.Role == models.TeamRoleAgent
		}
	}
	return false
}

func isTeamMember(team *models.Team, email string) bool {
	for _, m := range team.Members {
		if m.Email == email {
			return true
		}
	}
	return false
}

func actor(user *models.User) models.Actor {
	return models.Actor{UserID: user.ID.String(), Email: user.Email, Name: displayName(user.Name, user.Email)}
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
