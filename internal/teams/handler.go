package teams

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/idgen"
	"github.com/aura-helpdesk/backend/internal/middleware"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/database"
	"github.com/aura-helpdesk/backend/pkg/response"
)

var errInvalidRole = errors.New("invalid member role")

// Store is the team persistence the handler needs.
type Store interface {
	Exists(ctx context.Context, teamID string) (bool, error)
	Create(ctx context.Context, t *models.Team) error
	FindByID(ctx context.Context, teamID string) (*models.Team, error)
	ListByCompany(ctx context.Context, companyID string) ([]models.Team, error)
	Update(ctx context.Context, t *models.Team) error
}

// Handler handles team HTTP endpoints.
type Handler struct {
	store  Store
	ids    *idgen.Generator
	logger *zap.Logger
}

// NewHandler creates a teams handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  store,
		ids:    idgen.New(idgen.PrefixTeam, idgen.CheckerFunc(store.Exists)),
		logger: logger,
	}
}

// MemberInput is one member entry in a team request.
type MemberInput struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// TeamRequest is the body for POST /teams and PUT /teams/:id.
type TeamRequest struct {
	TeamName    string        `json:"teamName"`
	Description string        `json:"description"`
	Members     []MemberInput `json:"members"`
}

// Create handles POST /teams. The caller becomes an admin member.
func (h *Handler) Create(c *gin.Context) {
	user := middleware.User(c)
	var body TeamRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	name := strings.TrimSpace(body.TeamName)
	if name == "" {
		response.BadRequest(c, "Team name is required")
		return
	}
	if !user.HasCompany() {
		response.BadRequest(c, "Company not found. Please complete company setup first.")
		return
	}
	creator := models.TeamMember{UserID: user.ID.String(), Email: user.Email, Name: displayName(user.Name, user.Email), Role: models.TeamRoleAdmin}
	members, err := cleanMembers(body.Members, creator)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	id, err := h.ids.Generate(ctx)
	if err != nil {
		h.logger.Error("generate team id", zap.Error(err))
		response.Internal(c, "failed to create team")
		return
	}
	team := &models.Team{
		TeamID:         id,
		CompanyID:      user.CompanyIDValue(),
		TeamName:       name,
		Description:    strings.TrimSpace(body.Description),
		CreatedByID:    creator.UserID,
		CreatedByEmail: creator.Email,
		Members:        members,
	}
	if err := h.store.Create(ctx, team); err != nil {
		h.logger.Error("create team", zap.String("team_id", id), zap.Error(err))
		if database.IsDuplicateKey(err) {
			response.Conflict(c, "team already exists")
			return
		}
		response.Internal(c, "failed to create team")
		return
	}
	h.logger.Info("team created", zap.String("team_id", id), zap.String("company_id", team.CompanyID), zap.Int("members", len(members)))
	response.Created(c, team, "Team created successfully")
}

// List handles GET /teams. Returns the company's teams the caller created or belongs to.
func (h *Handler) List(c *gin.Context) {
	user := middleware.User(c)
	if !user.HasCompany() {
		response.OKMessage(c, []models.Team{}, "No company found. Teams will be available after company setup.")
		return
	}
	teams, err := h.store.ListByCompany(c.Request.Context(), user.CompanyIDValue())
	if err != nil {
		h.logger.Error("list teams", zap.String("company_id", user.CompanyIDValue()), zap.Error(err))
		response.Internal(c, "failed to fetch teams")
		return
	}
	visible := []models.Team{}
	for _, t := range teams {
		if t.CreatedByID == user.ID.String() || memberIndex(t.Members, user) >= 0 {
			visible = append(visible, t)
		}
	}
	response.OKMessage(c, visible, "Teams fetched successfully")
}

// Update handles PUT /teams/:id. Only the creator or an admin member may edit.
// The member list is replaced; the creator is always kept as an admin.
func (h *Handler) Update(c *gin.Context) {
	user := middleware.User(c)
	var body TeamRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	name := strings.TrimSpace(body.TeamName)
	if name == "" {
		response.BadRequest(c, "Team name is required")
		return
	}
	if !user.HasCompany() {
		response.BadRequest(c, "Company not found. Please complete company setup first.")
		return
	}

	ctx := c.Request.Context()
	team, err := h.store.FindByID(ctx, c.Param("id"))
	if err != nil {
		h.logger.Error("load team", zap.String("team_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to update team")
		return
	}
	if team == nil || team.CompanyID != user.CompanyIDValue() {
		response.NotFound(c, "Team not found or you do not have permission to edit it")
		return
	}
	isAdmin := false
	if i := memberIndex(team.Members, user); i >= 0 {
		isAdmin = team.Members[i].Role == models.TeamRoleAdmin
	}
	if team.CreatedByID != user.ID.String() && !isAdmin {
		response.Forbidden(c, "You do not have permission to edit this team")
		return
	}

	creator := models.TeamMember{UserID: team.CreatedByID, Email: team.CreatedByEmail, Role: models.TeamRoleAdmin}
	for _, m := range team.Members {
		if m.Email == team.CreatedByEmail {
			creator.Name = m.Name
			creator.AddedAt = m.AddedAt
		}
	}
	creator.Name = displayName(creator.Name, creator.Email)
	members, err := cleanMembers(body.Members, creator)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	team.TeamName = name
	team.Description = strings.TrimSpace(body.Description)
	team.Members = members
	if err := h.store.Update(ctx, team); err != nil {
		h.logger.Error("update team", zap.String("team_id", team.TeamID), zap.Error(err))
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "Team not found")
			return
		}
		response.Internal(c, "failed to update team")
		return
	}
	response.OKMessage(c, team, "Team updated successfully")
}

// cleanMembers normalizes emails, drops blanks and duplicates, and makes sure creator is an admin member.
func cleanMembers(in []MemberInput, creator models.TeamMember) ([]models.TeamMember, error) {
	out := make([]models.TeamMember, 0, len(in)+1)
	seen := make(map[string]bool, len(in)+1)
	creator.Email = domains.NormalizeEmail(creator.Email)
	for _, m := range in {
		email := domains.NormalizeEmail(m.Email)
		if email == "" || seen[email] {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "" {
			role = models.TeamRoleMember
		}
		if !models.IsTeamRole(role) {
			return nil, errInvalidRole
		}
		member := models.TeamMember{
			UserID: strings.TrimSpace(m.UserID),
			Email:  email,
			Name:   displayName(m.Name, email),
			Role:   role,
		}
		if email == creator.Email {
			member.Role = models.TeamRoleAdmin
			if member.UserID == "" {
				member.UserID = creator.UserID
			}
			member.AddedAt = creator.AddedAt
		}
		seen[email] = true
		out = append(out, member)
	}
	if creator.Email != "" && !seen[creator.Email] {
		out = append([]models.TeamMember{creator}, out...)
	}
	return out, nil
}

func memberIndex(members []models.TeamMember, user *models.User) int {
	for i, m := range members {
		if m.UserID == user.ID.String() || (m.Email != "" && m.Email == user.Email) {
			return i
		}
	}
	return -1
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
