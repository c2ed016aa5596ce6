package companies

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/enrichment"
	"github.com/aura-helpdesk/backend/internal/middleware"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/pkg/database"
	"github.com/aura-helpdesk/backend/pkg/response"
)

// Finder loads companies.
type Finder interface {
	FindByID(ctx context.Context, companyID string) (*models.Company, error)
}

// Onboarding is the part of the orchestrator the company endpoints drive.
type Onboarding interface {
	CreateCompany(ctx context.Context, user *models.User, p models.CompanyProfile) (*onboarding.Result, error)
	UpdateProfile(ctx context.Context, user *models.User, p models.CompanyProfile) (*models.Company, error)
	Check(ctx context.Context, email string) (*onboarding.DomainCheck, error)
	Enrich(ctx context.Context, companyName, domain string) (*enrichment.Company, error)
}

// Handler handles company HTTP endpoints.
type Handler struct {
	companies Finder
	flow      Onboarding
	logger    *zap.Logger
}

// NewHandler creates a companies handler.
func NewHandler(companies Finder, flow Onboarding, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{companies: companies, flow: flow, logger: logger}
}

// Me handles GET /companies/me. Unaffiliated callers get data null.
func (h *Handler) Me(c *gin.Context) {
	user := middleware.User(c)
	if !user.HasCompany() {
		response.OKMessage(c, nil, "No company linked yet")
		return
	}
	company, err := h.companies.FindByID(c.Request.Context(), user.CompanyIDValue())
	if err != nil {
		h.logger.Error("load company", zap.String("company_id", user.CompanyIDValue()), zap.Error(err))
		response.Internal(c, "Failed to load company")
		return
	}
	if company == nil {
		response.OKMessage(c, nil, "Company not found")
		return
	}
	response.OK(c, company)
}

// CreateResponse is returned by POST /companies.
type CreateResponse struct {
	Company *models.Company  `json:"company"`
	User    *models.User     `json:"user"`
	State   onboarding.State `json:"state"`
	Merged  bool             `json:"merged"`
}

// Create handles POST /companies. It creates a company owned by the caller, merges the caller into the
// company already claiming their domain, or updates the caller's existing company.
func (h *Handler) Create(c *gin.Context) {
	user := middleware.User(c)
	var body models.CompanyProfile
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(body.CompanyName) == "" {
		response.BadRequest(c, "Company name is required")
		return
	}
	res, err := h.flow.CreateCompany(c.Request.Context(), user, body)
	switch {
	case errors.Is(err, onboarding.ErrCompanyNameRequired):
		response.BadRequest(c, "Company name is required")
		return
	case err != nil:
		h.logger.Error("create company", zap.String("user_id", user.ID.String()), zap.Error(err))
		response.Internal(c, "Failed to create company")
		return
	}
	out := CreateResponse{Company: res.Company, User: res.User, State: res.State, Merged: res.Merged}
	if res.State == onboarding.StateOwnerOfNewCompany {
		response.Created(c, out, "Company created successfully")
		return
	}
	response.OKMessage(c, out, "Company created/updated successfully")
}

// Update handles PATCH /companies/me. Empty fields are left unchanged.
func (h *Handler) Update(c *gin.Context) {
	user := middleware.User(c)
	var body models.CompanyProfile
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	company, err := h.flow.UpdateProfile(c.Request.Context(), user, body)
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "Company not found. Please complete company setup first.")
		return
	}
	if err != nil {
		h.logger.Error("update company", zap.String("company_id", user.CompanyIDValue()), zap.Error(err))
		response.Internal(c, "Failed to update company")
		return
	}
	response.OKMessage(c, company, "Company updated successfully")
}

type checkDomainRequest struct {
	Email string `json:"email"`
}

// CheckDomain handles GET /companies/check-domain?email= and POST /companies/check-domain.
// It changes nothing and needs no session.
func (h *Handler) CheckDomain(c *gin.Context) {
	email := c.Query("email")
	if c.Request.Method == http.MethodPost {
		var body checkDomainRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, "Email is required in request body")
			return
		}
		email = body.Email
	}
	if strings.TrimSpace(email) == "" {
		response.BadRequest(c, "Email parameter is required")
		return
	}
	out, err := h.flow.Check(c.Request.Context(), email)
	if errors.Is(err, onboarding.ErrInvalidEmail) {
		response.BadRequest(c, "Invalid email format")
		return
	}
	if err != nil {
		h.logger.Error("check domain", zap.Error(err))
		response.Internal(c, "Failed to check domain")
		return
	}
	response.OK(c, out)
}

type enrichRequest struct {
	CompanyName string `json:"companyName"`
	Domain      string `json:"domain"`
}

// Enrich handles POST /companies/enrich. Lookup failures answer success with data null so the
// setup form stays usable.
func (h *Handler) Enrich(c *gin.Context) {
	var body enrichRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(body.CompanyName) == "" && strings.TrimSpace(body.Domain) == "" {
		response.BadRequest(c, "Company name or domain is required")
		return
	}
	found, err := h.flow.Enrich(c.Request.Context(), body.CompanyName, body.Domain)
	switch {
	case errors.Is(err, enrichment.ErrDisabled):
		response.OKMessage(c, nil, "Company lookup is not configured")
		return
	case err != nil:
		h.logger.Warn("company enrichment failed", zap.String("company_name", body.CompanyName), zap.Error(err))
		response.OKMessage(c, nil, "Company details could not be fetched")
		return
	}
	response.OKMessage(c, found, "Company data fetched successfully")
}
