package users

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/identity"
	"github.com/aura-helpdesk/backend/internal/middleware"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/pkg/database"
	"github.com/aura-helpdesk/backend/pkg/response"
)

// Syncer runs the onboarding workflow for a profile.
type Syncer interface {
	Sync(ctx context.Context, p models.IdentityProfile) (*onboarding.Result, error)
}

// ProfileSource fetches the authoritative profile from the identity provider.
type ProfileSource interface {
	Enabled() bool
	CurrentUser(ctx context.Context, externalID string) (models.IdentityProfile, error)
}

// FlagStore records onboarding progress.
type FlagStore interface {
	UpdateOnboardingFlags(ctx context.Context, userID uuid.UUID, completed, skipped *bool) (*models.User, error)
}

// RetryQueue schedules a later affiliation attempt.
type RetryQueue interface {
	EnqueueAffiliation(ctx context.Context, externalID, reason string) error
}

// Handler handles user HTTP endpoints.
type Handler struct {
	syncer   Syncer
	profiles ProfileSource
	flags    FlagStore
	retries  RetryQueue
	logger   *zap.Logger
}

// NewHandler creates a users handler. profiles and retries may be nil.
func NewHandler(syncer Syncer, profiles ProfileSource, flags FlagStore, retries RetryQueue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{syncer: syncer, profiles: profiles, flags: flags, retries: retries, logger: logger}
}

// SyncResponse is returned by POST /users/sync.
type SyncResponse struct {
	User      *models.User     `json:"user"`
	CompanyID *string          `json:"companyId"`
	State     onboarding.State `json:"state"`
}

// Sync handles POST /users/sync. Safe to call on every sign-in.
func (h *Handler) Sync(c *gin.Context) {
	externalID := middleware.ExternalID(c)
	if externalID == "" {
		response.Unauthorized(c, "Unauthorized")
		return
	}
	ctx := c.Request.Context()
	profile, ok := h.profile(c, externalID)
	if !ok {
		return
	}

	res, err := h.syncer.Sync(ctx, profile)
	switch {
	case errors.Is(err, onboarding.ErrInvalidProfile):
		response.BadRequest(c, "No email address found for user")
		return
	case database.IsDuplicateKey(err):
		response.Conflict(c, "Email address is already linked to another account")
		return
	case errors.Is(err, onboarding.ErrAffiliation):
		// The profile is saved; only the company step is redone later.
		if h.retries != nil {
			if qErr := h.retries.EnqueueAffiliation(ctx, externalID, "sync"); qErr != nil {
				h.logger.Error("enqueue affiliation retry", zap.String("external_id", externalID), zap.Error(qErr))
			}
		}
		response.Internal(c, "Failed to complete company setup, please retry")
		return
	case err != nil:
		h.logger.Error("user sync failed", zap.String("external_id", externalID), zap.Error(err))
		response.Internal(c, "Failed to sync user")
		return
	}

	h.logger.Info("user synced",
		zap.String("external_id", externalID),
		zap.String("state", string(res.State)),
		zap.Bool("created", res.UserCreated),
	)
	response.OKMessage(c, SyncResponse{User: res.User, CompanyID: res.CompanyID(), State: res.State}, "User synced successfully")
}

// profile prefers the identity provider's view and falls back to the session claims.
func (h *Handler) profile(c *gin.Context, externalID string) (models.IdentityProfile, bool) {
	claims := middleware.Claims(c)
	if h.profiles != nil && h.profiles.Enabled() {
		p, err := h.profiles.CurrentUser(c.Request.Context(), externalID)
		switch {
		case err == nil:
			return p, true
		case errors.Is(err, identity.ErrUserNotFound):
			response.NotFound(c, "User not found in identity provider")
			return models.IdentityProfile{}, false
		case claims == nil || claims.Email == "":
			h.logger.Error("fetch identity profile", zap.String("external_id", externalID), zap.Error(err))
			response.Internal(c, "Failed to load user profile")
			return models.IdentityProfile{}, false
		}
		h.logger.Warn("identity api unavailable, using session claims", zap.String("external_id", externalID), zap.Error(err))
	}
	if claims == nil {
		return models.IdentityProfile{ExternalID: externalID}, true
	}
	p := claims.Profile()
	p.ExternalID = externalID
	return p, true
}

// OnboardingRequest is the body for POST /users/onboarding.
type OnboardingRequest struct {
	Completed *bool `json:"onboardingCompleted"`
	Skipped   *bool `json:"onboardingSkipped"`
}

// Onboarding handles POST /users/onboarding.
func (h *Handler) Onboarding(c *gin.Context) {
	user := middleware.User(c)
	var body OnboardingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if body.Completed == nil && body.Skipped == nil {
		response.BadRequest(c, "onboardingCompleted or onboardingSkipped is required")
		return
	}
	updated, err := h.flags.UpdateOnboardingFlags(c.Request.Context(), user.ID, body.Completed, body.Skipped)
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "User not found")
		return
	}
	if err != nil {
		h.logger.Error("update onboarding flags", zap.String("user_id", user.ID.String()), zap.Error(err))
		response.Internal(c, "Failed to update onboarding status")
		return
	}
	response.OKMessage(c, updated, "Onboarding status updated")
}

// Me handles GET /users/me.
func (h *Handler) Me(c *gin.Context) {
	response.OK(c, middleware.User(c))
}
