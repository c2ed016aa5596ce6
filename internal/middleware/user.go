package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/pkg/response"
)

// ContextUser is the key for the local user record in gin context.
const ContextUser = "user"

// UserFinder loads the local user for a session.
type UserFinder interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.User, error)
}

// RequireUser loads the synced user for the session. Must run after Session.
// Callers that have not synced yet get 404.
func RequireUser(users UserFinder, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		externalID := ExternalID(c)
		if externalID == "" {
			response.Unauthorized(c, "Unauthorized")
			c.Abort()
			return
		}
		user, err := users.FindByExternalID(c.Request.Context(), externalID)
		if err != nil {
			logger.Error("load session user", zap.String("external_id", externalID), zap.Error(err))
			response.Internal(c, "failed to load user")
			c.Abort()
			return
		}
		if user == nil {
			response.NotFound(c, "User not found. Please sync your account first.")
			c.Abort()
			return
		}
		c.Set(ContextUser, user)
		c.Next()
	}
}

// User returns the user set by RequireUser.
func User(c *gin.Context) *models.User {
	return c.MustGet(ContextUser).(*models.User)
}
