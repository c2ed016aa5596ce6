package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-helpdesk/backend/internal/auth"
	"github.com/aura-helpdesk/backend/pkg/response"
)

const (
	// ContextExternalID is the key for the identity provider user id in gin context.
	ContextExternalID = "external_id"
	// ContextUserEmail is the key for the session email in gin context.
	ContextUserEmail = "user_email"
	// ContextClaims is the key for the full session claims in gin context.
	ContextClaims = "session_claims"
)

// Session returns a middleware that validates the identity provider session token
// and sets the caller's identity in context.
func Session(sessions *auth.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "Unauthorized")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := sessions.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired session")
			c.Abort()
			return
		}
		c.Set(ContextExternalID, claims.Subject)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// ExternalID returns the authenticated identity provider user id, or "".
func ExternalID(c *gin.Context) string {
	return c.GetString(ContextExternalID)
}

// Claims returns the session claims set by Session, or nil.
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
