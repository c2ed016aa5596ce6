// Package webhooks receives identity provider events and keeps local users in step with them.
package webhooks

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/identity"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/pkg/response"
)

// SecretHeader carries the shared secret checked by SharedSecretVerifier.
const SecretHeader = "X-Webhook-Secret"

const maxBodyBytes = 1 << 20

var (
	// ErrNotConfigured means no webhook secret is set, so no delivery can be trusted.
	ErrNotConfigured = errors.New("webhook secret not configured")
	// ErrBadSignature means the delivery failed verification.
	ErrBadSignature = errors.New("webhook verification failed")
)

// Verifier authenticates a webhook delivery.
type Verifier interface {
	Verify(header http.Header, body []byte) error
}

// SharedSecretVerifier compares a header against a configured secret.
type SharedSecretVerifier struct {
	secret []byte
}

// NewSharedSecretVerifier creates a verifier for secret.
func NewSharedSecretVerifier(secret string) *SharedSecretVerifier {
	return &SharedSecretVerifier{secret: []byte(secret)}
}

// Verify implements Verifier.
func (v *SharedSecretVerifier) Verify(header http.Header, body []byte) error {
	if len(v.secret) == 0 {
		return ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(header.Get(SecretHeader)), v.secret) != 1 {
		return ErrBadSignature
	}
	return nil
}

// Syncer applies an identity profile.
type Syncer interface {
	Sync(ctx context.Context, p models.IdentityProfile) (*onboarding.Result, error)
}

// UserDeleter removes local users.
type UserDeleter interface {
	DeleteByExternalID(ctx context.Context, externalID string) (bool, error)
}

// RetryQueue schedules a later affiliation attempt.
type RetryQueue interface {
	EnqueueAffiliation(ctx context.Context, externalID, reason string) error
}

// Handler handles POST /webhooks/identity.
type Handler struct {
	verifier Verifier
	syncer   Syncer
	users    UserDeleter
	retries  RetryQueue
	logger   *zap.Logger
}

// NewHandler creates a webhook handler. retries may be nil; failed affiliations then answer 500
// so the provider redelivers.
func NewHandler(verifier Verifier, syncer Syncer, users UserDeleter, retries RetryQueue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{verifier: verifier, syncer: syncer, users: users, retries: retries, logger: logger}
}

// Identity handles one delivery. Replays of the same event are harmless.
func (h *Handler) Identity(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		response.BadRequest(c, "could not read body")
		return
	}
	if err := h.verifier.Verify(c.Request.Header, body); err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err))
		if errors.Is(err, ErrNotConfigured) {
			response.ServiceUnavailable(c, "webhook not configured")
			return
		}
		response.Unauthorized(c, "invalid webhook signature")
		return
	}
	ev, err := identity.DecodeEvent(body)
	if err != nil {
		response.BadRequest(c, "invalid event payload")
		return
	}

	ctx := c.Request.Context()
	switch ev.Type {
	case identity.EventUserCreated, identity.EventUserUpdated:
		res, err := h.syncer.Sync(ctx, ev.Profile)
		switch {
		case errors.Is(err, onboarding.ErrInvalidProfile):
			response.BadRequest(c, "event has no email address")
			return
		case errors.Is(err, onboarding.ErrAffiliation) && h.retries != nil:
			qErr := h.retries.EnqueueAffiliation(ctx, ev.Profile.ExternalID, ev.Type)
			if qErr == nil {
				response.OKMessage(c, gin.H{"externalId": ev.Profile.ExternalID}, "User synced, affiliation scheduled for retry")
				return
			}
			h.logger.Error("enqueue affiliation retry", zap.String("external_id", ev.Profile.ExternalID), zap.Error(qErr))
			response.Internal(c, "failed to process event")
			return
		case err != nil:
			h.logger.Error("webhook sync failed", zap.String("type", ev.Type), zap.String("external_id", ev.Profile.ExternalID), zap.Error(err))
			response.Internal(c, "failed to process event")
			return
		}
		h.logger.Info("webhook user synced", zap.String("type", ev.Type), zap.String("external_id", ev.Profile.ExternalID), zap.String("state", string(res.State)))
		response.OKMessage(c, gin.H{"externalId": ev.Profile.ExternalID, "state": res.State, "companyId": res.CompanyID()}, "User synced")
	case identity.EventUserDeleted:
		deleted, err := h.users.DeleteByExternalID(ctx, ev.Profile.ExternalID)
		if err != nil {
			h.logger.Error("webhook delete failed", zap.String("external_id", ev.Profile.ExternalID), zap.Error(err))
			response.Internal(c, "failed to process event")
			return
		}
		response.OKMessage(c, gin.H{"externalId": ev.Profile.ExternalID, "deleted": deleted}, "User deleted")
	default:
		response.OKMessage(c, nil, "Event ignored")
	}
}
