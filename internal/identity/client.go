// Package identity talks to the hosted identity provider: it fetches user profiles
// from the backend API and decodes webhook events.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/models"
)

var (
	// ErrNotConfigured is returned when no secret key is set.
	ErrNotConfigured = errors.New("identity provider not configured")
	// ErrUserNotFound is returned when the provider has no such user.
	ErrUserNotFound = errors.New("identity user not found")
)

// Config configures a Client.
type Config struct {
	APIURL    string
	SecretKey string
	Timeout   time.Duration
}

// EmailAddress is one address on a provider user.
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Verification *struct {
		Status string `json:"status"`
	} `json:"verification"`
}

// Verified reports whether the provider verified the address.
func (e EmailAddress) Verified() bool {
	return e.Verification != nil && e.Verification.Status == "verified"
}

// User is the provider's user object.
type User struct {
	ID                    string         `json:"id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	ImageURL              string         `json:"image_url"`
}

// Profile converts the user, preferring the primary email address and falling back to the first one.
func (u User) Profile() models.IdentityProfile {
	p := models.IdentityProfile{
		ExternalID: u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		ImageURL:   u.ImageURL,
	}
	var chosen *EmailAddress
	for i := range u.EmailAddresses {
		if u.EmailAddresses[i].ID != "" && u.EmailAddresses[i].ID == u.PrimaryEmailAddressID {
			chosen = &u.EmailAddresses[i]
			break
		}
	}
	if chosen == nil && len(u.EmailAddresses) > 0 {
		chosen = &u.EmailAddresses[0]
	}
	if chosen != nil {
		p.Email = chosen.EmailAddress
		p.EmailVerified = chosen.Verified()
	}
	return p
}

// Client calls the provider backend API.
type Client struct {
	apiURL    string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.clerk.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// Enabled reports whether a secret key is configured.
func (c *Client) Enabled() bool { return c != nil && c.secretKey != "" }

// CurrentUser fetches the provider profile of externalID.
func (c *Client) CurrentUser(ctx context.Context, externalID string) (models.IdentityProfile, error) {
	if !c.Enabled() {
		return models.IdentityProfile{}, ErrNotConfigured
	}
	endpoint := c.apiURL + "/v1/users/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.IdentityProfile{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.IdentityProfile{}, fmt.Errorf("fetch identity user: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.IdentityProfile{}, fmt.Errorf("read identity user: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.IdentityProfile{}, ErrUserNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Warn("identity api error", zap.Int("status", resp.StatusCode), zap.String("external_id", externalID))
		return models.IdentityProfile{}, fmt.Errorf("identity api: status %d", resp.StatusCode)
	}
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return models.IdentityProfile{}, fmt.Errorf("decode identity user: %w", err)
	}
	return u.Profile(), nil
}
