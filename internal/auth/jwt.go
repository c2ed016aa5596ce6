package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-helpdesk/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the identity provider session claims. Subject is the provider user id.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	jwt.RegisteredClaims
}

// Profile converts the claims into an identity profile.
func (c *Claims) Profile() models.IdentityProfile {
	return models.IdentityProfile{
		ExternalID:    c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		ImageURL:      c.ImageURL,
	}
}

// SessionService verifies session tokens and can mint them for tooling and tests.
type SessionService struct {
	secret []byte
	issuer string
}

// NewSessionService creates a session service. An empty issuer accepts any issuer.
func NewSessionService(secret, issuer string) *SessionService {
	return &SessionService{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Generate signs a session token for the identity.
func (s *SessionService) Generate(p models.IdentityProfile, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		ImageURL:      p.ImageURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ExternalID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a session token, returning claims or ErrInvalidToken.
func (s *SessionService) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
