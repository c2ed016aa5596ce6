package identity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aura-helpdesk/backend/internal/models"
)

// Webhook event types.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// ErrMalformedEvent is returned for payloads without a type or user id.
var ErrMalformedEvent = errors.New("malformed identity event")

// Event is a decoded webhook delivery.
type Event struct {
	Type    string
	Profile models.IdentityProfile
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvent parses a webhook body. Deleted events carry only the external id.
func DecodeEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" || len(env.Data) == 0 {
		return nil, ErrMalformedEvent
	}
	var u User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if u.ID == "" {
		return nil, ErrMalformedEvent
	}
	return &Event{Type: env.Type, Profile: u.Profile()}, nil
}
