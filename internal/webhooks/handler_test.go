package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-helpdesk/backend/internal/memstore"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
)

type mxAlways bool

func (m mxAlways) HasMailExchanger(ctx context.Context, domain string) bool { return bool(m) }

type failingSyncer struct{}

func (failingSyncer) Sync(ctx context.Context, p models.IdentityProfile) (*onboarding.Result, error) {
	return &onboarding.Result{}, onboarding.ErrAffiliation
}

type recordingQueue struct {
	ids []string
	err error
}

func (q *recordingQueue) EnqueueAffiliation(ctx context.Context, externalID, reason string) error {
	q.ids = append(q.ids, externalID)
	return q.err
}

func event(typ, data string) string {
	return `{"type":"` + typ + `","data":` + data + `}`
}

const bobData = `{"id":"user_bob","email_addresses":[{"id":"e1","email_address":"bob@acme.com","verification":{"status":"verified"}}],"primary_email_address_id":"e1","first_name":"Bob"}`

func post(t *testing.T, h *Handler, secret, body string) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/identity", h.Identity)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func newHandler(t *testing.T, s *memstore.Store, retries RetryQueue) *Handler {
	t.Helper()
	orch := onboarding.New(s.Companies(), s.Users(), mxAlways(true), onboarding.Options{RequireVerifiedEmail: true}, nil)
	return NewHandler(NewSharedSecretVerifier("whsec"), orch, s.Users(), retries, nil)
}

func TestVerification(t *testing.T) {
	s := memstore.New()
	h := newHandler(t, s, nil)

	code, _ := post(t, h, "", event("user.created", bobData))
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = post(t, h, "wrong", event("user.created", bobData))
	assert.Equal(t, http.StatusUnauthorized, code)

	unconfigured := NewHandler(NewSharedSecretVerifier(""), nil, nil, nil, nil)
	code, _ = post(t, unconfigured, "anything", event("user.created", bobData))
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Companies().Create(ctx, &models.Company{CompanyID: "COMP-1", CompanyName: "Acme", Domain: "acme.com"}, models.CompanyMember{Email: "owner@acme.com"}))
	h := newHandler(t, s, nil)

	code, out := post(t, h, "whsec", event("user.created", bobData))
	require.Equal(t, http.StatusOK, code, out)
	data := out["data"].(map[string]any)
	assert.Equal(t, string(onboarding.StateAutoJoined), data["state"])
	assert.Equal(t, "COMP-1", data["companyId"])

	// Redelivery changes nothing.
	code, _ = post(t, h, "whsec", event("user.created", bobData))
	require.Equal(t, http.StatusOK, code)
	company, err := s.Companies().FindByID(ctx, "COMP-1")
	require.NoError(t, err)
	assert.Len(t, company.Members, 2)

	code, _ = post(t, h, "whsec", event("user.updated", strings.Replace(bobData, `"Bob"`, `"Robert"`, 1)))
	require.Equal(t, http.StatusOK, code)
	user, err := s.Users().FindByExternalID(ctx, "user_bob")
	require.NoError(t, err)
	assert.Equal(t, "Robert", user.FirstName)

	code, out = post(t, h, "whsec", event("user.deleted", `{"id":"user_bob","deleted":true}`))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["data"].(map[string]any)["deleted"])
	user, err = s.Users().FindByExternalID(ctx, "user_bob")
	require.NoError(t, err)
	assert.Nil(t, user)

	code, out = post(t, h, "whsec", event("user.deleted", `{"id":"user_bob","deleted":true}`))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["data"].(map[string]any)["deleted"])
}

func TestBadPayloads(t *testing.T) {
	h := newHandler(t, memstore.New(), nil)

	code, _ := post(t, h, "whsec", `{"type":"user.created"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = post(t, h, "whsec", event("user.created", `{"id":"user_x","email_addresses":[]}`))
	assert.Equal(t, http.StatusBadRequest, code)
	code, out := post(t, h, "whsec", event("session.created", `{"id":"sess_1"}`))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Event ignored", out["message"])
}

func TestAffiliationFailureIsQueued(t *testing.T) {
	q := &recordingQueue{}
	h := NewHandler(NewSharedSecretVerifier("whsec"), failingSyncer{}, nil, q, nil)
	code, _ := post(t, h, "whsec", event("user.created", bobData))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"user_bob"}, q.ids)

	q.err = errors.New("redis down")
	code, _ = post(t, h, "whsec", event("user.created", bobData))
	assert.Equal(t, http.StatusInternalServerError, code)

	noQueue := NewHandler(NewSharedSecretVerifier("whsec"), failingSyncer{}, nil, nil, nil)
	code, _ = post(t, noQueue, "whsec", event("user.created", bobData))
	assert.Equal(t, http.StatusInternalServerError, code)
}
