package companies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-helpdesk/backend/internal/enrichment"
	"github.com/aura-helpdesk/backend/internal/memstore"
	"github.com/aura-helpdesk/backend/internal/middleware"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type fixedMX bool

func (m fixedMX) HasMailExchanger(ctx context.Context, domain string) bool { return bool(m) }

type stubEnricher struct {
	found *enrichment.Company
	err   error
}

func (s stubEnricher) Enrich(ctx context.Context, companyName, domain string) (*enrichment.Company, error) {
	return s.found, s.err
}

type testEnv struct {
	store   *memstore.Store
	handler *Handler
	router  *gin.Engine
	user    *models.User
}

func newTestEnv(t *testing.T, enricher onboarding.Enricher) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := memstore.New()
	orch := onboarding.New(s.Companies(), s.Users(), fixedMX(true), onboarding.Options{RequireVerifiedEmail: true, Enricher: enricher}, nil)
	user, _, err := s.Users().UpsertFromIdentity(context.Background(), models.IdentityProfile{ExternalID: "user_ada", Email: "ada@acme.com", EmailVerified: true})
	require.NoError(t, err)

	e := &testEnv{store: s, handler: NewHandler(s.Companies(), orch, nil), user: user}
	withUser := func(c *gin.Context) { c.Set(middleware.ContextUser, e.user) }
	r := gin.New()
	r.GET("/companies/me", withUser, e.handler.Me)
	r.PATCH("/companies/me", withUser, e.handler.Update)
	r.POST("/companies", withUser, e.handler.Create)
	r.GET("/companies/check-domain", e.handler.CheckDomain)
	r.POST("/companies/check-domain", e.handler.CheckDomain)
	r.POST("/companies/enrich", withUser, e.handler.Enrich)
	e.router = r
	return e
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestMeWithoutCompany(t *testing.T) {
	e := newTestEnv(t, nil)
	code, env := e.do(t, http.MethodGet, "/companies/me", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "null", string(env.Data))
	assert.Equal(t, "No company linked yet", env.Message)
}

func TestCreateThenMe(t *testing.T) {
	e := newTestEnv(t, nil)
	code, env := e.do(t, http.MethodPost, "/companies", models.CompanyProfile{CompanyName: " Acme ", Industry: "Retail"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var out CreateResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, onboarding.StateOwnerOfNewCompany, out.State)
	assert.Equal(t, "Acme", out.Company.CompanyName)
	assert.Equal(t, "acme.com", out.Company.Domain)
	require.True(t, out.User.HasCompany())

	e.user = out.User
	code, env = e.do(t, http.MethodGet, "/companies/me", nil)
	require.Equal(t, http.StatusOK, code)
	var company models.Company
	require.NoError(t, json.Unmarshal(env.Data, &company))
	assert.Equal(t, out.Company.CompanyID, company.CompanyID)
	require.Len(t, company.Members, 1)
	assert.Equal(t, models.CompanyRoleOwner, company.Members[0].Role)

	// A second create updates the same company.
	code, env = e.do(t, http.MethodPost, "/companies", models.CompanyProfile{CompanyName: "Acme Corp"})
	require.Equal(t, http.StatusOK, code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, company.CompanyID, out.Company.CompanyID)
	assert.Equal(t, "Acme Corp", out.Company.CompanyName)
	assert.Equal(t, "Retail", out.Company.Industry)
}

func TestCreateMergesIntoDomainOwner(t *testing.T) {
	e := newTestEnv(t, nil)
	require.NoError(t, e.store.Companies().Create(context.Background(),
		&models.Company{CompanyID: "COMP-1", CompanyName: "Acme", Domain: "acme.com"},
		models.CompanyMember{Email: "boss@acme.com"}))

	code, env := e.do(t, http.MethodPost, "/companies", models.CompanyProfile{CompanyName: "Acme Again", Website: "acme.com"})
	require.Equal(t, http.StatusOK, code, env.Error)
	var out CreateResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, out.Merged)
	assert.Equal(t, "COMP-1", out.Company.CompanyID)
	assert.Equal(t, "Acme", out.Company.CompanyName)
	assert.Equal(t, "acme.com", out.Company.Website)
}

func TestCreateRequiresName(t *testing.T) {
	e := newTestEnv(t, nil)
	code, env := e.do(t, http.MethodPost, "/companies", models.CompanyProfile{CompanyName: "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Company name is required", env.Error)
}

func TestUpdate(t *testing.T) {
	e := newTestEnv(t, nil)
	code, _ := e.do(t, http.MethodPatch, "/companies/me", models.CompanyProfile{Industry: "Retail"})
	assert.Equal(t, http.StatusNotFound, code)

	_, env := e.do(t, http.MethodPost, "/companies", models.CompanyProfile{CompanyName: "Acme", Address: "1 Main St"})
	var out CreateResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	e.user = out.User

	code, env = e.do(t, http.MethodPatch, "/companies/me", models.CompanyProfile{Industry: "Retail"})
	require.Equal(t, http.StatusOK, code, env.Error)
	var company models.Company
	require.NoError(t, json.Unmarshal(env.Data, &company))
	assert.Equal(t, "Retail", company.Industry)
	assert.Equal(t, "1 Main St", company.Address)
	assert.Equal(t, "Acme", company.CompanyName)
}

func TestCheckDomain(t *testing.T) {
	e := newTestEnv(t, nil)
	require.NoError(t, e.store.Companies().Create(context.Background(),
		&models.Company{CompanyID: "COMP-1", CompanyName: "Acme", Domain: "acme.com"},
		models.CompanyMember{Email: "boss@acme.com"}))

	code, env := e.do(t, http.MethodGet, "/companies/check-domain?email=new@ACME.com", nil)
	require.Equal(t, http.StatusOK, code)
	var check onboarding.DomainCheck
	require.NoError(t, json.Unmarshal(env.Data, &check))
	assert.Equal(t, "acme.com", check.Domain)
	assert.True(t, check.MXValid)
	assert.True(t, check.ShouldAutoAssociate)
	require.NotNil(t, check.ExistingCompany)
	assert.Equal(t, "COMP-1", check.ExistingCompany.CompanyID)

	code, env = e.do(t, http.MethodPost, "/companies/check-domain", map[string]string{"email": "x@other.org"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &check))
	assert.False(t, check.ShouldAutoAssociate)
	assert.Nil(t, check.ExistingCompany)

	code, _ = e.do(t, http.MethodGet, "/companies/check-domain", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = e.do(t, http.MethodGet, "/companies/check-domain?email=not-an-email", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid email format", env.Error)
}

func TestEnrich(t *testing.T) {
	e := newTestEnv(t, stubEnricher{found: &enrichment.Company{CompanyName: "Acme", Industry: "Retail"}})
	code, env := e.do(t, http.MethodPost, "/companies/enrich", enrichRequest{CompanyName: "Acme"})
	require.Equal(t, http.StatusOK, code)
	var found enrichment.Company
	require.NoError(t, json.Unmarshal(env.Data, &found))
	assert.Equal(t, "Retail", found.Industry)

	code, _ = e.do(t, http.MethodPost, "/companies/enrich", enrichRequest{})
	assert.Equal(t, http.StatusBadRequest, code)

	failing := newTestEnv(t, stubEnricher{err: errors.New("quota exceeded")})
	code, env = failing.do(t, http.MethodPost, "/companies/enrich", enrichRequest{Domain: "acme.com"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "null", string(env.Data))

	disabled := newTestEnv(t, nil)
	code, env = disabled.do(t, http.MethodPost, "/companies/enrich", enrichRequest{Domain: "acme.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "null", string(env.Data))
}
