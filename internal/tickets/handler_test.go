package tickets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-helpdesk/backend/internal/memstore"
	"github.com/aura-helpdesk/backend/internal/middleware"
	"github.com/aura-helpdesk/backend/internal/models"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) PresignUpload(ctx context.Context, key, contentType string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	f.keys = append(f.keys, key)
	return "https://bucket.example/" + key + "?sig=1", time.Now().Add(15 * time.Minute), nil
}

func (f *fakeUploader) PresignDownload(ctx context.Context, key string) (string, error) {
	return "https://bucket.example/" + key + "?get=1", nil
}

type testEnv struct {
	store     *memstore.Store
	uploader  *fakeUploader
	handler   *Handler
	raiser    *models.User
	agent     *models.User
	bystander *models.User
	stranger  *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.Companies().Create(ctx, &models.Company{CompanyID: "COMP-1", CompanyName: "Acme"}, models.CompanyMember{Email: "owner@acme.com"}))
	require.NoError(t, s.Companies().Create(ctx, &models.Company{CompanyID: "COMP-2", CompanyName: "Globex"}, models.CompanyMember{Email: "hank@globex.io"}))

	acme, globex := "COMP-1", "COMP-2"
	e := &testEnv{
		store:     s,
		uploader:  &fakeUploader{},
		raiser:    &models.User{ID: uuid.New(), Email: "alice@acme.com", Name: "Alice", CompanyID: &acme, CompanyName: "Acme"},
		agent:     &models.User{ID: uuid.New(), Email: "agent@acme.com", CompanyID: &acme, CompanyName: "Acme"},
		bystander: &models.User{ID: uuid.New(), Email: "bob@acme.com", CompanyID: &acme, CompanyName: "Acme"},
		stranger:  &models.User{ID: uuid.New(), Email: "eve@globex.io", CompanyID: &globex, CompanyName: "Globex"},
	}
	require.NoError(t, s.Teams().Create(ctx, &models.Team{
		TeamID: "TEAM-1", CompanyID: "COMP-1", TeamName: "IT Support", CreatedByID: "someone-else",
		Members: []models.TeamMember{
			{Email: "agent@acme.com", Role: models.TeamRoleAgent},
			{Email: "bob@acme.com", Role: models.TeamRoleMember},
		},
	}))
	require.NoError(t, s.Teams().Create(ctx, &models.Team{TeamID: "TEAM-G", CompanyID: "COMP-2", TeamName: "Globex IT"}))
	e.handler = NewHandler(s.Tickets(), s.Teams(), e.uploader, nil)
	return e
}

func (e *testEnv) do(t *testing.T, as *models.User, method, path string, body any) (int, envelope) {
	t.Helper()
	r := gin.New()
	withUser := func(c *gin.Context) { c.Set(middleware.ContextUser, as) }
	r.POST("/tickets", withUser, e.handler.Create)
	r.GET("/tickets", withUser, e.handler.List)
	r.GET("/tickets/:id", withUser, e.handler.Get)
	r.PATCH("/tickets/:id", withUser, e.handler.Update)
	r.POST("/tickets/:id/attachments", withUser, e.handler.CreateAttachment)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (e *testEnv) createTicket(t *testing.T, req CreateTicketRequest) models.Ticket {
	t.Helper()
	code, env := e.do(t, e.raiser, http.MethodPost, "/tickets", req)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var ticket models.Ticket
	require.NoError(t, json.Unmarshal(env.Data, &ticket))
	return ticket
}

func ptr(s string) *string { return &s }

func TestCreateTicket(t *testing.T) {
	e := newTestEnv(t)
	long := strings.Repeat("printer on fire ", 10)
	ticket := e.createTicket(t, CreateTicketRequest{Email: " Alice@ACME.com ", Message: long, TeamID: "TEAM-1"})

	assert.Regexp(t, `^TKT-\d{8}-[0-9A-Z]{10}$`, ticket.TicketID)
	assert.Equal(t, models.PriorityMedium, ticket.Priority)
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "IT Support", ticket.TeamName)
	assert.Equal(t, "Acme", ticket.CompanyName)
	assert.Equal(t, "alice@acme.com", ticket.RaisedBy.Email)
	assert.Equal(t, "Alice", ticket.RaisedBy.Name)
	assert.Len(t, []rune(ticket.Subject), maxSubjectLen)
	require.Len(t, ticket.ActivityLog, 1)
	assert.Equal(t, models.ActivityCreated, ticket.ActivityLog[0].Action)
	assert.Equal(t, "Ticket created with priority: medium", ticket.ActivityLog[0].Details)
}

func TestCreateTicketValidation(t *testing.T) {
	e := newTestEnv(t)
	cases := []struct {
		name string
		as   *models.User
		req  CreateTicketRequest
		code int
	}{
		{"missing email", e.raiser, CreateTicketRequest{Message: "m", TeamID: "TEAM-1"}, http.StatusBadRequest},
		{"missing message", e.raiser, CreateTicketRequest{Email: "a@acme.com", Message: " ", TeamID: "TEAM-1"}, http.StatusBadRequest},
		{"missing team", e.raiser, CreateTicketRequest{Email: "a@acme.com", Message: "m"}, http.StatusBadRequest},
		{"bad priority", e.raiser, CreateTicketRequest{Email: "a@acme.com", Message: "m", TeamID: "TEAM-1", Priority: "urgent"}, http.StatusBadRequest},
		{"no company", &models.User{ID: uuid.New(), Email: "x@y.z"}, CreateTicketRequest{Email: "x@y.z", Message: "m", TeamID: "TEAM-1"}, http.StatusBadRequest},
		{"unknown team", e.raiser, CreateTicketRequest{Email: "a@acme.com", Message: "m", TeamID: "TEAM-404"}, http.StatusNotFound},
		{"other company's team", e.raiser, CreateTicketRequest{Email: "a@acme.com", Message: "m", TeamID: "TEAM-G"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := e.do(t, tc.as, http.MethodPost, "/tickets", tc.req)
			assert.Equal(t, tc.code, code)
			assert.False(t, env.Success)
		})
	}
}

func TestListTickets(t *testing.T) {
	e := newTestEnv(t)
	e.createTicket(t, CreateTicketRequest{Email: "alice@acme.com", Message: "vpn down", TeamID: "TEAM-1", Priority: "high"})
	e.createTicket(t, CreateTicketRequest{Email: "alice@acme.com", Message: "new mouse", TeamID: "TEAM-1", Priority: "low"})

	var list []models.Ticket
	_, env := e.do(t, e.bystander, http.MethodGet, "/tickets", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 2)

	_, env = e.do(t, e.bystander, http.MethodGet, "/tickets?priority=high", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "vpn down", list[0].Message)

	_, env = e.do(t, e.bystander, http.MethodGet, "/tickets?priority=bogus", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 2)

	_, env = e.do(t, e.stranger, http.MethodGet, "/tickets", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list)

	code, env := e.do(t, &models.User{ID: uuid.New(), Email: "new@user.io"}, http.MethodGet, "/tickets", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))
	assert.Contains(t, env.Message, "No company found")
}

func TestUpdateTicketActivity(t *testing.T) {
	e := newTestEnv(t)
	ticket := e.createTicket(t, CreateTicketRequest{Email: "alice@acme.com", Message: "laptop broken", TeamID: "TEAM-1"})
	path := "/tickets/" + ticket.TicketID

	code, _ := e.do(t, e.bystander, http.MethodPatch, path, UpdateTicketRequest{Status: ptr("closed")})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = e.do(t, e.stranger, http.MethodPatch, path, UpdateTicketRequest{Status: ptr("closed")})
	assert.Equal(t, http.StatusNotFound, code)

	code, env := e.do(t, e.agent, http.MethodPatch, path, UpdateTicketRequest{
		Status:     ptr("in_progress"),
		Priority:   ptr("HIGH"),
		AssignedTo: ptr("Agent@acme.com"),
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	var got models.Ticket
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.TicketStatusInProgress, got.Status)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.Equal(t, "agent@acme.com", got.AssignedTo)
	actions := func(tk models.Ticket) []string {
		var out []string
		for _, a := range tk.ActivityLog {
			out = append(out, a.Action)
		}
		return out
	}
	assert.Equal(t, []string{"created", "priority_changed", "assigned", "status_changed"}, actions(got))

	code, env = e.do(t, e.agent, http.MethodPatch, path, UpdateTicketRequest{Status: ptr("resolved"), ResolutionNotes: ptr("replaced battery")})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "replaced battery", got.ResolutionNotes)

	code, env = e.do(t, e.raiser, http.MethodPatch, path, UpdateTicketRequest{Status: ptr("open")})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Nil(t, got.ResolvedAt)
	assert.Equal(t, []string{"created", "priority_changed", "assigned", "status_changed", "resolved", "updated", "reopened"}, actions(got))

	code, env = e.do(t, e.raiser, http.MethodPatch, path, UpdateTicketRequest{Status: ptr("open")})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "No changes", env.Message)

	code, _ = e.do(t, e.agent, http.MethodPatch, path, UpdateTicketRequest{AssignedTo: ptr("outsider@acme.com")})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, e.agent, http.MethodPatch, path, UpdateTicketRequest{Status: ptr("pending")})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAttachments(t *testing.T) {
	e := newTestEnv(t)
	ticket := e.createTicket(t, CreateTicketRequest{Email: "alice@acme.com", Message: "see log", TeamID: "TEAM-1"})
	path := "/tickets/" + ticket.TicketID + "/attachments"

	code, env := e.do(t, e.raiser, http.MethodPost, path, AttachmentRequest{FileName: "boot log.txt", ContentType: "text/plain", Size: 1024})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var out struct {
		Attachment models.TicketAttachment `json:"attachment"`
		UploadURL  string                  `json:"uploadUrl"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, strings.HasPrefix(out.Attachment.ObjectKey, "attachments/"+ticket.TicketID+"/"))
	assert.True(t, strings.HasSuffix(out.Attachment.ObjectKey, "-boot_log.txt"))
	assert.Contains(t, out.UploadURL, out.Attachment.ObjectKey)

	code, _ = e.do(t, e.raiser, http.MethodPost, path, AttachmentRequest{FileName: "x.exe", ContentType: "application/x-msdownload"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, e.raiser, http.MethodPost, path, AttachmentRequest{FileName: "big.zip", ContentType: "application/zip", Size: 1 << 30})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, e.stranger, http.MethodPost, path, AttachmentRequest{FileName: "a.txt", ContentType: "text/plain"})
	assert.Equal(t, http.StatusNotFound, code)

	e.uploader.err = errors.New("no credentials")
	code, _ = e.do(t, e.raiser, http.MethodPost, path, AttachmentRequest{FileName: "a.txt", ContentType: "text/plain"})
	assert.Equal(t, http.StatusInternalServerError, code)

	code, env = e.do(t, e.bystander, http.MethodGet, "/tickets/"+ticket.TicketID, nil)
	require.Equal(t, http.StatusOK, code)
	var detail struct {
		TicketID    string `json:"ticketId"`
		Attachments []struct {
			FileName    string `json:"fileName"`
			DownloadURL string `json:"downloadUrl"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, ticket.TicketID, detail.TicketID)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "boot log.txt", detail.Attachments[0].FileName)
	assert.Contains(t, detail.Attachments[0].DownloadURL, "?get=1")
}

func TestAttachmentsDisabled(t *testing.T) {
	e := newTestEnv(t)
	ticket := e.createTicket(t, CreateTicketRequest{Email: "alice@acme.com", Message: "m", TeamID: "TEAM-1"})
	h := NewHandler(e.store.Tickets(), e.store.Teams(), nil, nil)
	e.handler = h
	code, _ := e.do(t, e.raiser, http.MethodPost, "/tickets/"+ticket.TicketID+"/attachments", AttachmentRequest{FileName: "a.txt", ContentType: "text/plain"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
