package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-helpdesk/backend/internal/onboarding"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenID(t *testing.T) {
	out, err := run(t, "gen-id", "tkt", "-n", "3")
	require.NoError(t, err)
	lines := strings.Fields(out)
	require.Len(t, lines, 3)
	pattern := regexp.MustCompile(`^TKT-\d{8}-[0-9A-Z]{10}$`)
	for _, id := range lines {
		assert.Regexp(t, pattern, id)
	}

	_, err = run(t, "gen-id", "NOPE")
	assert.ErrorContains(t, err, "unknown prefix")
	_, err = run(t, "gen-id", "COMP", "--count", "0")
	assert.Error(t, err)
}

func TestMigrateList(t *testing.T) {
	out, err := run(t, "migrate", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "001_schema.sql")

	_, err = run(t, "migrate")
	assert.ErrorContains(t, err, "DATABASE_URL is not set")
}

func TestCheckDomainWithoutDatabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme.com", r.URL.Query().Get("name"))
		w.Header().Set("Content-Type", "application/dns-json")
		_, _ = w.Write([]byte(`{"Status":0,"Answer":[{"name":"acme.com","type":15,"data":"10 mx.acme.com."}]}`))
	}))
	defer srv.Close()

	out, err := run(t, "check-domain", "Ops@Acme.com", "--dns_resolver_url", srv.URL)
	require.NoError(t, err)
	var check onboarding.DomainCheck
	require.NoError(t, json.Unmarshal([]byte(out), &check))
	assert.Equal(t, "acme.com", check.Domain)
	assert.True(t, check.MXValid)
	assert.Nil(t, check.ExistingCompany)

	_, err = run(t, "check-domain", "not-an-email", "--dns_resolver_url", srv.URL)
	assert.ErrorIs(t, err, onboarding.ErrInvalidEmail)
}

func TestCommandsNeedingBackends(t *testing.T) {
	_, err := run(t, "company", "show", "COMP-1")
	assert.ErrorContains(t, err, "DATABASE_URL")
	_, err = run(t, "queue", "stats")
	assert.ErrorContains(t, err, "REDIS_ADDR")
}
