package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiAnswer(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}}},
	})
	return string(b)
}

type recorder struct {
	mu     sync.Mutex
	models []string
}

func (r *recorder) add(m string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, m)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.models...)
}

func TestEnrichFallsBackOn404(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/models/"), ":generateContent")
		rec.add(model)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		if model == "m1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"model not found"}}`))
			return
		}
		_, _ = w.Write([]byte(geminiAnswer("Sure!\n```json\n{\"companyName\":\"Acme Corp\",\"industry\":\"Manufacturing\",\"headquarters\":\"Springfield\",\"employees\":250}\n```")))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Models: []string{"m1", "m2"}}, nil)
	got, err := c.Enrich(context.Background(), "", "https://www.acme.com/")
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2"}, rec.list())
	assert.Equal(t, "Acme Corp", got.CompanyName)
	assert.Equal(t, "Manufacturing", got.Industry)
	assert.Equal(t, "Springfield", got.Address)
	assert.Equal(t, "250", got.TotalEmployees)
	assert.Equal(t, "https://acme.com", got.Website)
	assert.Equal(t, "acme.com", got.Domain)
	assert.Equal(t, "m2", got.Model)
	assert.Equal(t, "Acme Corp", got.Profile().CompanyName)
}

func TestEnrichStopsOnOtherErrors(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Path)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Models: []string{"m1", "m2"}}, nil)
	_, err := c.Enrich(context.Background(), "Acme", "")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "quota exceeded", apiErr.Message)
	assert.Len(t, rec.list(), 1)
}

func TestEnrichByNameKeepsName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiAnswer(`{"industry":"Software","website":"https://globex.io/about"}`)))
	}))
	defer srv.Close()

	got, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Models: []string{"m"}}, nil).Enrich(context.Background(), "Globex", "")
	require.NoError(t, err)
	assert.Equal(t, "Globex", got.CompanyName)
	assert.Equal(t, "globex.io", got.Domain)
}

func TestEnrichTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Models: []string{"m"}, Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	_, err := c.Enrich(context.Background(), "Acme", "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnrichDisabledAndEmpty(t *testing.T) {
	_, err := NewClient(Config{}, nil).Enrich(context.Background(), "Acme", "")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewClient(Config{APIKey: "k"}, nil).Enrich(context.Background(), " ", "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestParseAnswer(t *testing.T) {
	a, err := parseAnswer(`{"companyName":"X","employees":"51-200"}`)
	require.NoError(t, err)
	assert.Equal(t, "X", a.CompanyName)
	assert.Equal(t, "51-200", stringify(a.Employees))

	_, err = parseAnswer("no json here")
	assert.Error(t, err)
}
