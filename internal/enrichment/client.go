// Package enrichment looks up public company details through the Gemini generateContent API.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/domains"
	"github.com/aura-helpdesk/backend/internal/models"
)

// DefaultModels is the fallback order used when no models are configured.
var DefaultModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-2.0-flash-exp",
	"gemini-flash-latest",
	"gemini-2.5-flash-lite",
}

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("enrichment disabled")
	// ErrEmptyQuery is returned when neither a name nor a domain is given.
	ErrEmptyQuery = errors.New("company name or domain is required")

	jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Model      string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini %s: status %d: %s", e.Model, e.StatusCode, e.Message)
}

// Company is the enriched view of a company.
type Company struct {
	CompanyName    string `json:"companyName"`
	Industry       string `json:"industry"`
	Website        string `json:"website"`
	Address        string `json:"address"`
	TotalEmployees string `json:"totalEmployees"`
	Description    string `json:"description"`
	Domain         string `json:"domain"`
	Model          string `json:"model"`
}

// Profile converts the result to editable company fields.
func (c *Company) Profile() models.CompanyProfile {
	return models.CompanyProfile{
		CompanyName:    c.CompanyName,
		Industry:       c.Industry,
		TotalEmployees: c.TotalEmployees,
		Address:        c.Address,
		Website:        c.Website,
		Description:    c.Description,
	}
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Models  []string
	Timeout time.Duration
}

// Client calls the Gemini API.
type Client struct {
	apiKey  string
	baseURL string
	models  []string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a Client. With an empty APIKey every lookup returns ErrDisabled.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		models:  cfg.Models,
		timeout: cfg.Timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// answer is the JSON object the prompt asks the model to produce.
type answer struct {
	CompanyName  string `json:"companyName"`
	Industry     string `json:"industry"`
	Website      string `json:"website"`
	Description  string `json:"description"`
	Headquarters string `json:"headquarters"`
	Founded      any    `json:"founded"`
	Employees    any    `json:"employees"`
}

// Enrich looks up the company by domain, or by name when domain is empty.
// Models are tried in order while the API answers 404; the whole call is bounded by the configured timeout.
func (c *Client) Enrich(ctx context.Context, companyName, domain string) (*Company, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	companyName = strings.TrimSpace(companyName)
	domain = domains.NormalizeDomain(domain)
	if companyName == "" && domain == "" {
		return nil, ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildPrompt(companyName, domain)
	var lastErr error
	for _, model := range c.models {
		text, err := c.generate(ctx, model, prompt)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				c.logger.Debug("gemini model unavailable, trying next", zap.String("model", model))
				lastErr = err
				continue
			}
			return nil, err
		}
		a, err := parseAnswer(text)
		if err != nil {
			c.logger.Warn("gemini answer not parseable", zap.String("model", model), zap.Error(err))
			lastErr = err
			continue
		}
		return mapAnswer(a, companyName, domain, model), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return nil, lastErr
}

func buildPrompt(companyName, domain string) string {
	subject := fmt.Sprintf("the company %q", companyName)
	if domain != "" {
		subject = fmt.Sprintf("the company with domain %q", domain)
	}
	return `Provide detailed information about ` + subject + `.
Return a JSON object with the following structure:
{
  "companyName": "exact company name",
  "industry": "primary industry",
  "website": "company website URL if available",
  "description": "brief company description",
  "headquarters": "headquarters location if available",
  "founded": "year founded if available",
  "employees": "employee count range if available"
}
Only return valid JSON, no additional text.`
}

func (c *Client) generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Model: model, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
			apiErr.Message = e.Error.Message
		}
		return "", apiErr
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty answer")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func parseAnswer(text string) (*answer, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		raw = text
	}
	var a answer
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("parse answer: %w", err)
	}
	return &a, nil
}

func mapAnswer(a *answer, companyName, domain, model string) *Company {
	out := &Company{
		CompanyName:    a.CompanyName,
		Industry:       a.Industry,
		Website:        a.Website,
		Address:        a.Headquarters,
		TotalEmployees: stringify(a.Employees),
		Description:    a.Description,
		Domain:         domain,
		Model:          model,
	}
	if out.CompanyName == "" {
		out.CompanyName = companyName
	}
	if out.Website == "" && domain != "" {
		out.Website = "https://" + domain
	}
	if out.Domain == "" && out.Website != "" {
		out.Domain = domains.NormalizeDomain(out.Website)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}
