package domains

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/metrics"
)

const (
	// DefaultResolverURL is Cloudflare's JSON DNS-over-HTTPS endpoint.
	DefaultResolverURL = "https://cloudflare-dns.com/dns-query"
	// DefaultTimeout bounds a single MX lookup.
	DefaultTimeout = 5 * time.Second

	dnsTypeMX        = 15
	dnsRcodeOK       = 0
	dnsRcodeNXDOMAIN = 3
)

// dohResponse is the subset of the application/dns-json answer we read.
type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
		TTL  int    `json:"TTL"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Endpoint    string
	Timeout     time.Duration
	CacheTTL    time.Duration
	NegativeTTL time.Duration
}

// Resolver checks MX records over DNS-over-HTTPS.
type Resolver struct {
	endpoint    string
	timeout     time.Duration
	cacheTTL    time.Duration
	negativeTTL time.Duration
	httpClient  *http.Client
	cache       Cache
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// ResolverOption configures optional Resolver collaborators.
type ResolverOption func(*Resolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.httpClient = c }
}

// WithCache enables answer caching.
func WithCache(c Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithMetrics records lookup outcomes.
func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultResolverURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 10 * time.Minute
	}
	r := &Resolver{
		endpoint:    cfg.Endpoint,
		timeout:     cfg.Timeout,
		cacheTTL:    cfg.CacheTTL,
		negativeTTL: cfg.NegativeTTL,
		httpClient:  &http.Client{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasMailExchanger reports whether domain publishes at least one MX record.
// Lookup failures of any kind yield false and are only logged.
func (r *Resolver) HasMailExchanger(ctx context.Context, domain string) bool {
	if domain == "" {
		return false
	}
	if r.cache != nil {
		hasMX, found, err := r.cache.Get(ctx, domain)
		if err != nil {
			r.logger.Warn("mx cache read failed", zap.String("domain", domain), zap.Error(err))
		} else if found {
			r.metrics.MXLookup(metrics.MXCacheHit)
			return hasMX
		}
	}

	hasMX, outcome, err := r.lookup(ctx, domain)
	r.metrics.MXLookup(outcome)
	if err != nil {
		r.logger.Warn("mx lookup inconclusive", zap.String("domain", domain), zap.Error(err))
		return false
	}
	r.logger.Debug("mx lookup", zap.String("domain", domain), zap.String("outcome", outcome))

	if r.cache != nil {
		ttl := r.cacheTTL
		if !hasMX {
			ttl = r.negativeTTL
		}
		if err := r.cache.Set(ctx, domain, hasMX, ttl); err != nil {
			r.logger.Warn("mx cache write failed", zap.String("domain", domain), zap.Error(err))
		}
	}
	return hasMX
}

func (r *Resolver) lookup(ctx context.Context, domain string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("name", domain)
	q.Set("type", "MX")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return false, metrics.MXError, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, metrics.MXError, fmt.Errorf("query resolver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, metrics.MXError, fmt.Errorf("resolver status: %d", resp.StatusCode)
	}

	var body dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, metrics.MXError, fmt.Errorf("decode answer: %w", err)
	}
	switch body.Status {
	case dnsRcodeNXDOMAIN:
		return false, metrics.MXNXDomain, nil
	case dnsRcodeOK:
		for _, a := range body.Answer {
			if a.Type == dnsTypeMX {
				return true, metrics.MXFound, nil
			}
		}
		return false, metrics.MXNone, nil
	default:
		return false, metrics.MXError, fmt.Errorf("resolver rcode: %d", body.Status)
	}
}
