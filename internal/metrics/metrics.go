// Package metrics exposes prometheus counters for affiliation decisions and domain verification.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MX lookup outcomes.
const (
	MXFound    = "mx_found"
	MXNone     = "no_mx"
	MXNXDomain = "nxdomain"
	MXError    = "error"
	MXCacheHit = "cache_hit"
)

// Metrics holds the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	onboarding   *prometheus.CounterVec
	mxLookups    *prometheus.CounterVec
	domainMerges prometheus.Counter
	retryJobs    *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on prometheus.DefaultRegisterer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates and registers the counters on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		onboarding: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "onboarding_decisions_total",
			Help:      "Affiliation decisions by resulting state.",
		}, []string{"state"}),
		mxLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "mx_lookups_total",
			Help:      "DNS-over-HTTPS MX lookups by outcome.",
		}, []string{"outcome"}),
		domainMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "company_domain_merges_total",
			Help:      "Company creations that merged into an existing company claiming the same domain.",
		}),
		retryJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "affiliation_retry_jobs_total",
			Help:      "Affiliation retry jobs by result.",
		}, []string{"result"}),
	}
	registerer.MustRegister(m.onboarding, m.mxLookups, m.domainMerges, m.retryJobs)
	return m
}

// OnboardingDecision counts one affiliation outcome.
func (m *Metrics) OnboardingDecision(state string) {
	if m == nil {
		return
	}
	m.onboarding.WithLabelValues(state).Inc()
}

// MXLookup counts one MX lookup outcome.
func (m *Metrics) MXLookup(outcome string) {
	if m == nil {
		return
	}
	m.mxLookups.WithLabelValues(outcome).Inc()
}

// DomainMerge counts a create that fell back to joining the existing company.
func (m *Metrics) DomainMerge() {
	if m == nil {
		return
	}
	m.domainMerges.Inc()
}

// RetryJob counts a processed affiliation retry job.
func (m *Metrics) RetryJob(result string) {
	if m == nil {
		return
	}
	m.retryJobs.WithLabelValues(result).Inc()
}
