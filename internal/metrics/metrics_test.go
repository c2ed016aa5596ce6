package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OnboardingDecision("auto_joined")
	m.OnboardingDecision("auto_joined")
	m.MXLookup(MXNXDomain)
	m.DomainMerge()
	m.RetryJob("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.onboarding.WithLabelValues("auto_joined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mxLookups.WithLabelValues(MXNXDomain)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.domainMerges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryJobs.WithLabelValues("ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OnboardingDecision("x")
		m.MXLookup(MXError)
		m.DomainMerge()
		m.RetryJob("failed")
	})
}
