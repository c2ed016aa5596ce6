package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-helpdesk/backend/internal/memstore"
	"github.com/aura-helpdesk/backend/internal/metrics"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/pkg/queue"
)

type fakeJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (f *fakeJobs) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		time.Sleep(time.Millisecond)
		return nil, "", nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	return job, queue.QueueAffiliation, nil
}

func (f *fakeJobs) Retry(ctx context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Attempt++
	f.retried = append(f.retried, job)
	return nil
}

func (f *fakeJobs) drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) == 0
}

type mxAlways bool

func (m mxAlways) HasMailExchanger(ctx context.Context, domain string) bool { return bool(m) }

type failingAffiliator struct{}

func (failingAffiliator) Affiliate(ctx context.Context, user *models.User) (*onboarding.Result, error) {
	return nil, errors.New("still down")
}

func affiliationJob(t *testing.T, externalID string) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeAffiliation, queue.AffiliationPayload{ExternalID: externalID})
	require.NoError(t, err)
	return job
}

func TestProcessJoinsCompany(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Companies().Create(ctx, &models.Company{CompanyID: "COMP-1", CompanyName: "Acme", Domain: "acme.com"}, models.CompanyMember{Email: "owner@acme.com"}))
	_, _, err := s.Users().UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "user_1", Email: "bob@acme.com", EmailVerified: true})
	require.NoError(t, err)

	orch := onboarding.New(s.Companies(), s.Users(), mxAlways(true), onboarding.Options{RequireVerifiedEmail: true}, nil)
	p := NewAffiliationProcessor(s.Users(), orch, &fakeJobs{}, metrics.New(prometheus.NewRegistry()), nil)

	require.NoError(t, p.Process(ctx, affiliationJob(t, "user_1")))
	user, err := s.Users().FindByExternalID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "COMP-1", user.CompanyIDValue())

	// Deleted users are dropped without error.
	assert.NoError(t, p.Process(ctx, affiliationJob(t, "user_gone")))

	assert.Error(t, p.Process(ctx, &queue.Job{ID: "x", Type: "email"}))
	assert.Error(t, p.Process(ctx, &queue.Job{ID: "x", Type: queue.JobTypeAffiliation, Payload: []byte(`"bad"`)}))
}

func TestRunRetriesFailedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := memstore.New()
	_, _, err := s.Users().UpsertFromIdentity(ctx, models.IdentityProfile{ExternalID: "user_1", Email: "bob@acme.com"})
	require.NoError(t, err)

	jobs := &fakeJobs{pending: []*queue.Job{affiliationJob(t, "user_1")}}
	p := NewAffiliationProcessor(s.Users(), failingAffiliator{}, jobs, nil, nil)
	p.backoff = time.Millisecond

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.retried) == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, jobs.drained())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 1, jobs.retried[0].Attempt)
}
