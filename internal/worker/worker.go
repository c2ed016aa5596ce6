package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-helpdesk/backend/internal/metrics"
	"github.com/aura-helpdesk/backend/internal/models"
	"github.com/aura-helpdesk/backend/internal/onboarding"
	"github.com/aura-helpdesk/backend/pkg/queue"
)

// Retry job results.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Jobs is the job source the processor consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// UserFinder loads the user a job refers to.
type UserFinder interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.User, error)
}

// Affiliator re-runs affiliation for a stored user.
type Affiliator interface {
	Affiliate(ctx context.Context, user *models.User) (*onboarding.Result, error)
}

// AffiliationProcessor finishes affiliations that failed after the user profile was saved.
type AffiliationProcessor struct {
	users      UserFinder
	affiliator Affiliator
	jobs       Jobs
	metrics    *metrics.Metrics
	backoff    time.Duration
	logger     *zap.Logger
}

// NewAffiliationProcessor creates an affiliation retry processor.
func NewAffiliationProcessor(users UserFinder, affiliator Affiliator, jobs Jobs, m *metrics.Metrics, logger *zap.Logger) *AffiliationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AffiliationProcessor{
		users:      users,
		affiliator: affiliator,
		jobs:       jobs,
		metrics:    m,
		backoff:    queue.RetryBackoff,
		logger:     logger,
	}
}

// Process executes one affiliation job. Jobs for users that no longer exist are dropped.
func (p *AffiliationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAffiliation {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AffiliationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	user, err := p.users.FindByExternalID(ctx, payload.ExternalID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", payload.ExternalID, err)
	}
	if user == nil {
		p.logger.Info("user gone, dropping affiliation job", zap.String("job_id", job.ID), zap.String("external_id", payload.ExternalID))
		p.metrics.RetryJob(ResultDropped)
		return nil
	}

	res, err := p.affiliator.Affiliate(ctx, user)
	if err != nil {
		return err
	}
	p.metrics.RetryJob(ResultSuccess)
	p.logger.Info("affiliation retry completed",
		zap.String("job_id", job.ID),
		zap.String("external_id", payload.ExternalID),
		zap.String("state", string(res.State)),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *AffiliationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("affiliation worker stopping")
			return
		default:
		}

		job, _, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			p.metrics.RetryJob(ResultFailed)
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *AffiliationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
