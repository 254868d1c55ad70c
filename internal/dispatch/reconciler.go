package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"time"

	"clipforge/internal/credential"
	"clipforge/internal/domain"
	"clipforge/internal/infra"
	"clipforge/internal/providers/generation"
	"clipforge/internal/storage"
)

// Reconciler converges processing jobs onto terminal states by polling the
// provider and settling each job's reservation exactly once. The
// exactly-once guarantee comes from the repository's guarded terminal
// transition: settlement only runs when this poll performed the transition.
type Reconciler struct {
	jobs     domain.JobRepository
	creds    domain.CredentialRepository
	pool     *credential.Pool
	provider generation.Client
	blobs    storage.BlobStore
	logger   infra.Logger
	jobTTL   time.Duration
	now      func() time.Time
}

// NewReconciler builds a reconciler. blobs may be nil, in which case image
// results keep their provider-hosted URL instead of being re-hosted.
func NewReconciler(jobs domain.JobRepository, creds domain.CredentialRepository, pool *credential.Pool, provider generation.Client, blobs storage.BlobStore, logger infra.Logger, jobTTL time.Duration) *Reconciler {
	return &Reconciler{
		jobs:     jobs,
		creds:    creds,
		pool:     pool,
		provider: provider,
		blobs:    blobs,
		logger:   logger,
		jobTTL:   jobTTL,
		now:      time.Now,
	}
}

// Run polls all processing jobs on the given interval until ctx is done.
// Each sweep is jittered by up to 10% of the interval so multiple replicas
// do not hammer the provider in lockstep.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info().Dur("interval", interval).Msg("reconciler: started")
	timer := time.NewTimer(jittered(interval))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			r.RunOnce(ctx)
			timer.Reset(jittered(interval))
		}
	}
}

func jittered(interval time.Duration) time.Duration {
	if interval <= 0 {
		return interval
	}
	return interval + rand.N(interval/10+1)
}

// RunOnce polls every outstanding job a single time. Per-job errors are
// logged and left for the next cycle; they never fail the sweep.
func (r *Reconciler) RunOnce(ctx context.Context) {
	jobs, err := r.jobs.ListProcessing(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("reconciler: list processing jobs failed")
		return
	}
	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := r.PollOnce(ctx, &jobs[i]); err != nil {
			r.logger.Warn().Err(err).Str("job_id", jobs[i].ID).Msg("reconciler: poll failed, will retry")
		}
	}
}

// PollOnce queries the provider for one job and applies any terminal state.
// Polling an already-terminal job is a no-op. A transient provider error is
// returned without mutating job or credential state; the next cycle retries.
func (r *Reconciler) PollOnce(ctx context.Context, job *domain.Job) error {
	if job.Status.Terminal() {
		return nil
	}
	if job.ProviderJobID == "" {
		return fmt.Errorf("job %s has no provider job id", job.ID)
	}

	cred, err := r.creds.GetByID(ctx, job.CredentialID)
	if err != nil {
		return fmt.Errorf("load credential %s: %w", job.CredentialID, err)
	}

	status, err := r.provider.QueryStatus(ctx, cred.Secret, job.ProviderJobID)
	if err != nil {
		return fmt.Errorf("query status for %s: %w", job.ProviderJobID, err)
	}

	switch status.State {
	case generation.StateCompleted:
		return r.complete(ctx, job, status)
	case generation.StateFailed:
		reason := status.FailureReason
		if reason == "" {
			reason = "provider reported failure"
		}
		return r.fail(ctx, job, reason)
	default:
		if r.jobTTL > 0 && r.now().Sub(job.CreatedAt) > r.jobTTL {
			return r.fail(ctx, job, fmt.Sprintf("timed out after %s in processing", r.jobTTL))
		}
		return nil
	}
}

func (r *Reconciler) complete(ctx context.Context, job *domain.Job, status generation.Status) error {
	resultURL := status.ResultURL
	meta := make(map[string]string, len(status.Metadata)+1)
	for k, v := range status.Metadata {
		meta[k] = v
	}

	if job.Type == domain.JobTypeImage && r.blobs != nil && resultURL != "" {
		hosted, err := r.rehost(ctx, job, resultURL)
		if err != nil {
			// Keep the job processing and retry the whole poll next cycle;
			// nothing has been mutated yet.
			return fmt.Errorf("rehost image result: %w", err)
		}
		meta["origin_url"] = resultURL
		resultURL = hosted
	}

	transitioned, err := r.jobs.MarkCompleted(ctx, job.ID, resultURL, meta)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !transitioned {
		// Another poller won the transition and already settled.
		return nil
	}
	job.Status = domain.JobStatusCompleted
	job.ResultURL = resultURL
	job.ResultMeta = meta

	if err := r.pool.Settle(ctx, job.CredentialID, job.CreditCost, domain.SettleSuccess); err != nil {
		return fmt.Errorf("settle success: %w", err)
	}
	r.logger.Info().Str("job_id", job.ID).Str("result_url", resultURL).Msg("reconciler: job completed")
	return nil
}

func (r *Reconciler) fail(ctx context.Context, job *domain.Job, reason string) error {
	transitioned, err := r.jobs.MarkFailed(ctx, job.ID, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !transitioned {
		return nil
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = reason

	if err := r.pool.Settle(ctx, job.CredentialID, job.CreditCost, domain.SettleFailure); err != nil {
		return fmt.Errorf("settle failure: %w", err)
	}
	r.logger.Info().Str("job_id", job.ID).Str("reason", reason).Msg("reconciler: job failed, reservation refunded")
	return nil
}

func (r *Reconciler) rehost(ctx context.Context, job *domain.Job, resultURL string) (string, error) {
	data, err := r.provider.FetchAsset(ctx, resultURL)
	if err != nil {
		return "", err
	}
	ext := path.Ext(resultURL)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "?&") {
		ext = ".png"
	}
	key := "images/" + job.ID + ext
	return r.blobs.Write(ctx, key, data)
}
