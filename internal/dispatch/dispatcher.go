// Package dispatch contains the credit-aware job pipeline: the dispatcher
// that reserves credits and submits work, the reconciler that converges
// outstanding jobs onto terminal states, and the extension resolver that
// derives follow-on requests from completed clips.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"clipforge/internal/costmodel"
	"clipforge/internal/credential"
	"clipforge/internal/domain"
	"clipforge/internal/infra"
	"clipforge/internal/providers/generation"
)

// Request is one generation intent, already authenticated upstream. The
// lineage fields are only populated by the extension resolver.
type Request struct {
	Type            domain.JobType
	Engine          string
	Prompt          string
	DurationSeconds int
	Resolution      string
	WithAudio       bool
	StartFrameRef   string
	EndFrameRef     string
	ImageRefs       []string
	VideoRef        string
	SceneIndex      int
	ScriptID        string

	ParentJobID    string
	ExtendMode     domain.ExtendMode
	SourceFrameRef string
}

// Dispatcher turns requests into provider submissions with a credit
// reservation held for the lifetime of each in-flight job.
type Dispatcher struct {
	costs    *costmodel.Model
	pool     *credential.Pool
	jobs     domain.JobRepository
	provider generation.Client
	logger   infra.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(costs *costmodel.Model, pool *credential.Pool, jobs domain.JobRepository, provider generation.Client, logger infra.Logger) *Dispatcher {
	return &Dispatcher{costs: costs, pool: pool, jobs: jobs, provider: provider, logger: logger}
}

// Dispatch runs validate, price, select, reserve, submit, persist, strictly
// in that order. A submission failure releases the reservation before the
// error propagates, so no caller ever observes a failed dispatch with
// credits still held.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*domain.Job, error) {
	params := costmodel.Params{
		DurationSeconds: req.DurationSeconds,
		Resolution:      req.Resolution,
		WithAudio:       req.WithAudio,
		StartFrameRef:   req.StartFrameRef,
		EndFrameRef:     req.EndFrameRef,
		ImageRefs:       req.ImageRefs,
		VideoRef:        req.VideoRef,
	}
	if err := d.costs.ValidateParams(req.Engine, params); err != nil {
		return nil, err
	}
	cost, err := d.costs.Price(req.Engine, req.DurationSeconds)
	if err != nil {
		return nil, err
	}

	cred, err := d.pool.SelectForAllocation(ctx, cost)
	if err != nil {
		return nil, err
	}
	if err := d.pool.Reserve(ctx, cred.ID, cost); err != nil {
		return nil, err
	}

	providerJobID, err := d.provider.SubmitGeneration(ctx, cred.Secret, generation.SubmitRequest{
		Engine:          req.Engine,
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		Resolution:      req.Resolution,
		WithAudio:       req.WithAudio,
		StartFrameRef:   req.StartFrameRef,
		EndFrameRef:     req.EndFrameRef,
		ImageRefs:       req.ImageRefs,
		VideoRef:        req.VideoRef,
	})
	if err != nil {
		if settleErr := d.pool.Settle(ctx, cred.ID, cost, domain.SettleFailure); settleErr != nil {
			d.logger.Error().Err(settleErr).
				Str("credential_id", cred.ID).
				Int("amount", cost).
				Msg("failed to release reservation after submit error")
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderSubmission, err)
	}

	job := &domain.Job{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Status:          domain.JobStatusProcessing,
		Engine:          req.Engine,
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		Resolution:      req.Resolution,
		CreditCost:      cost,
		CredentialID:    cred.ID,
		ProviderJobID:   providerJobID,
		ParentJobID:     req.ParentJobID,
		ExtendMode:      req.ExtendMode,
		SourceFrameRef:  req.SourceFrameRef,
		SceneIndex:      req.SceneIndex,
		ScriptID:        req.ScriptID,
	}
	if err := d.jobs.Create(ctx, job); err != nil {
		// The provider job is already running and will be charged upstream;
		// releasing keeps local accounting consistent. The orphan is logged
		// for operator follow-up.
		if settleErr := d.pool.Settle(ctx, cred.ID, cost, domain.SettleFailure); settleErr != nil {
			d.logger.Error().Err(settleErr).Str("credential_id", cred.ID).Msg("failed to release reservation after persist error")
		}
		d.logger.Error().
			Str("provider_job_id", providerJobID).
			Str("credential_id", cred.ID).
			Msg("job persisted nowhere; provider job orphaned")
		return nil, fmt.Errorf("persist job: %w", err)
	}

	d.logger.Info().
		Str("job_id", job.ID).
		Str("engine", job.Engine).
		Str("type", string(job.Type)).
		Int("credit_cost", cost).
		Str("credential_id", cred.ID).
		Msg("job dispatched")
	return job, nil
}
