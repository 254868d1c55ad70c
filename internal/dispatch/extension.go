package dispatch

import (
	"context"
	"fmt"

	"clipforge/internal/costmodel"
	"clipforge/internal/domain"
)

// ExtensionParams are the caller-tunable knobs for a follow-on request.
// Zero values inherit from the source job.
type ExtensionParams struct {
	DurationSeconds int
	Resolution      string
	WithAudio       bool
	EndFrameRef     string
}

// ExtensionResolver derives a dispatchable request that visually continues a
// completed video job, stamping the lineage that lets chains be
// reconstructed later.
type ExtensionResolver struct {
	costs *costmodel.Model
}

// NewExtensionResolver builds a resolver.
func NewExtensionResolver(costs *costmodel.Model) *ExtensionResolver {
	return &ExtensionResolver{costs: costs}
}

// BuildExtension turns a completed video job into a follow-on request on the
// same engine. The result carries ParentJobID and ExtendMode and is passed
// to the dispatcher unchanged otherwise; pricing is identical to a fresh
// generation of the same engine and duration.
func (r *ExtensionResolver) BuildExtension(source *domain.Job, mode domain.ExtendMode, prompt string, params ExtensionParams) (Request, error) {
	if source == nil {
		return Request{}, fmt.Errorf("%w: no source job", domain.ErrSourceNotReady)
	}
	if source.Status != domain.JobStatusCompleted || !source.ProducesVideo() {
		return Request{}, fmt.Errorf("%w: job %s is %s %s", domain.ErrSourceNotReady, source.ID, source.Status, source.Type)
	}

	var frameRef string
	switch mode {
	case domain.ExtendModeContinue, domain.ExtendModeBridge:
		frameRef = source.ResultMeta[domain.ResultMetaFrameRef]
		if frameRef == "" {
			return Request{}, fmt.Errorf("%w: job %s has no %s in result metadata", domain.ErrNoExtractableFrame, source.ID, domain.ResultMetaFrameRef)
		}
	case domain.ExtendModeIndependent:
		// Fresh text-only generation, related to the source by lineage only.
	default:
		return Request{}, fmt.Errorf("%w: unknown extend mode %q", domain.ErrInvalidParams, mode)
	}

	if mode == domain.ExtendModeBridge && params.EndFrameRef == "" {
		return Request{}, fmt.Errorf("%w: bridge mode requires an end frame reference", domain.ErrInvalidParams)
	}

	duration := params.DurationSeconds
	if duration == 0 {
		duration = source.DurationSeconds
	}
	resolution := params.Resolution
	if resolution == "" {
		resolution = source.Resolution
	}

	req := Request{
		Type:            domain.JobTypeVideoExtend,
		Engine:          source.Engine,
		Prompt:          prompt,
		DurationSeconds: duration,
		Resolution:      resolution,
		WithAudio:       params.WithAudio,
		SceneIndex:      source.SceneIndex,
		ScriptID:        source.ScriptID,
		ParentJobID:     source.ID,
		ExtendMode:      mode,
		SourceFrameRef:  frameRef,
	}
	switch mode {
	case domain.ExtendModeContinue:
		req.StartFrameRef = frameRef
	case domain.ExtendModeBridge:
		req.StartFrameRef = frameRef
		req.EndFrameRef = params.EndFrameRef
	}
	return req, nil
}

// maxChainLength bounds lineage walks against pathological parent cycles.
const maxChainLength = 256

// ResolveChain returns the full extension chain containing jobID, ordered
// root first. Ancestors are found by walking ParentJobID backward;
// descendants by following children forward, taking the oldest child when
// the model's permitted-but-unused branching occurs.
func ResolveChain(ctx context.Context, jobs domain.JobRepository, jobID string) ([]domain.Job, error) {
	job, err := jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	root := job
	seen := map[string]bool{root.ID: true}
	for root.ParentJobID != "" {
		parent, err := jobs.GetByID(ctx, root.ParentJobID)
		if err != nil {
			return nil, fmt.Errorf("resolve parent %s: %w", root.ParentJobID, err)
		}
		if seen[parent.ID] || len(seen) >= maxChainLength {
			return nil, fmt.Errorf("lineage cycle at job %s", parent.ID)
		}
		seen[parent.ID] = true
		root = parent
	}

	chain := []domain.Job{*root}
	current := root
	for len(chain) < maxChainLength {
		children, err := jobs.ListChildren(ctx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve children of %s: %w", current.ID, err)
		}
		if len(children) == 0 {
			break
		}
		next := children[0]
		if seen[next.ID] {
			return nil, fmt.Errorf("lineage cycle at job %s", next.ID)
		}
		seen[next.ID] = true
		chain = append(chain, next)
		current = &next
	}
	return chain, nil
}
