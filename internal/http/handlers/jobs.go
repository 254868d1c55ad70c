package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"clipforge/internal/dispatch"
	"clipforge/internal/domain"
	"clipforge/internal/statuscache"
)

type jobCreateRequest struct {
	JobType         string   `json:"job_type"`
	Engine          string   `json:"engine"`
	Prompt          string   `json:"prompt"`
	DurationSeconds int      `json:"duration_seconds"`
	Resolution      string   `json:"resolution"`
	WithAudio       bool     `json:"with_audio"`
	StartFrameRef   string   `json:"start_frame_ref"`
	EndFrameRef     string   `json:"end_frame_ref"`
	ImageRefs       []string `json:"image_refs"`
	VideoRef        string   `json:"video_ref"`
	SceneIndex      int      `json:"scene_index"`
	ScriptID        string   `json:"script_id"`
}

type jobExtendRequest struct {
	Mode            string `json:"mode"`
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	Resolution      string `json:"resolution"`
	WithAudio       bool   `json:"with_audio"`
	EndFrameRef     string `json:"end_frame_ref"`
}

type jobView struct {
	ID              string            `json:"id"`
	Type            domain.JobType    `json:"type"`
	Status          domain.JobStatus  `json:"status"`
	Engine          string            `json:"engine"`
	Prompt          string            `json:"prompt"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	Resolution      string            `json:"resolution,omitempty"`
	CreditCost      int               `json:"credit_cost"`
	ResultURL       string            `json:"result_url,omitempty"`
	ResultMeta      map[string]string `json:"result_meta,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ParentJobID     string            `json:"parent_job_id,omitempty"`
	ExtendMode      domain.ExtendMode `json:"extend_mode,omitempty"`
	SceneIndex      int               `json:"scene_index"`
	ScriptID        string            `json:"script_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func viewOf(job *domain.Job) jobView {
	return jobView{
		ID:              job.ID,
		Type:            job.Type,
		Status:          job.Status,
		Engine:          job.Engine,
		Prompt:          job.Prompt,
		DurationSeconds: job.DurationSeconds,
		Resolution:      job.Resolution,
		CreditCost:      job.CreditCost,
		ResultURL:       job.ResultURL,
		ResultMeta:      job.ResultMeta,
		ErrorMessage:    job.ErrorMessage,
		ParentJobID:     job.ParentJobID,
		ExtendMode:      job.ExtendMode,
		SceneIndex:      job.SceneIndex,
		ScriptID:        job.ScriptID,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// JobsCreate dispatches a fresh image or video generation.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	var req jobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobType := domain.JobType(req.JobType)
	if jobType != domain.JobTypeImage && jobType != domain.JobTypeVideo {
		a.error(w, http.StatusBadRequest, "bad_request", "job_type must be image or video")
		return
	}
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	job, err := a.Dispatcher.Dispatch(r.Context(), dispatch.Request{
		Type:            jobType,
		Engine:          req.Engine,
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		Resolution:      req.Resolution,
		WithAudio:       req.WithAudio,
		StartFrameRef:   req.StartFrameRef,
		EndFrameRef:     req.EndFrameRef,
		ImageRefs:       req.ImageRefs,
		VideoRef:        req.VideoRef,
		SceneIndex:      req.SceneIndex,
		ScriptID:        req.ScriptID,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, viewOf(job))
}

// JobsExtend chains a new clip off a completed video job.
func (a *App) JobsExtend(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "job_id")
	var req jobExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	source, err := a.Jobs.GetByID(r.Context(), sourceID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	extReq, err := a.Extensions.BuildExtension(source, domain.ExtendMode(req.Mode), req.Prompt, dispatch.ExtensionParams{
		DurationSeconds: req.DurationSeconds,
		Resolution:      req.Resolution,
		WithAudio:       req.WithAudio,
		EndFrameRef:     req.EndFrameRef,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	job, err := a.Dispatcher.Dispatch(r.Context(), extReq)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, viewOf(job))
}

// JobGet returns the stored job record.
func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

// JobPoll refreshes a job's status from the provider on demand, on top of
// the background reconciliation loop. Recent answers are served from the
// status cache.
func (a *App) JobPoll(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if snap, ok := a.Cache.Get(r.Context(), jobID); ok {
		a.json(w, http.StatusOK, snap)
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if !job.Status.Terminal() {
		if err := a.Reconciler.PollOnce(r.Context(), job); err != nil {
			// Transient provider trouble: report the stored state rather
			// than failing the read.
			a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("on-demand poll failed")
		}
	}

	snap := statuscache.Snapshot{
		Status:       job.Status,
		ResultURL:    job.ResultURL,
		ResultMeta:   job.ResultMeta,
		ErrorMessage: job.ErrorMessage,
	}
	a.Cache.Set(r.Context(), jobID, snap)
	a.json(w, http.StatusOK, snap)
}

// JobChain returns the full extension chain containing the job, root first.
func (a *App) JobChain(w http.ResponseWriter, r *http.Request) {
	chain, err := dispatch.ResolveChain(r.Context(), a.Jobs, chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	views := make([]jobView, 0, len(chain))
	for i := range chain {
		views = append(views, viewOf(&chain[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"chain": views})
}

// JobsList returns recent jobs, optionally filtered for the dashboard.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	filter := domain.JobFilter{
		Status:   domain.JobStatus(r.URL.Query().Get("status")),
		ScriptID: r.URL.Query().Get("script_id"),
	}
	if raw := r.URL.Query().Get("scene_index"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "scene_index must be an integer")
			return
		}
		filter.SceneIndex = &idx
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	jobs, err := a.Jobs.List(r.Context(), filter)
	if err != nil {
		a.domainError(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, viewOf(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views})
}

// JobDelete soft-deletes a terminal job.
func (a *App) JobDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Jobs.SoftDelete(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
