package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clipforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, type, status, engine, prompt, duration_seconds, resolution, credit_cost,
credential_id, COALESCE(provider_job_id, ''), COALESCE(result_url, ''), result_meta,
COALESCE(error_message, ''), COALESCE(parent_job_id, ''), COALESCE(extend_mode, ''),
COALESCE(source_frame_ref, ''), scene_index, COALESCE(script_id, ''), created_at, updated_at, deleted_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	meta, err := marshalMeta(job.ResultMeta)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (id, type, status, engine, prompt, duration_seconds, resolution, credit_cost,
                  credential_id, provider_job_id, result_url, result_meta, error_message,
                  parent_job_id, extend_mode, source_frame_ref, scene_index, script_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, NULLIF($13, ''),
        NULLIF($14, ''), NULLIF($15, ''), NULLIF($16, ''), $17, NULLIF($18, ''));
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Type,
		job.Status,
		job.Engine,
		job.Prompt,
		job.DurationSeconds,
		job.Resolution,
		job.CreditCost,
		job.CredentialID,
		job.ProviderJobID,
		job.ResultURL,
		meta,
		job.ErrorMessage,
		job.ParentJobID,
		string(job.ExtendMode),
		job.SourceFrameRef,
		job.SceneIndex,
		job.ScriptID,
	)
	return err
}

// GetByID fetches a job by its identifier. Soft-deleted jobs stay readable.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List returns non-deleted jobs matching the filter, newest first.
func (r *JobRepositoryPG) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE deleted_at IS NULL`
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += "\n  AND status = $" + strconv.Itoa(len(args))
	}
	if filter.SceneIndex != nil {
		args = append(args, *filter.SceneIndex)
		query += "\n  AND scene_index = $" + strconv.Itoa(len(args))
	}
	if filter.ScriptID != "" {
		args = append(args, filter.ScriptID)
		query += "\n  AND script_id = $" + strconv.Itoa(len(args))
	}
	query += "\nORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	args = append(args, limit)
	query += "\nLIMIT $" + strconv.Itoa(len(args)) + ";"

	return r.queryJobs(ctx, query, args...)
}

// ListProcessing returns jobs awaiting reconciliation, oldest first so the
// longest-outstanding jobs are polled soonest.
func (r *JobRepositoryPG) ListProcessing(ctx context.Context) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE status = 'processing'
  AND provider_job_id IS NOT NULL
  AND deleted_at IS NULL
ORDER BY created_at ASC;
`
	return r.queryJobs(ctx, query)
}

// ListChildren returns jobs whose parent is the given job, oldest first.
func (r *JobRepositoryPG) ListChildren(ctx context.Context, parentID string) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE parent_job_id = $1
  AND deleted_at IS NULL
ORDER BY created_at ASC;
`
	return r.queryJobs(ctx, query, parentID)
}

// MarkCompleted transitions a processing job to completed. The status guard
// makes the transition happen at most once; the boolean reports whether this
// call won it.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, id, resultURL string, resultMeta map[string]string) (bool, error) {
	meta, err := marshalMeta(resultMeta)
	if err != nil {
		return false, err
	}
	query := `
UPDATE jobs
SET status = 'completed',
    result_url = $2,
    result_meta = $3,
    updated_at = NOW()
WHERE id = $1
  AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, id, resultURL, meta)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed transitions a processing job to failed, keeping the provider's
// reason inspectable on the record.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	query := `
UPDATE jobs
SET status = 'failed',
    error_message = $2,
    updated_at = NOW()
WHERE id = $1
  AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, id, errorMessage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SoftDelete hides a terminal job from listings. Processing jobs cannot be
// deleted: their reservation is still outstanding.
func (r *JobRepositoryPG) SoftDelete(ctx context.Context, id string) error {
	query := `
UPDATE jobs
SET deleted_at = NOW(),
    updated_at = NOW()
WHERE id = $1
  AND deleted_at IS NULL
  AND status IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrJobNotTerminal
}

func (r *JobRepositoryPG) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var meta []byte
	var mode string
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.Engine,
		&job.Prompt,
		&job.DurationSeconds,
		&job.Resolution,
		&job.CreditCost,
		&job.CredentialID,
		&job.ProviderJobID,
		&job.ResultURL,
		&meta,
		&job.ErrorMessage,
		&job.ParentJobID,
		&mode,
		&job.SourceFrameRef,
		&job.SceneIndex,
		&job.ScriptID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.DeletedAt,
	); err != nil {
		return nil, err
	}
	job.ExtendMode = domain.ExtendMode(mode)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.ResultMeta); err != nil {
			return nil, fmt.Errorf("decode result meta for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
