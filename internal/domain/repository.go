package domain

import (
	"context"
	"time"
)

// CredentialRepository defines persistence for the credential pool. Reserve
// and settle mutations must be single atomic statements at the store: rows
// are raced by concurrent dispatches and read-modify-write would lose
// increments.
type CredentialRepository interface {
	Create(ctx context.Context, cred *Credential) error
	GetByID(ctx context.Context, id string) (*Credential, error)
	List(ctx context.Context) ([]Credential, error)
	SetActive(ctx context.Context, id string, active bool) error

	// ResetDailyUses zeroes uses_today for every active credential whose
	// last reset precedes day. Idempotent within a day.
	ResetDailyUses(ctx context.Context, day time.Time) error

	// SelectForAllocation returns the active credential with the highest
	// available headroom strictly above cost and daily-limit room left, or
	// ErrNotFound when none qualifies.
	SelectForAllocation(ctx context.Context, cost int) (*Credential, error)

	// AddReserved atomically increments reserved_credits.
	AddReserved(ctx context.Context, id string, amount int) error

	// ReleaseReserved atomically decrements reserved_credits, clamped at 0.
	ReleaseReserved(ctx context.Context, id string, amount int) error

	// CommitSpend releases the reservation and additionally deducts the
	// amount from remaining_credits and bumps the usage counters.
	CommitSpend(ctx context.Context, id string, amount int) error

	// SetRemainingCredits overwrites the synced balance. Reserved credits
	// are untouched.
	SetRemainingCredits(ctx context.Context, id string, credits int) error
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status     JobStatus
	SceneIndex *int
	ScriptID   string
	Limit      int
}

// JobRepository defines persistence for job entities. The terminal-state
// transitions are guarded so they succeed at most once per job; the boolean
// result reports whether this call performed the transition.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]Job, error)
	ListProcessing(ctx context.Context) ([]Job, error)
	ListChildren(ctx context.Context, parentID string) ([]Job, error)
	MarkCompleted(ctx context.Context, id, resultURL string, resultMeta map[string]string) (bool, error)
	MarkFailed(ctx context.Context, id, errorMessage string) (bool, error)
	SoftDelete(ctx context.Context, id string) error
}
