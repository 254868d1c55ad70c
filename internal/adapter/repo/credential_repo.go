package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clipforge/internal/domain"
)

// CredentialRepositoryPG implements domain.CredentialRepository.
//
// All reserve/settle mutations are single UPDATE statements so concurrent
// dispatches against the same row cannot lose increments; there is no
// read-modify-write anywhere in this file.
type CredentialRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a credential repository backed by PostgreSQL.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepositoryPG {
	return &CredentialRepositoryPG{pool: pool}
}

const credentialColumns = `id, label, secret, remaining_credits, reserved_credits, is_active,
daily_limit, uses_today, last_reset_date, total_uses, last_used_at, created_at, updated_at`

// Create inserts a new credential record.
func (r *CredentialRepositoryPG) Create(ctx context.Context, cred *domain.Credential) error {
	query := `
INSERT INTO credentials (id, label, secret, remaining_credits, reserved_credits, is_active, daily_limit, uses_today, last_reset_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		cred.ID,
		cred.Label,
		cred.Secret,
		cred.RemainingCredits,
		cred.ReservedCredits,
		cred.IsActive,
		cred.DailyLimit,
		cred.UsesToday,
		cred.LastResetDate,
	)
	return err
}

// GetByID fetches a credential by its identifier.
func (r *CredentialRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	query := `
SELECT ` + credentialColumns + `
FROM credentials
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return cred, nil
}

// List returns every credential, newest first. Inactive credentials are
// included so operators keep visibility into the full pool history.
func (r *CredentialRepositoryPG) List(ctx context.Context) ([]domain.Credential, error) {
	query := `
SELECT ` + credentialColumns + `
FROM credentials
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}

// SetActive flips the activity flag. Credentials are never hard-deleted so
// usage history survives deactivation.
func (r *CredentialRepositoryPG) SetActive(ctx context.Context, id string, active bool) error {
	query := `
UPDATE credentials
SET is_active = $2,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResetDailyUses zeroes uses_today for active credentials whose window is
// stale. Running it twice on the same day is a no-op.
func (r *CredentialRepositoryPG) ResetDailyUses(ctx context.Context, day time.Time) error {
	query := `
UPDATE credentials
SET uses_today = 0,
    last_reset_date = $1,
    updated_at = NOW()
WHERE is_active
  AND last_reset_date < $1;
`
	_, err := r.pool.Exec(ctx, query, day)
	return err
}

// SelectForAllocation picks the active credential with the most headroom
// strictly above cost and daily-limit room left. Richest first is the
// deliberate policy; swap the ORDER BY to change it without touching
// callers.
func (r *CredentialRepositoryPG) SelectForAllocation(ctx context.Context, cost int) (*domain.Credential, error) {
	query := `
SELECT ` + credentialColumns + `
FROM credentials
WHERE is_active
  AND (remaining_credits - reserved_credits) > $1
  AND (daily_limit IS NULL OR uses_today < daily_limit)
ORDER BY (remaining_credits - reserved_credits) DESC
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, query, cost)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return cred, nil
}

// AddReserved atomically holds amount against the credential.
func (r *CredentialRepositoryPG) AddReserved(ctx context.Context, id string, amount int) error {
	query := `
UPDATE credentials
SET reserved_credits = reserved_credits + $2,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReleaseReserved atomically drops a hold without charging. Clamped at zero
// to tolerate drift from operator intervention.
func (r *CredentialRepositoryPG) ReleaseReserved(ctx context.Context, id string, amount int) error {
	query := `
UPDATE credentials
SET reserved_credits = GREATEST(reserved_credits - $2, 0),
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CommitSpend converts a hold into an actual deduction and bumps usage counters.
func (r *CredentialRepositoryPG) CommitSpend(ctx context.Context, id string, amount int) error {
	query := `
UPDATE credentials
SET reserved_credits = GREATEST(reserved_credits - $2, 0),
    remaining_credits = remaining_credits - $2,
    total_uses = total_uses + 1,
    uses_today = uses_today + 1,
    last_used_at = NOW(),
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetRemainingCredits overwrites the synced balance; reservations stay local.
func (r *CredentialRepositoryPG) SetRemainingCredits(ctx context.Context, id string, credits int) error {
	query := `
UPDATE credentials
SET remaining_credits = $2,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, credits)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	if err := row.Scan(
		&cred.ID,
		&cred.Label,
		&cred.Secret,
		&cred.RemainingCredits,
		&cred.ReservedCredits,
		&cred.IsActive,
		&cred.DailyLimit,
		&cred.UsesToday,
		&cred.LastResetDate,
		&cred.TotalUses,
		&cred.LastUsedAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &cred, nil
}

var _ domain.CredentialRepository = (*CredentialRepositoryPG)(nil)
