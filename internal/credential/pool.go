// Package credential manages the pool of provider API keys and their credit
// accounting: selection for new work, reservation of a request's cost while
// it is in flight, and settlement once the outcome is known.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/domain"
	"clipforge/internal/infra"
	"clipforge/internal/providers/generation"
)

// Pool exposes allocation and settlement over the credential store. It holds
// no in-memory credential state; concurrency correctness rests on the
// repository's atomic single-statement updates.
type Pool struct {
	repo     domain.CredentialRepository
	provider generation.Client
	logger   infra.Logger
	now      func() time.Time
}

// NewPool builds a credential pool.
func NewPool(repo domain.CredentialRepository, provider generation.Client, logger infra.Logger) *Pool {
	return &Pool{repo: repo, provider: provider, logger: logger, now: time.Now}
}

// SelectForAllocation picks a credential with headroom strictly above
// estimatedCost. A credential with exactly enough credits is excluded to
// leave slack. An exhausted pool returns domain.ErrNoCredentialAvailable,
// which is an expected operating condition rather than a fault.
//
// Every call first rolls any stale daily-use windows across all active
// credentials, so a key capped out yesterday becomes selectable again the
// first time selection runs today.
func (p *Pool) SelectForAllocation(ctx context.Context, estimatedCost int) (*domain.Credential, error) {
	if estimatedCost <= 0 {
		return nil, fmt.Errorf("estimated cost must be positive, got %d", estimatedCost)
	}
	if err := p.repo.ResetDailyUses(ctx, p.today()); err != nil {
		return nil, fmt.Errorf("reset daily uses: %w", err)
	}
	cred, err := p.repo.SelectForAllocation(ctx, estimatedCost)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoCredentialAvailable
		}
		return nil, fmt.Errorf("select credential: %w", err)
	}
	return cred, nil
}

// Reserve holds amount against the credential for an in-flight request.
func (p *Pool) Reserve(ctx context.Context, credentialID string, amount int) error {
	if err := p.repo.AddReserved(ctx, credentialID, amount); err != nil {
		return fmt.Errorf("reserve %d on %s: %w", amount, credentialID, err)
	}
	p.logger.Debug().Str("credential_id", credentialID).Int("amount", amount).Msg("credits reserved")
	return nil
}

// Settle finalizes a reservation: on success the hold becomes a real
// deduction and the usage counters advance; on failure the hold is simply
// released. Exactly-once settlement per reservation is the caller's
// responsibility, enforced upstream by the job's single terminal transition.
func (p *Pool) Settle(ctx context.Context, credentialID string, amount int, outcome domain.SettleOutcome) error {
	var err error
	switch outcome {
	case domain.SettleSuccess:
		err = p.repo.CommitSpend(ctx, credentialID, amount)
	case domain.SettleFailure:
		err = p.repo.ReleaseReserved(ctx, credentialID, amount)
	default:
		return fmt.Errorf("unknown settle outcome %q", outcome)
	}
	if err != nil {
		return fmt.Errorf("settle %d on %s as %s: %w", amount, credentialID, outcome, err)
	}
	p.logger.Info().
		Str("credential_id", credentialID).
		Int("amount", amount).
		Str("outcome", string(outcome)).
		Msg("reservation settled")
	return nil
}

// SyncBalance overwrites the credential's remaining credits with the
// provider's ground truth and returns it. Reserved credits are untouched:
// the provider may already have charged for a processing-but-unsettled job,
// in which case subtracting the reservation again under-allocates, which is
// the safe side of that race.
func (p *Pool) SyncBalance(ctx context.Context, credentialID string) (int, error) {
	cred, err := p.repo.GetByID(ctx, credentialID)
	if err != nil {
		return 0, err
	}
	balance, err := p.provider.QueryAccountBalance(ctx, cred.Secret)
	if err != nil {
		return 0, fmt.Errorf("query balance for %s: %w", credentialID, err)
	}
	if err := p.repo.SetRemainingCredits(ctx, credentialID, balance); err != nil {
		return 0, err
	}
	p.logger.Info().Str("credential_id", credentialID).Int("balance", balance).Msg("balance synced")
	return balance, nil
}

// SyncAll refreshes every credential's balance and reports per-credential
// outcomes. A failure on one key does not stop the rest.
func (p *Pool) SyncAll(ctx context.Context) (*domain.SyncReport, error) {
	creds, err := p.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	report := &domain.SyncReport{}
	for _, cred := range creds {
		detail := domain.SyncDetail{CredentialID: cred.ID, Label: cred.Label}
		balance, err := p.SyncBalance(ctx, cred.ID)
		if err != nil {
			detail.Error = err.Error()
			report.Failed++
		} else {
			detail.Balance = balance
			report.Synced++
		}
		report.Details = append(report.Details, detail)
	}
	return report, nil
}

// Add registers a new credential, seeding its balance with a fresh sync
// against the provider.
func (p *Pool) Add(ctx context.Context, secret, label string, dailyLimit *int) (*domain.Credential, error) {
	if secret == "" {
		return nil, fmt.Errorf("credential secret is required")
	}
	balance, err := p.provider.QueryAccountBalance(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("verify new credential: %w", err)
	}
	cred := &domain.Credential{
		ID:               uuid.NewString(),
		Label:            label,
		Secret:           secret,
		RemainingCredits: balance,
		IsActive:         true,
		DailyLimit:       dailyLimit,
		LastResetDate:    p.today(),
	}
	if err := p.repo.Create(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	p.logger.Info().Str("credential_id", cred.ID).Str("label", label).Int("balance", balance).Msg("credential added")
	return cred, nil
}

// SetActive flips a credential's activity flag. Deactivation is the soft
// delete: history is never discarded.
func (p *Pool) SetActive(ctx context.Context, credentialID string, active bool) error {
	return p.repo.SetActive(ctx, credentialID, active)
}

// List returns the full pool.
func (p *Pool) List(ctx context.Context) ([]domain.Credential, error) {
	return p.repo.List(ctx)
}

func (p *Pool) today() time.Time {
	return p.now().UTC().Truncate(24 * time.Hour)
}
