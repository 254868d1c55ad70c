package domain

import "time"

// Credential is one provider API key in the pool, with its locally tracked
// credit accounting. The secret itself is opaque to the core: it is stored
// and forwarded to the provider, never inspected.
type Credential struct {
	ID               string
	Label            string
	Secret           string
	RemainingCredits int
	ReservedCredits  int
	IsActive         bool
	DailyLimit       *int
	UsesToday        int
	LastResetDate    time.Time
	TotalUses        int
	LastUsedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailableCredits is the headroom usable for new work: the synced balance
// minus the amount held by in-flight reservations.
func (c Credential) AvailableCredits() int {
	return c.RemainingCredits - c.ReservedCredits
}

// WithinDailyLimit reports whether the credential may be used again today.
func (c Credential) WithinDailyLimit() bool {
	if c.DailyLimit == nil {
		return true
	}
	return c.UsesToday < *c.DailyLimit
}

// SettleOutcome says how a reservation is finalized.
type SettleOutcome string

const (
	// SettleSuccess commits the reservation as spent credits.
	SettleSuccess SettleOutcome = "success"
	// SettleFailure releases the reservation without charging.
	SettleFailure SettleOutcome = "failure"
)

// SyncReport summarizes a pool-wide balance sync.
type SyncReport struct {
	Synced  int
	Failed  int
	Details []SyncDetail
}

// SyncDetail is the per-credential outcome of a balance sync.
type SyncDetail struct {
	CredentialID string
	Label        string
	Balance      int
	Error        string
}
