package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clipforge/internal/domain"
)

type credentialAddRequest struct {
	Secret     string `json:"secret"`
	Label      string `json:"label"`
	DailyLimit *int   `json:"daily_limit"`
}

type credentialActiveRequest struct {
	Active bool `json:"active"`
}

// credentialView never exposes the secret.
type credentialView struct {
	ID               string     `json:"id"`
	Label            string     `json:"label"`
	RemainingCredits int        `json:"remaining_credits"`
	ReservedCredits  int        `json:"reserved_credits"`
	AvailableCredits int        `json:"available_credits"`
	IsActive         bool       `json:"is_active"`
	DailyLimit       *int       `json:"daily_limit,omitempty"`
	UsesToday        int        `json:"uses_today"`
	TotalUses        int        `json:"total_uses"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func credentialViewOf(cred *domain.Credential) credentialView {
	return credentialView{
		ID:               cred.ID,
		Label:            cred.Label,
		RemainingCredits: cred.RemainingCredits,
		ReservedCredits:  cred.ReservedCredits,
		AvailableCredits: cred.AvailableCredits(),
		IsActive:         cred.IsActive,
		DailyLimit:       cred.DailyLimit,
		UsesToday:        cred.UsesToday,
		TotalUses:        cred.TotalUses,
		LastUsedAt:       cred.LastUsedAt,
		CreatedAt:        cred.CreatedAt,
	}
}

// CredentialsList returns the whole pool, inactive keys included.
func (a *App) CredentialsList(w http.ResponseWriter, r *http.Request) {
	creds, err := a.Pool.List(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	views := make([]credentialView, 0, len(creds))
	for i := range creds {
		views = append(views, credentialViewOf(&creds[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"credentials": views})
}

// CredentialsAdd registers a new provider key, verifying it with a balance
// sync before it joins the pool.
func (a *App) CredentialsAdd(w http.ResponseWriter, r *http.Request) {
	var req credentialAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Secret == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "secret is required")
		return
	}
	if req.DailyLimit != nil && *req.DailyLimit <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "daily_limit must be positive")
		return
	}
	cred, err := a.Pool.Add(r.Context(), req.Secret, req.Label, req.DailyLimit)
	if err != nil {
		a.error(w, http.StatusBadGateway, "credential_rejected", err.Error())
		return
	}
	a.json(w, http.StatusCreated, credentialViewOf(cred))
}

// CredentialSetActive flips the activity flag; deactivation retires a key
// without losing its history.
func (a *App) CredentialSetActive(w http.ResponseWriter, r *http.Request) {
	var req credentialActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Pool.SetActive(r.Context(), chi.URLParam(r, "credential_id"), req.Active); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CredentialSync refreshes one credential's balance from the provider.
func (a *App) CredentialSync(w http.ResponseWriter, r *http.Request) {
	balance, err := a.Pool.SyncBalance(r.Context(), chi.URLParam(r, "credential_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]int{"remaining_credits": balance})
}

// CredentialsSyncAll refreshes every credential and reports per-key results.
func (a *App) CredentialsSyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := a.Pool.SyncAll(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, report)
}
