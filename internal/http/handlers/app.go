package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"clipforge/internal/credential"
	"clipforge/internal/dispatch"
	"clipforge/internal/domain"
	"clipforge/internal/infra"
	"clipforge/internal/statuscache"
)

// App bundles the handler dependencies. Callers are assumed to be
// authenticated upstream; the handlers only translate HTTP to core calls.
type App struct {
	Logger     infra.Logger
	Dispatcher *dispatch.Dispatcher
	Extensions *dispatch.ExtensionResolver
	Reconciler *dispatch.Reconciler
	Pool       *credential.Pool
	Jobs       domain.JobRepository
	Cache      *statuscache.Cache
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: msg}})
}

// domainError maps core sentinel errors onto distinguishable HTTP outcomes:
// validation mistakes, pool exhaustion (retry later), and provider faults
// each get their own code so the dashboard can phrase them differently.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownEngine),
		errors.Is(err, domain.ErrUnsupportedDuration),
		errors.Is(err, domain.ErrInvalidParams):
		a.error(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNoCredentialAvailable):
		a.error(w, http.StatusServiceUnavailable, "no_credential_available", "credential pool exhausted, try again later")
	case errors.Is(err, domain.ErrProviderSubmission):
		a.error(w, http.StatusBadGateway, "provider_submission_failed", err.Error())
	case errors.Is(err, domain.ErrSourceNotReady):
		a.error(w, http.StatusConflict, "source_not_ready", err.Error())
	case errors.Is(err, domain.ErrNoExtractableFrame):
		a.error(w, http.StatusConflict, "no_extractable_frame", err.Error())
	case errors.Is(err, domain.ErrJobNotTerminal):
		a.error(w, http.StatusConflict, "job_not_terminal", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	default:
		a.Logger.Error().Err(err).Msg("unhandled handler error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
