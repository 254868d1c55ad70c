package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"clipforge/internal/http/handlers"
	"clipforge/internal/middleware"
)

// NewRouter wires the REST surface over the handler app.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.JobsCreate)
		r.Get("/", app.JobsList)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", app.JobGet)
			r.Delete("/", app.JobDelete)
			r.Post("/extend", app.JobsExtend)
			r.Post("/poll", app.JobPoll)
			r.Get("/chain", app.JobChain)
		})
	})

	r.Route("/v1/credentials", func(r chi.Router) {
		r.Get("/", app.CredentialsList)
		r.Post("/", app.CredentialsAdd)
		r.Post("/sync", app.CredentialsSyncAll)
		r.Route("/{credential_id}", func(r chi.Router) {
			r.Patch("/active", app.CredentialSetActive)
			r.Post("/sync", app.CredentialSync)
		})
	})

	return r
}
