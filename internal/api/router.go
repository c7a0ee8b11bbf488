package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/faultline-dev/faultline/internal/api/middleware"
	"github.com/faultline-dev/faultline/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	DSNAuth   *mw.DSNAuth
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	StoreHandler    http.HandlerFunc
	SecurityHandler http.HandlerFunc

	CreateProject http.HandlerFunc
	CreateAPIKey  http.HandlerFunc
	ListIssues    http.HandlerFunc
	GetIssue      http.HandlerFunc
	UpdateIssue   http.HandlerFunc
	ListEvents    http.HandlerFunc
	GetEvent      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Event submission, authenticated by DSN key
	r.Group(func(r chi.Router) {
		r.Use(deps.DSNAuth.Authenticate)
		r.Use(deps.RateLimit.LimitIngest)

		r.Post("/api/{projectID}/store/", orNotImplemented(deps.StoreHandler))
		r.Post("/api/{projectID}/security/", orNotImplemented(deps.SecurityHandler))
	})

	// Management API, authenticated by bearer API key
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.LimitAPI)

		r.Get("/api/v1/projects/{projectID}/issues", orNotImplemented(deps.ListIssues))
		r.Get("/api/v1/issues/{issueID}", orNotImplemented(deps.GetIssue))
		r.Put("/api/v1/issues/{issueID}", orNotImplemented(deps.UpdateIssue))
		r.Get("/api/v1/issues/{issueID}/events", orNotImplemented(deps.ListEvents))
		r.Get("/api/v1/events/{eventID}", orNotImplemented(deps.GetEvent))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/projects", orNotImplemented(deps.CreateProject))
			r.Post("/api/v1/keys", orNotImplemented(deps.CreateAPIKey))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
