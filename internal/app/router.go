package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/readerly/readerly/internal/activity"
	"github.com/readerly/readerly/internal/clubs"
	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/observability"
	"github.com/readerly/readerly/internal/roles"
	"github.com/readerly/readerly/internal/shared"
	"github.com/readerly/readerly/internal/tiers"
	"github.com/readerly/readerly/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AdminAuth          *shared.AdminAuth
	EntitlementHandler *entitlement.Handler
	RolesHandler       *roles.Handler
	TiersHandler       *tiers.Handler
	ClubsHandler       *clubs.Handler
	ActivityHandler    *activity.Handler
	JobsHandler        *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Readerly defaults. Read
// surfaces and member actions are open; role and tier mutations plus
// the activity timeline sit behind the admin token.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		if params.EntitlementHandler != nil {
			params.EntitlementHandler.MountRoutes(r)
		}
		if params.ClubsHandler != nil {
			params.ClubsHandler.MountRoutes(r)
		}
		r.Group(func(r chi.Router) {
			if params.AdminAuth != nil {
				r.Use(params.AdminAuth.Middleware)
			}
			if params.EntitlementHandler != nil {
				params.EntitlementHandler.MountAdminRoutes(r)
			}
			if params.RolesHandler != nil {
				params.RolesHandler.MountRoutes(r)
			}
			if params.TiersHandler != nil {
				params.TiersHandler.MountRoutes(r)
			}
			if params.ActivityHandler != nil {
				params.ActivityHandler.MountRoutes(r)
			}
			if params.JobsHandler != nil {
				params.JobsHandler.MountRoutes(r)
			}
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
