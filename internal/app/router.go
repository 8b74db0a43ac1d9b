package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/analytics"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/connection"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/ledgersync"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/observability"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/schedule"
	"github.com/hiltonbrown/ledgerbot-sub004/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AnalyticsHandler  *analytics.Handler
	ScheduleHandler   *schedule.Handler
	SyncHandler       *ledgersync.Handler
	ConnectionHandler *connection.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
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

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireUser(params.Logger))

		if params.AnalyticsHandler != nil {
			r.Route("/reports", params.AnalyticsHandler.MountRoutes)
		}
		if params.ScheduleHandler != nil {
			r.Route("/payment-schedule", params.ScheduleHandler.MountRoutes)
		}
		if params.SyncHandler != nil {
			r.Route("/sync", params.SyncHandler.MountRoutes)
		}
		if params.ConnectionHandler != nil {
			r.Route("/connection", params.ConnectionHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
