package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/payments"
	"github.com/duepilot/duepilot/internal/plan"
)

// RouteMounter attaches a set of routes to a subrouter.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *config.Config
	PlanHandler     *plan.Handler
	PaymentsHandler *payments.Handler
	JobHandler      RouteMounter
}

// NewRouter constructs the chi.Router with DuePilot defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if params.PlanHandler != nil {
		params.PlanHandler.RegisterRoutes(r)
	}
	if params.PaymentsHandler != nil {
		params.PaymentsHandler.RegisterRoutes(r, WebhookLimiter(params.Config))
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(jr chi.Router) {
			params.JobHandler.MountRoutes(jr)
		})
	}

	return r
}
