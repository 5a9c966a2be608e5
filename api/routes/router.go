package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-compliance/api/controllers"
	"github.com/angelmondragon/packfinderz-compliance/api/middleware"
	"github.com/angelmondragon/packfinderz-compliance/pkg/config"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
)

// NewRouter serves the worker probes and the Prometheus registry.
func NewRouter(cfg *config.Config, logg *logger.Logger, checks map[string]controllers.Pinger, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
