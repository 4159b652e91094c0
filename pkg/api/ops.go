package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/ideahub/pkg/observability"
)

// NewOperationsRouter serves health probes and Prometheus metrics on the
// separate operations port
func NewOperationsRouter(checker *observability.HealthChecker, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	return router
}
