package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/qualitygate/internal/infra/http/handler"
)

// RegisterRoutes registers the health and metrics endpoints.
// A nil metrics handler serves the default Prometheus registry.
func RegisterRoutes(r Router, health *handler.HealthHandler, metrics http.Handler) {
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", metrics.ServeHTTP)
}
