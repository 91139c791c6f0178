package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phrazzld/analyze/internal/api"
	apiMiddleware "github.com/phrazzld/analyze/internal/api/middleware"
	"github.com/phrazzld/analyze/internal/api/shared"
	"github.com/phrazzld/analyze/internal/platform/metrics"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))
	r.Use(apiMiddleware.RequestLogger)
	r.Use(apiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{shared.TraceIDHeader, "Retry-After"},
		MaxAge:         300,
	}))

	api.NewAnalysisHandler(app.scheduler, app.status, app.logger).RegisterRoutes(r)

	if app.metricsRegistry != nil {
		r.Method(http.MethodGet, app.config.Metrics.Path, metrics.Handler(app.metricsRegistry))
	}

	return r
}
