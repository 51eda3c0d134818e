package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/lexigen/internal/api"
	apiMiddleware "github.com/phrazzld/lexigen/internal/api/middleware"
	"github.com/phrazzld/lexigen/internal/provider"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	// A nil *selector.Selector must not become a non-nil interface.
	var lookuper api.Lookuper
	if app.selector != nil {
		lookuper = app.selector
	}

	generateHandler := api.NewGenerateHandler(app.dispatcher, lookuper, app.deferred)
	jobHandler := api.NewJobHandler(app.jobs)
	providerHandler := api.NewProviderHandler(func() []provider.Provider { return app.dispatcher.Providers() })
	usageHandler := api.NewUsageHandler(app.governor, app.cache.Stats)
	deferredHandler := api.NewDeferredHandler(app.deferred)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/generate", generateHandler.Generate)
		r.Post("/lookup", generateHandler.Lookup)

		r.Post("/jobs", jobHandler.Enqueue)
		r.Get("/jobs", jobHandler.Status)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Post("/jobs/{id}/retry", jobHandler.Retry)

		r.Get("/providers", providerHandler.List)
		r.Get("/usage", usageHandler.Usage)
		r.Get("/alerts", usageHandler.Alerts)

		r.Get("/deferred", deferredHandler.List)
		r.Delete("/deferred/{id}", deferredHandler.Delete)

		r.Get("/events", app.hub.ServeHTTP)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
