// Package api provides HTTP API server components.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagaflow/sagaflow/config"
	"github.com/sagaflow/sagaflow/pkg/api/handlers"
	"github.com/sagaflow/sagaflow/pkg/api/middleware"
	"github.com/sagaflow/sagaflow/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Saga handles saga lifecycle endpoints
	Saga *handlers.SagaHandler

	// Stream handles per-saga SSE streams
	Stream *handlers.StreamHandler

	// WebSocket handles the live event websocket
	WebSocket *handlers.WebSocketHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))

	// Register routes
	RegisterRoutes(r, handlers, cfg.Server.HTTP.ReadTimeout)

	return r
}

// RegisterRoutes registers all API routes. The timeout applies to
// request/response endpoints; streaming routes are exempt.
func RegisterRoutes(r chi.Router, handlers *Handlers, requestTimeout time.Duration) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Saga != nil {
			r.Group(func(r chi.Router) {
				if requestTimeout > 0 {
					r.Use(middleware.Timeout(requestTimeout))
				}
				r.Post("/sagas", handlers.Saga.StartSaga)
				r.Get("/sagas", handlers.Saga.ListSagas)
				r.Get("/sagas/{id}", handlers.Saga.GetSaga)
				r.Get("/sagas/{id}/events", handlers.Saga.GetSagaEvents)
				r.Get("/saga-types", handlers.Saga.ListSagaTypes)
			})
		}
		if handlers.Stream != nil {
			r.Get("/sagas/{id}/stream", handlers.Stream.StreamSaga)
		}
	})

	// Live event stream over websocket
	if handlers.WebSocket != nil {
		r.Get("/ws/events", handlers.WebSocket.ServeHTTP)
	}

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}
}
