package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/version"
)

// ReadinessCheck probes one dependency for readiness.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	startedAt time.Time
	checks    []ReadinessCheck
}

// NewHealthHandler creates a new health handler over the given
// dependency checks.
func NewHealthHandler(checks ...ReadinessCheck) *HealthHandler {
	return &HealthHandler{
		startedAt: time.Now(),
		checks:    checks,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	failures := h.runChecks(r.Context())
	if len(failures) > 0 {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":    false,
			"failures": failures,
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	failures := h.runChecks(r.Context())

	checks := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		checks[check.Name] = "ok"
	}
	for name, reason := range failures {
		checks[name] = reason
	}

	status := "ok"
	if len(failures) > 0 {
		status = "degraded"
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        version.Info(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"checks":         checks,
	})
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]string {
	failures := make(map[string]string)
	for _, check := range h.checks {
		if check.Check == nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := check.Check(checkCtx); err != nil {
			failures[check.Name] = err.Error()
		}
		cancel()
	}
	return failures
}
