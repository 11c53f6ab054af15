package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	db    HealthChecker
	cache HealthChecker
	// driver labels the database check, e.g. "postgres".
	driver string
}

// NewHealthHandler creates a new HealthHandler.
// Pass nil for cache when rate limiting runs without Redis.
func NewHealthHandler(driver string, db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, driver: driver}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is a liveness probe. It never touches dependencies.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz is a readiness probe; it returns 200 only if the database answers.
// Redis is optional: a failing cache is reported but only degrades readiness
// to "degraded", since rate limiting fails open.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := "ok"
	statusCode := http.StatusOK

	name := h.driver
	if name == "" {
		name = "database"
	}
	switch {
	case h.db == nil:
		checks[name] = "not configured"
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case h.db.Ping(ctx) != nil:
		checks[name] = "error"
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	default:
		checks[name] = "ok"
	}

	switch {
	case h.cache == nil:
		checks["redis"] = "not configured"
	case h.cache.Ping(ctx) != nil:
		checks["redis"] = "error"
		if status == "ok" {
			status = "degraded"
		}
	default:
		checks["redis"] = "ok"
	}

	writeJSON(w, statusCode, HealthResponse{Status: status, Checks: checks})
}
