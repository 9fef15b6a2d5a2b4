package handler

import (
	"net/http"

	"broadcaster/internal/service"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	healthService *service.HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(healthService *service.HealthChecker) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

// HandleHealth handles GET /health. Degraded and unhealthy both answer 503.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus, err := h.healthService.CheckHealth(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to perform health check")
		return
	}

	status := http.StatusOK
	if healthStatus.Status != service.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, healthStatus)
}
