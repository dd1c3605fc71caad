// Package handlers provides HTTP handlers for the status API.
package handlers

import (
	"context"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/models"
	"github.com/jmylchreest/refyne-harvest/internal/status"
	"github.com/jmylchreest/refyne-harvest/internal/version"
)

// Idler reports how long the run has gone without progress.
type Idler interface {
	IdleTime() time.Duration
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	tracker *status.Tracker
	idle    Idler
}

// NewHealthHandler creates a new health handler. idle may be nil.
func NewHealthHandler(tracker *status.Tracker, idle Idler) *HealthHandler {
	return &HealthHandler{tracker: tracker, idle: idle}
}

// Handle returns the health status.
func (h *HealthHandler) Handle(ctx context.Context) *models.HealthResponse {
	snap := h.tracker.Snapshot()

	resp := &models.HealthResponse{
		Status:  "healthy",
		Version: version.Get().Version,
		RunID:   snap.RunID,
		Phase:   snap.Phase,
	}
	if h.idle != nil {
		resp.IdleMS = h.idle.IdleTime().Milliseconds()
	}
	if snap.Phase == status.PhaseFailed {
		resp.Status = "degraded"
	}
	return resp
}
