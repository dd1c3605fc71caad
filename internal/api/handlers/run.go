package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/refyne-harvest/internal/http/mw"
	"github.com/jmylchreest/refyne-harvest/internal/models"
	"github.com/jmylchreest/refyne-harvest/internal/navigator"
	"github.com/jmylchreest/refyne-harvest/internal/status"
)

// SubjectsInput are the query parameters of the subject listing.
type SubjectsInput struct {
	Status string `query:"status" doc:"Filter by outcome: ok or failed"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Outcomes to skip"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"100" doc:"Maximum outcomes returned"`
}

// RunHandler serves the run status and control endpoints.
type RunHandler struct {
	tracker *status.Tracker
	logger  *slog.Logger
}

// NewRunHandler creates a new run handler.
func NewRunHandler(tracker *status.Tracker, logger *slog.Logger) *RunHandler {
	return &RunHandler{tracker: tracker, logger: logger.With("component", "run-handler")}
}

// Status returns a snapshot of the run.
func (h *RunHandler) Status(ctx context.Context, _ *struct{}) (*models.HumaRunStatus, error) {
	return &models.HumaRunStatus{Body: h.tracker.Snapshot()}, nil
}

// Subjects lists processed subjects.
func (h *RunHandler) Subjects(ctx context.Context, input *SubjectsInput) (*models.HumaSubjectList, error) {
	switch input.Status {
	case "", navigator.StatusOK, navigator.StatusFailed:
	default:
		return nil, huma.Error400BadRequest("status must be ok or failed")
	}
	outcomes, total := h.tracker.Outcomes(input.Status, input.Offset, input.Limit)
	return &models.HumaSubjectList{Body: models.SubjectList{Subjects: outcomes, Total: total}}, nil
}

// Cancel stops the run after the current step.
func (h *RunHandler) Cancel(ctx context.Context, _ *struct{}) (*models.HumaCancelResponse, error) {
	by := "unknown"
	if claims := mw.GetOperatorClaims(ctx); claims != nil {
		by = claims.Subject
	}
	snap := h.tracker.Snapshot()

	if err := h.tracker.Cancel(by); err != nil {
		if errors.Is(err, status.ErrNotRunning) {
			return nil, huma.Error409Conflict("run is not in progress")
		}
		return nil, huma.Error500InternalServerError("failed to cancel run", err)
	}
	h.logger.Info("cancel requested", "run_id", snap.RunID, "by", by)
	return &models.HumaCancelResponse{Body: models.CancelResponse{
		Status:  "cancelling",
		Message: "run will stop after flushing collected records",
		RunID:   snap.RunID,
	}}, nil
}
