// Package status tracks the progress of a harvest run for the status API.
package status

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/models"
	"github.com/jmylchreest/refyne-harvest/internal/navigator"
	"github.com/jmylchreest/refyne-harvest/internal/version"
)

// Run phases.
const (
	PhaseStarting  = "starting"
	PhaseRunning   = "running"
	PhaseFinished  = "finished"
	PhaseCancelled = "cancelled"
	PhaseFailed    = "failed"
)

// maxTransitions bounds the transitions kept for the snapshot.
const maxTransitions = 20

// ErrNotRunning is returned by Cancel once the run has ended.
var ErrNotRunning = errors.New("run is not in progress")

// Tracker records navigator events. It implements navigator.Progress.
type Tracker struct {
	mu          sync.RWMutex
	runID       string
	phase       string
	state       navigator.State
	startedAt   time.Time
	finishedAt  time.Time
	total       int
	succeeded   int
	failed      int
	recoveries  int
	restarts    int
	errMsg      string
	flush       *models.FlushInfo
	transitions []models.TransitionInfo
	outcomes    []models.SubjectOutcome

	cancel context.CancelFunc
	logger *slog.Logger
}

// NewTracker creates a tracker for runID. cancel stops the run.
func NewTracker(runID string, cancel context.CancelFunc, logger *slog.Logger) *Tracker {
	return &Tracker{
		runID:     runID,
		phase:     PhaseStarting,
		state:     navigator.LoggedOut,
		startedAt: time.Now(),
		cancel:    cancel,
		logger:    logger.With("component", "tracker"),
	}
}

// RunStarted records the number of subjects to process.
func (t *Tracker) RunStarted(runID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = runID
	t.total = total
	if t.phase == PhaseStarting {
		t.phase = PhaseRunning
	}
}

// StateChanged records a navigator transition.
func (t *Tracker) StateChanged(tr navigator.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = tr.To
	if tr.To == navigator.Recovering {
		t.recoveries++
	}
	t.transitions = append(t.transitions, models.TransitionInfo{
		From:   tr.From.String(),
		To:     tr.To.String(),
		Reason: tr.Reason,
		At:     tr.At,
	})
	if n := len(t.transitions); n > maxTransitions {
		t.transitions = append([]models.TransitionInfo(nil), t.transitions[n-maxTransitions:]...)
	}
}

// SubjectFinished records the outcome of one subject.
func (t *Tracker) SubjectFinished(o navigator.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o.Status == navigator.StatusOK {
		t.succeeded++
	} else {
		t.failed++
	}
	t.outcomes = append(t.outcomes, models.SubjectOutcome{
		Index:      o.Index,
		SubjectID:  o.SubjectID,
		Status:     o.Status,
		Stage:      o.Stage,
		Error:      o.Error,
		Pages:      o.Pages,
		DurationMS: o.Duration.Milliseconds(),
		FinishedAt: o.FinishedAt,
	})
}

// Finish records the end of the run.
func (t *Tracker) Finish(sum *navigator.Summary, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishedAt = time.Now()

	switch {
	case t.phase == PhaseCancelled, errors.Is(err, context.Canceled):
		t.phase = PhaseCancelled
	case err != nil:
		t.phase = PhaseFailed
	default:
		t.phase = PhaseFinished
	}
	if err != nil {
		t.errMsg = err.Error()
	}

	if sum == nil {
		return
	}
	t.state = sum.Final
	t.total = sum.Total
	t.succeeded = sum.Succeeded
	t.failed = sum.Failed
	t.recoveries = sum.Recoveries
	t.restarts = sum.Restarts
	if f := sum.Flush; f != nil {
		t.flush = &models.FlushInfo{
			Subjects:     f.Subjects,
			Details:      f.Details,
			SubjectsPath: f.SubjectsPath,
			DetailsPath:  f.DetailsPath,
			Uploaded:     f.Uploaded,
		}
	}
}

// Cancel stops the run. The navigator still flushes what it has.
func (t *Tracker) Cancel(by string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.phase {
	case PhaseStarting, PhaseRunning:
	default:
		return ErrNotRunning
	}
	t.phase = PhaseCancelled
	t.logger.Info("run cancelled via status API", "run_id", t.runID, "by", by)
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// Running reports whether the run is still in progress.
func (t *Tracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase == PhaseStarting || t.phase == PhaseRunning
}

// Snapshot returns the current run status.
func (t *Tracker) Snapshot() models.RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := models.RunStatus{
		RunID:             t.runID,
		Phase:             t.phase,
		State:             t.state.String(),
		StartedAt:         t.startedAt,
		Total:             t.total,
		Done:              len(t.outcomes),
		Succeeded:         t.succeeded,
		Failed:            t.failed,
		Recoveries:        t.recoveries,
		Restarts:          t.restarts,
		Error:             t.errMsg,
		Flush:             t.flush,
		RecentTransitions: append([]models.TransitionInfo{}, t.transitions...),
		Version:           version.Get().Version,
	}
	if !t.finishedAt.IsZero() {
		at := t.finishedAt
		s.FinishedAt = &at
	}
	return s
}

// Outcomes returns subject outcomes, optionally filtered by status, paged
// by offset and limit. The second result is the filtered total.
func (t *Tracker) Outcomes(status string, offset, limit int) ([]models.SubjectOutcome, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	filtered := make([]models.SubjectOutcome, 0, len(t.outcomes))
	for _, o := range t.outcomes {
		if status == "" || o.Status == status {
			filtered = append(filtered, o)
		}
	}
	total := len(filtered)
	if offset > total {
		offset = total
	}
	filtered = filtered[offset:]
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, total
}
