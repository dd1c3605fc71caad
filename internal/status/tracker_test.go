package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/navigator"
	"github.com/jmylchreest/refyne-harvest/internal/store"
)

func feed(tr *Tracker) {
	tr.RunStarted("run-1", 3)
	tr.StateChanged(navigator.Transition{From: navigator.LoggedOut, To: navigator.LoggingIn, At: time.Now()})
	tr.StateChanged(navigator.Transition{From: navigator.LoggingIn, To: navigator.AtList, At: time.Now()})
	tr.SubjectFinished(navigator.Outcome{Index: 0, SubjectID: "1001", Status: navigator.StatusOK, Pages: 2, Duration: 1500 * time.Millisecond})
	tr.StateChanged(navigator.Transition{From: navigator.AtDetail, To: navigator.Recovering, Reason: "timeout", At: time.Now()})
	tr.SubjectFinished(navigator.Outcome{Index: 1, SubjectID: "1002", Status: navigator.StatusFailed, Stage: "target", Error: "timeout"})
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker("run-1", nil, logging.Discard())
	if got := tr.Snapshot().Phase; got != PhaseStarting {
		t.Errorf("initial phase = %q, want %q", got, PhaseStarting)
	}

	feed(tr)
	s := tr.Snapshot()

	if s.Phase != PhaseRunning || s.State != "recovering" {
		t.Errorf("phase/state = %s/%s", s.Phase, s.State)
	}
	if s.Total != 3 || s.Done != 2 || s.Succeeded != 1 || s.Failed != 1 || s.Recoveries != 1 {
		t.Errorf("counters = %+v", s)
	}
	if s.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", s.Remaining())
	}
	if len(s.RecentTransitions) != 3 || s.RecentTransitions[2].Reason != "timeout" {
		t.Errorf("transitions = %+v", s.RecentTransitions)
	}
	if s.FinishedAt != nil {
		t.Error("FinishedAt set before Finish")
	}
}

func TestTracker_TransitionsAreBounded(t *testing.T) {
	tr := NewTracker("run-1", nil, logging.Discard())
	for i := 0; i < maxTransitions+5; i++ {
		tr.StateChanged(navigator.Transition{From: navigator.AtList, To: navigator.AtDetail})
	}
	if got := len(tr.Snapshot().RecentTransitions); got != maxTransitions {
		t.Errorf("kept %d transitions, want %d", got, maxTransitions)
	}
}

func TestTracker_Outcomes(t *testing.T) {
	tr := NewTracker("run-1", nil, logging.Discard())
	feed(tr)

	tests := []struct {
		name          string
		status        string
		offset, limit int
		wantIDs       []string
		wantTotal     int
	}{
		{"all", "", 0, 0, []string{"1001", "1002"}, 2},
		{"failed only", navigator.StatusFailed, 0, 0, []string{"1002"}, 1},
		{"paged", "", 1, 1, []string{"1002"}, 2},
		{"offset past end", "", 5, 0, []string{}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total := tr.Outcomes(tt.status, tt.offset, tt.limit)
			ids := []string{}
			for _, o := range got {
				ids = append(ids, o.SubjectID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
		})
	}

	got, _ := tr.Outcomes("", 0, 1)
	if got[0].DurationMS != 1500 {
		t.Errorf("DurationMS = %d, want 1500", got[0].DurationMS)
	}
}

func TestTracker_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTracker("run-1", cancel, logging.Discard())
	tr.RunStarted("run-1", 1)

	if err := tr.Cancel("ops"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if ctx.Err() == nil {
		t.Error("run context not cancelled")
	}
	if tr.Running() {
		t.Error("Running() = true after cancel")
	}
	if err := tr.Cancel("ops"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Cancel() error = %v, want ErrNotRunning", err)
	}

	tr.Finish(&navigator.Summary{Final: navigator.Terminal}, context.Canceled)
	if got := tr.Snapshot().Phase; got != PhaseCancelled {
		t.Errorf("phase = %q, want cancelled", got)
	}
}

func TestTracker_Finish(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantPhase string
	}{
		{"clean", nil, PhaseFinished},
		{"fatal", errors.New("login exhausted"), PhaseFailed},
		{"interrupted", context.Canceled, PhaseCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("run-1", nil, logging.Discard())
			feed(tr)
			tr.Finish(&navigator.Summary{
				Total: 3, Succeeded: 2, Failed: 1, Recoveries: 1, Restarts: 1,
				Final: navigator.Terminal,
				Flush: &store.FlushResult{Subjects: 2, SubjectsPath: "out/pacientes.csv"},
			}, tt.err)

			s := tr.Snapshot()
			if s.Phase != tt.wantPhase {
				t.Errorf("phase = %q, want %q", s.Phase, tt.wantPhase)
			}
			if s.FinishedAt == nil || s.Restarts != 1 || s.Succeeded != 2 {
				t.Errorf("snapshot = %+v", s)
			}
			if s.Flush == nil || s.Flush.SubjectsPath != "out/pacientes.csv" {
				t.Errorf("flush = %+v", s.Flush)
			}
			if tr.Running() {
				t.Error("Running() = true after Finish")
			}
		})
	}
}
