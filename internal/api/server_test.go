package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/auth"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/models"
	"github.com/jmylchreest/refyne-harvest/internal/navigator"
	"github.com/jmylchreest/refyne-harvest/internal/status"
)

const secret = "s3cret"

type fixedIdle time.Duration

func (f fixedIdle) IdleTime() time.Duration { return time.Duration(f) }

func newTestRouter(t *testing.T, cfg Config) (http.Handler, *status.Tracker, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tracker := status.NewTracker("run-1", cancel, logging.Discard())
	tracker.RunStarted("run-1", 2)
	tracker.SubjectFinished(navigator.Outcome{Index: 0, SubjectID: "1001", Status: navigator.StatusOK})
	tracker.SubjectFinished(navigator.Outcome{Index: 1, SubjectID: "1002", Status: navigator.StatusFailed, Stage: "target"})

	h, err := NewRouter(cfg, tracker, fixedIdle(1500*time.Millisecond), logging.Discard())
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return h, tracker, ctx
}

func token(t *testing.T, scopes ...string) string {
	t.Helper()
	v, err := auth.NewVerifier(secret)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := v.Issue("ops", scopes, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func do(h http.Handler, method, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestNewRouter_RequiresAuthConfig(t *testing.T) {
	if _, err := NewRouter(Config{}, status.NewTracker("r", nil, logging.Discard()), nil, logging.Discard()); err == nil {
		t.Error("expected error without secret or ALLOW_UNAUTHENTICATED")
	}
}

func TestHealth_IsPublic(t *testing.T) {
	h, _, _ := newTestRouter(t, Config{Secret: secret})

	rr := do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp models.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Phase != status.PhaseRunning || resp.IdleMS != 1500 || resp.RunID != "run-1" {
		t.Errorf("health = %+v", resp)
	}
}

func TestRunEndpoints(t *testing.T) {
	h, _, _ := newTestRouter(t, Config{Secret: secret})
	read := token(t, auth.ScopeRead)

	tests := []struct {
		name       string
		path       string
		authz      string
		wantStatus int
	}{
		{"status needs token", "/v1/run", "", http.StatusUnauthorized},
		{"status with token", "/v1/run", read, http.StatusOK},
		{"subjects wrong scope", "/v1/run/subjects", token(t, auth.ScopeCancel), http.StatusForbidden},
		{"subjects", "/v1/run/subjects", read, http.StatusOK},
		{"subjects bad filter", "/v1/run/subjects?status=maybe", read, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(h, http.MethodGet, tt.path, tt.authz); rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body)
			}
		})
	}

	rr := do(h, http.MethodGet, "/v1/run/subjects?status=failed", read)
	var list models.SubjectList
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || len(list.Subjects) != 1 || list.Subjects[0].SubjectID != "1002" {
		t.Errorf("failed subjects = %+v", list)
	}

	rr = do(h, http.MethodGet, "/v1/run", read)
	var run models.RunStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.RunID != "run-1" || run.Done != 2 || run.Failed != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestCancel(t *testing.T) {
	h, tracker, runCtx := newTestRouter(t, Config{Secret: secret})

	if rr := do(h, http.MethodPost, "/v1/run/cancel", token(t, auth.ScopeRead)); rr.Code != http.StatusForbidden {
		t.Errorf("read-only cancel status = %d, want 403", rr.Code)
	}
	if runCtx.Err() != nil {
		t.Fatal("run cancelled without scope")
	}

	rr := do(h, http.MethodPost, "/v1/run/cancel", token(t, auth.ScopeCancel))
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", rr.Code, rr.Body)
	}
	if runCtx.Err() == nil {
		t.Error("run context not cancelled")
	}
	if tracker.Running() {
		t.Error("tracker still running")
	}

	if rr := do(h, http.MethodPost, "/v1/run/cancel", token(t, auth.ScopeCancel)); rr.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rr.Code)
	}
}

func TestAllowUnauthenticated(t *testing.T) {
	h, _, _ := newTestRouter(t, Config{AllowUnauthenticated: true})
	if rr := do(h, http.MethodGet, "/v1/run", ""); rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h, _, _ := newTestRouter(t, Config{Secret: secret, RateLimit: 2})

	var last int
	for i := 0; i < 3; i++ {
		last = do(h, http.MethodGet, "/health", "").Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}
