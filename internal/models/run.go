// Package models holds the wire types of the status API.
package models

import "time"

// TransitionInfo is one navigator state change.
type TransitionInfo struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// SubjectOutcome is the result of one processed subject.
type SubjectOutcome struct {
	Index      int       `json:"index"`
	SubjectID  string    `json:"subjectId"`
	Status     string    `json:"status"`                    // "ok" | "failed"
	Stage      string    `json:"stage,omitempty"`           // failing stage
	Error      string    `json:"error,omitempty"`
	Pages      int       `json:"pages"`
	DurationMS int64     `json:"durationMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

// FlushInfo describes the written output tables.
type FlushInfo struct {
	Subjects     int    `json:"subjects"`
	Details      int    `json:"details"`
	SubjectsPath string `json:"subjectsPath"`
	DetailsPath  string `json:"detailsPath"`
	Uploaded     bool   `json:"uploaded"`
}

// RunStatus is a snapshot of the current run.
type RunStatus struct {
	RunID      string     `json:"runId"`
	Phase      string     `json:"phase"` // "starting" | "running" | "finished" | "cancelled" | "failed"
	State      string     `json:"state"` // navigator state
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Total      int        `json:"total"`
	Done       int        `json:"done"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Recoveries int        `json:"recoveries"`
	Restarts   int        `json:"restarts"`
	Error      string     `json:"error,omitempty"`
	Flush      *FlushInfo `json:"flush,omitempty"`

	RecentTransitions []TransitionInfo `json:"recentTransitions"`
	Version           string           `json:"version"`
}

// Remaining returns how many subjects are still to be processed.
func (s *RunStatus) Remaining() int {
	if r := s.Total - s.Done; r > 0 {
		return r
	}
	return 0
}

// SubjectList is a page of subject outcomes.
type SubjectList struct {
	Subjects []SubjectOutcome `json:"subjects"`
	Total    int              `json:"total"`
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	Status  string `json:"status"` // "cancelling" | "not_running"
	Message string `json:"message"`
	RunID   string `json:"runId"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	RunID   string `json:"runId,omitempty"`
	Phase   string `json:"phase"`
	IdleMS  int64  `json:"idleMs"` // time since the last navigator progress
}

// HumaRunStatus wraps RunStatus for Huma API.
type HumaRunStatus struct {
	Body RunStatus
}

// HumaSubjectList wraps SubjectList for Huma API.
type HumaSubjectList struct {
	Body SubjectList
}

// HumaCancelResponse wraps CancelResponse for Huma API.
type HumaCancelResponse struct {
	Body CancelResponse
}

// HumaHealthResponse wraps HealthResponse for Huma API.
type HumaHealthResponse struct {
	Body HealthResponse
}
