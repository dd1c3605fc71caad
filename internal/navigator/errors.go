package navigator

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptchaRejected means the portal refused the captcha answer.
	ErrCaptchaRejected = errors.New("captcha rejected")
	// ErrCaptchaUnsolved means no solver produced an answer.
	ErrCaptchaUnsolved = errors.New("captcha not solved")
	// ErrLoginRejected means the portal refused the credentials.
	ErrLoginRejected = errors.New("login rejected")
	// ErrLoginExhausted means every login attempt failed on the captcha.
	ErrLoginExhausted = errors.New("login attempts exhausted")
	// ErrLandingTimeout means neither the landing page nor an error appeared.
	ErrLandingTimeout = errors.New("landing page did not appear")
	// ErrListUnavailable means the subject list could not be shown.
	ErrListUnavailable = errors.New("subject list unavailable")
	// ErrRecoveryFailed means every recovery step failed.
	ErrRecoveryFailed = errors.New("recovery failed")
)

// Stages recorded with subject failures.
const (
	StageOpenRow = "open_row"
	StageTarget  = "target"
	StageReturn  = "return"
	StageInfer   = "infer"
	StageSink    = "sink"
)

// Log stages that are not failure stages.
const (
	StageLogin   = "login"
	StageList    = "list"
	StageExtract = "extract"
)

// NavError is a failed navigator step.
type NavError struct {
	Op        string
	State     State
	SubjectID string
	Err       error
}

func (e *NavError) Error() string {
	if e.SubjectID != "" {
		return fmt.Sprintf("%s failed in %s for subject %s: %v", e.Op, e.State, e.SubjectID, e.Err)
	}
	return fmt.Sprintf("%s failed in %s: %v", e.Op, e.State, e.Err)
}

func (e *NavError) Unwrap() error { return e.Err }

// stageOf returns the stage recorded for err, or "navigate".
func stageOf(err error) string {
	var ne *NavError
	if errors.As(err, &ne) {
		return ne.Op
	}
	return "navigate"
}
