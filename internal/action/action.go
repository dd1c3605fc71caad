// Package action performs single UI actions against a located target with
// scroll-into-view, scripted-click fallback and bounded retries.
package action

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
	"github.com/jmylchreest/refyne-harvest/internal/locator"
)

// Kind is the type of UI action.
type Kind int

const (
	Click Kind = iota
	Type
	WaitFor
)

func (k Kind) String() string {
	switch k {
	case Click:
		return "click"
	case Type:
		return "type"
	case WaitFor:
		return "wait_for"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a recipe step name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "click", "":
		return Click, nil
	case "type", "input":
		return Type, nil
	case "wait", "wait_for", "waitfor":
		return WaitFor, nil
	}
	return 0, fmt.Errorf("unknown action kind %q", name)
}

// Action is one UI action on a logical target.
type Action struct {
	Kind   Kind
	Target locator.Spec
	Value  string // text for Type
}

// FailureKind classifies why an action failed.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNotFound
	FailureStale
	FailureIntercepted
	FailureTimeout
)

func (f FailureKind) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureNotFound:
		return "not_found"
	case FailureStale:
		return "stale"
	case FailureIntercepted:
		return "intercepted"
	case FailureTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("failure(%d)", int(f))
	}
}

// Result is the outcome of one Perform call.
type Result struct {
	Success bool
	// StrategyIndex is the locator index that resolved the target on the
	// final attempt, or nil if it was never resolved.
	StrategyIndex *int
	Failure       FailureKind
	Attempts      int
	Err           error
}

// Error converts a failed result into an *Error, or nil on success.
func (r Result) Error(target string) error {
	if r.Success {
		return nil
	}
	return &Error{Target: target, Kind: r.Failure, Attempts: r.Attempts, Err: r.Err}
}

// Error is a failed action. errors.Is matches the browser sentinel for its kind.
type Error struct {
	Target   string
	Kind     FailureKind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("action on %q failed (%s after %d attempts): %v", e.Target, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch e.Kind {
	case FailureNotFound:
		return target == browser.ErrNotFound || target == locator.ErrNotFound
	case FailureStale:
		return target == browser.ErrStale
	case FailureIntercepted:
		return target == browser.ErrIntercepted
	case FailureTimeout:
		return target == browser.ErrTimeout
	}
	return false
}

// Classify maps an error from the browser layer onto a FailureKind.
// Errors it does not recognise are treated as Timeout so they are not retried.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, browser.ErrStale):
		return FailureStale
	case errors.Is(err, browser.ErrIntercepted):
		return FailureIntercepted
	case errors.Is(err, browser.ErrNotFound), errors.Is(err, locator.ErrNotFound):
		return FailureNotFound
	default:
		return FailureTimeout
	}
}
