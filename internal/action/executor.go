package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
	"github.com/jmylchreest/refyne-harvest/internal/locator"
)

// Sweeper clears overlays that intercept clicks.
type Sweeper interface {
	Sweep(ctx context.Context, page browser.Page) bool
}

// Options configures an Executor.
type Options struct {
	Timeout    time.Duration // budget for resolving the target on each attempt
	Retries    int           // total attempts for Stale/Intercepted failures
	RetryDelay time.Duration
	Settle     time.Duration // pause after scrolling the target into view
}

// DefaultOptions returns the default executor settings.
func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		Retries:    3,
		RetryDelay: 500 * time.Millisecond,
		Settle:     300 * time.Millisecond,
	}
}

// Executor performs actions against a page.
type Executor struct {
	resolver *locator.Resolver
	sweeper  Sweeper
	opts     Options
	logger   *slog.Logger
}

// NewExecutor creates an executor. sweeper may be nil.
func NewExecutor(resolver *locator.Resolver, sweeper Sweeper, opts Options, logger *slog.Logger) *Executor {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	return &Executor{
		resolver: resolver,
		sweeper:  sweeper,
		opts:     opts,
		logger:   logger.With("component", "action"),
	}
}

// Perform runs a single action. Stale and Intercepted failures are retried up
// to Options.Retries attempts with a fixed delay; each retry re-resolves the
// target. NotFound and Timeout end the action immediately.
func (e *Executor) Perform(ctx context.Context, page browser.Page, a Action) Result {
	var res Result

	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		res.Attempts = attempt

		if err := ctx.Err(); err != nil {
			res.Failure, res.Err = FailureTimeout, err
			return res
		}

		el, idx, err := e.resolver.Resolve(ctx, page, a.Target, e.opts.Timeout)
		if err != nil {
			res.Failure, res.Err = Classify(err), err
			if ctx.Err() != nil {
				res.Failure = FailureTimeout
			}
			return res
		}
		res.StrategyIndex = &idx

		err = e.attempt(ctx, page, el, a)
		if err == nil {
			res.Success, res.Failure, res.Err = true, FailureNone, nil
			return res
		}

		res.Failure, res.Err = Classify(err), err
		if ctx.Err() != nil {
			res.Failure, res.Err = FailureTimeout, ctx.Err()
			return res
		}

		switch res.Failure {
		case FailureStale:
			e.logger.Debug("target went stale, re-resolving",
				"target", a.Target.Name(), "action", a.Kind.String(), "attempt", attempt)
		case FailureIntercepted:
			e.logger.Debug("target intercepted, sweeping overlays",
				"target", a.Target.Name(), "action", a.Kind.String(), "attempt", attempt)
		default:
			e.logger.Warn("action failed",
				"target", a.Target.Name(), "action", a.Kind.String(), "failure", res.Failure.String(), "error", err)
			return res
		}

		if attempt == e.opts.Retries {
			break
		}
		if !e.wait(ctx, e.opts.RetryDelay) {
			res.Failure, res.Err = FailureTimeout, ctx.Err()
			return res
		}
		if res.Failure == FailureIntercepted && e.sweeper != nil {
			e.sweeper.Sweep(ctx, page)
		}
	}

	e.logger.Warn("action retries exhausted",
		"target", a.Target.Name(), "action", a.Kind.String(), "failure", res.Failure.String(), "attempts", res.Attempts)
	return res
}

// Sequence performs actions in order and stops at the first failure.
func (e *Executor) Sequence(ctx context.Context, page browser.Page, actions ...Action) error {
	for _, a := range actions {
		if res := e.Perform(ctx, page, a); !res.Success {
			return res.Error(a.Target.Name())
		}
	}
	return nil
}

func (e *Executor) attempt(ctx context.Context, page browser.Page, el browser.Element, a Action) error {
	if a.Kind == WaitFor {
		return nil
	}

	if err := el.ScrollIntoView(ctx); err != nil {
		// A failed scroll on a live element is not fatal; the click decides.
		if Classify(err) == FailureStale || ctx.Err() != nil {
			return err
		}
	}
	if !e.wait(ctx, e.opts.Settle) {
		return ctx.Err()
	}

	switch a.Kind {
	case Click:
		return e.click(ctx, el)
	case Type:
		if err := el.Clear(ctx); err != nil {
			return err
		}
		return el.Input(ctx, a.Value)
	default:
		return fmt.Errorf("unsupported action kind %s", a.Kind)
	}
}

// click tries a native click first and falls back to a scripted click when
// the native one is intercepted or the handle went stale.
func (e *Executor) click(ctx context.Context, el browser.Element) error {
	err := el.Click(ctx)
	if err == nil {
		return nil
	}

	kind := Classify(err)
	if kind != FailureStale && kind != FailureIntercepted {
		return err
	}

	if scriptErr := el.ScriptClick(ctx); scriptErr == nil {
		return nil
	} else if Classify(scriptErr) == FailureStale {
		return scriptErr
	}
	return err
}

func (e *Executor) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
