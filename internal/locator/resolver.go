package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("no locator strategy matched")

// Attempt records one tried strategy.
type Attempt struct {
	Index   int
	Locator Locator
	Err     error
}

// NotFoundError is returned when every strategy of a Spec was exhausted.
type NotFoundError struct {
	Target   string
	Attempts []Attempt
}

func (e *NotFoundError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("#%d %s: %v", a.Index, a.Locator, a.Err))
	}
	return fmt.Sprintf("locator %q: no strategy matched [%s]", e.Target, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrNotFound) and errors.Is(err, browser.ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound || target == browser.ErrNotFound
}

// Defaults for per-attempt sub-timeouts.
const (
	DefaultMinAttempt = 500 * time.Millisecond
	DefaultMaxAttempt = 5 * time.Second

	visibilityPoll = 100 * time.Millisecond
	anyClickable   = "button, a, [role=button], [role=tab], [role=menuitem], li, td, span, div"
)

// Resolver tries the strategies of a Spec in order.
type Resolver struct {
	logger     *slog.Logger
	minAttempt time.Duration
	maxAttempt time.Duration
}

// NewResolver creates a resolver with the default sub-timeout bounds.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger:     logger.With("component", "locator"),
		minAttempt: DefaultMinAttempt,
		maxAttempt: DefaultMaxAttempt,
	}
}

// WithAttemptBounds overrides the per-attempt floor and ceiling.
func (r *Resolver) WithAttemptBounds(floor, ceiling time.Duration) *Resolver {
	r.minAttempt, r.maxAttempt = floor, ceiling
	return r
}

// attemptTimeout divides the overall budget evenly, clamped to the bounds.
func (r *Resolver) attemptTimeout(timeout time.Duration, n int) time.Duration {
	if n <= 0 {
		return r.minAttempt
	}
	per := timeout / time.Duration(n)
	if per < r.minAttempt {
		per = r.minAttempt
	}
	if r.maxAttempt > 0 && per > r.maxAttempt {
		per = r.maxAttempt
	}
	return per
}

// Resolve returns the element found by the first strategy that yields a
// present, visible element, together with that strategy's index. Later
// strategies are not tried once one succeeds. Being covered by an overlay
// does not disqualify an element; the action executor deals with that.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, spec Spec, timeout time.Duration) (browser.Element, int, error) {
	per := r.attemptTimeout(timeout, spec.Len())
	nf := &NotFoundError{Target: spec.Name()}

	for i, loc := range spec.locators {
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, per)
		el, err := r.try(attemptCtx, page, loc)
		cancel()

		if err == nil {
			if i > 0 {
				r.logger.Debug("resolved by fallback strategy", "target", spec.Name(), "index", i, "strategy", loc.Strategy.String())
			}
			return el, i, nil
		}
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		nf.Attempts = append(nf.Attempts, Attempt{Index: i, Locator: loc, Err: err})
	}

	r.logger.Debug("locator exhausted", "target", spec.Name(), "strategies", spec.Len())
	return nil, -1, nf
}

func (r *Resolver) try(ctx context.Context, page browser.Page, loc Locator) (browser.Element, error) {
	el, err := find(ctx, page, loc)
	if err != nil {
		return nil, err
	}

	for {
		visible, err := el.Visible(ctx)
		if err == nil && visible {
			return el, nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return nil, err
			}
			return nil, errors.New("present but not visible")
		case <-time.After(visibilityPoll):
		}
	}
}

func find(ctx context.Context, page browser.Page, loc Locator) (browser.Element, error) {
	switch loc.Strategy {
	case ByID:
		return page.Element(ctx, fmt.Sprintf("[id=%q]", loc.Expr))
	case ByCSS:
		return page.Element(ctx, loc.Expr)
	case ByXPath:
		return page.ElementX(ctx, loc.Expr)
	case ByText:
		selector, pattern := SplitText(loc.Expr)
		return page.ElementR(ctx, selector, pattern)
	case ByAttr:
		return page.Element(ctx, AttrSelector(loc.Expr))
	case ByScript:
		return page.ElementByJS(ctx, loc.Expr)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, loc.Strategy)
	}
}

// SplitText splits a text expression into selector and pattern.
func SplitText(expr string) (selector, pattern string) {
	if sel, pat, ok := strings.Cut(expr, "|"); ok && strings.TrimSpace(sel) != "" {
		return strings.TrimSpace(sel), pat
	}
	return anyClickable, expr
}

// AttrSelector turns "name=value" into a contains-match selector.
func AttrSelector(expr string) string {
	name, value, ok := strings.Cut(expr, "=")
	if !ok {
		return "[" + strings.TrimSpace(expr) + "]"
	}
	return fmt.Sprintf("[%s*=%q]", strings.TrimSpace(name), strings.Trim(strings.TrimSpace(value), `'"`))
}
