// Package overlay clears transient overlays (consent banners, modal dialogs,
// loading backdrops) that intercept clicks on the portal.
package overlay

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
)

// Close/accept controls, most specific first. Consent platforms come first
// because they are the most common blockers on first load; generic modal close
// buttons are last.
var defaultSelectors = []string{
	// Consent management platforms
	`#onetrust-accept-btn-handler`,
	`button#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll`,
	`button#didomi-notice-agree-button`,
	`button[data-testid="accept-cookies"]`,
	`button.cookie-accept`,
	`button#acceptCookies`,

	// SweetAlert / toastr style notices
	`.swal2-container .swal2-confirm`,
	`.swal2-container .swal2-close`,
	`.toast .toast-close-button`,

	// Bootstrap and Angular Material dialogs
	`.modal.show button.close`,
	`.modal.show [data-dismiss="modal"]`,
	`.modal.show [data-bs-dismiss="modal"]`,
	`.cdk-overlay-container button[mat-dialog-close]`,
	`.cdk-overlay-container button[aria-label="Close"]`,

	// Generic close controls
	`button[aria-label="Close"]`,
	`button[aria-label="Cerrar"]`,
	`[role="dialog"] button[class*="close"]`,
}

// Button captions tried after the selectors.
var defaultTexts = []string{
	"Aceptar",
	"Aceptar todo",
	"Entendido",
	"Cerrar",
	"Continuar",
	"Accept all",
	"Accept",
	"Got it",
	"OK",
	"Close",
}

// Backdrops removed as a last resort when nothing could be clicked.
const removeBackdropsJS = `() => {
	const nodes = document.querySelectorAll('.modal-backdrop, .cdk-overlay-backdrop, .swal2-container, .blockUI, .loading-overlay');
	let removed = 0;
	for (const n of nodes) { n.remove(); removed++; }
	if (removed > 0) { document.body.classList.remove('modal-open'); document.body.style.overflow = ''; }
	return removed > 0;
}`

const clickByTextJS = `(text) => {
	const wanted = text.trim().toLowerCase();
	const nodes = document.querySelectorAll('button, a, [role="button"], input[type="button"], input[type="submit"]');
	for (const n of nodes) {
		const label = (n.innerText || n.value || '').trim().toLowerCase();
		if (label !== wanted) continue;
		const rect = n.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		if (!n.closest('[role="dialog"], .modal, .swal2-container, .cdk-overlay-container, [class*="cookie"], [class*="consent"], [id*="cookie"], [id*="consent"]')) continue;
		n.click();
		return true;
	}
	return false;
}`

// Sweeper clears overlays from a page.
type Sweeper struct {
	logger    *slog.Logger
	selectors []string
	texts     []string
	timeout   time.Duration
	settle    time.Duration
}

// NewSweeper creates a sweeper. extra selectors from the portal recipe are
// tried before the built-in list.
func NewSweeper(logger *slog.Logger, extra ...string) *Sweeper {
	selectors := make([]string, 0, len(extra)+len(defaultSelectors))
	selectors = append(selectors, extra...)
	selectors = append(selectors, defaultSelectors...)

	return &Sweeper{
		logger:    logger.With("component", "overlay"),
		selectors: selectors,
		texts:     defaultTexts,
		timeout:   2 * time.Second,
		settle:    300 * time.Millisecond,
	}
}

// Sweep clears whatever overlay it can find and reports whether anything was
// dismissed. It never fails: a sweep that finds nothing is a normal outcome.
func (s *Sweeper) Sweep(ctx context.Context, page browser.Page) bool {
	dismissed := false

	for _, selector := range s.selectors {
		if ctx.Err() != nil {
			return dismissed
		}
		if !page.Has(ctx, selector) {
			continue
		}
		if s.clickSelector(ctx, page, selector) {
			dismissed = true
		}
	}

	if !dismissed {
		dismissed = s.clickByText(ctx, page)
	}

	if !dismissed {
		if removed, err := s.eval(ctx, page, removeBackdropsJS); err == nil && removed {
			s.logger.Info("removed blocking backdrop")
			dismissed = true
		}
	}

	// Escape closes most dialogs that have no visible close control.
	_ = page.PressEscape(ctx)

	if dismissed {
		s.pause(ctx)
	}
	return dismissed
}

func (s *Sweeper) clickSelector(ctx context.Context, page browser.Page, selector string) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	el, err := page.Element(attemptCtx, selector)
	if err != nil {
		return false
	}

	visible, err := el.Visible(attemptCtx)
	if err != nil || !visible {
		return false
	}

	if err := el.Click(attemptCtx); err != nil {
		// The overlay may itself be covered by another one; click from script.
		if err := el.ScriptClick(attemptCtx); err != nil {
			s.logger.Debug("failed to click overlay control", "selector", selector, "error", err)
			return false
		}
	}

	s.logger.Info("dismissed overlay", "selector", selector)
	s.pause(ctx)
	return true
}

func (s *Sweeper) clickByText(ctx context.Context, page browser.Page) bool {
	for _, text := range s.texts {
		clicked, err := s.eval(ctx, page, clickByTextJS, text)
		if err == nil && clicked {
			s.logger.Info("dismissed overlay", "method", "text_search", "text", text)
			return true
		}
	}
	return false
}

func (s *Sweeper) eval(ctx context.Context, page browser.Page, js string, args ...any) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return page.EvalBool(attemptCtx, js, args...)
}

func (s *Sweeper) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.settle):
	}
}
