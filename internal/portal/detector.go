// Package portal recognises the pages a portal shows instead of the one
// that was asked for: bot checks, expired sessions, server errors and
// bounces back to the login form.
package portal

import (
	"context"
	"strings"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
)

// Kind is the kind of interruption detected on a page.
type Kind string

const (
	// KindNone indicates the page is the expected content.
	KindNone Kind = "none"
	// KindBotCheck is a JavaScript browser check that clears by itself.
	KindBotCheck Kind = "bot_check"
	// KindSessionExpired is a portal message saying the session ended.
	KindSessionExpired Kind = "session_expired"
	// KindLoginForm means the portal redirected to its login form.
	KindLoginForm Kind = "login_form"
	// KindServerError is a gateway or application error page.
	KindServerError Kind = "server_error"
)

// Detection describes what was found on a page.
type Detection struct {
	Kind    Kind   `json:"kind"`
	PageURL string `json:"pageUrl"`
	Title   string `json:"title"`
	CanAuto bool   `json:"canAuto"` // clears by waiting
	Match   string `json:"match,omitempty"`
}

// NeedsLogin reports whether the session must be re-established.
func (d Detection) NeedsLogin() bool {
	return d.Kind == KindSessionExpired || d.Kind == KindLoginForm
}

var (
	botCheckTitles = []string{
		"just a moment",
		"checking your browser",
		"attention required",
		"one more step",
		"verify you are human",
		"un momento",
	}
	botCheckSelectors = []string{
		"#cf-browser-verification",
		".challenge-running",
		"#cf-challenge-running",
		`meta[name="generator"][content*="DDoS-GUARD"]`,
	}
	expiredTexts = []string{
		"sesión expirada",
		"sesion expirada",
		"su sesión ha expirado",
		"la sesión ha caducado",
		"session expired",
		"session has expired",
		"inicie sesión nuevamente",
	}
	serverErrorTitles = []string{
		"502 bad gateway",
		"503 service",
		"504 gateway",
		"500 internal server error",
		"error del servidor",
		"service unavailable",
	}
)

// bodyTextJS returns the first part of the visible page text, lower-cased.
const bodyTextJS = `() => ((document.body && document.body.innerText) || '').slice(0, 4000).toLowerCase()`

// Detector classifies pages.
type Detector struct {
	loginProbe   string   // CSS selector present only on the login form
	expiredTexts []string // extra portal-specific expiry messages
}

// NewDetector creates a detector. loginProbe is a selector that exists only
// on the portal's login form, such as its password field; empty disables the
// login-form check.
func NewDetector(loginProbe string, extraExpired ...string) *Detector {
	texts := append([]string{}, expiredTexts...)
	for _, t := range extraExpired {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			texts = append(texts, t)
		}
	}
	return &Detector{loginProbe: loginProbe, expiredTexts: texts}
}

// Detect inspects page. Checks run cheapest first and the first match wins.
func (d *Detector) Detect(ctx context.Context, page browser.Page) Detection {
	title := page.Title()
	det := Detection{Kind: KindNone, PageURL: page.URL(), Title: title}
	lowerTitle := strings.ToLower(title)

	if m := containsAny(lowerTitle, botCheckTitles); m != "" {
		det.Kind, det.CanAuto, det.Match = KindBotCheck, true, m
		return det
	}
	for _, sel := range botCheckSelectors {
		if page.Has(ctx, sel) {
			det.Kind, det.CanAuto, det.Match = KindBotCheck, true, sel
			return det
		}
	}
	if m := containsAny(lowerTitle, serverErrorTitles); m != "" {
		det.Kind, det.Match = KindServerError, m
		return det
	}

	body, _ := page.EvalString(ctx, bodyTextJS)
	if m := containsAny(body, d.expiredTexts); m != "" {
		det.Kind, det.Match = KindSessionExpired, m
		return det
	}
	if d.loginProbe != "" && page.Has(ctx, d.loginProbe) {
		det.Kind, det.Match = KindLoginForm, d.loginProbe
		return det
	}
	return det
}

// WaitForClear polls until no auto-clearing interruption is present or
// timeout elapses. It returns the last detection; callers handle anything
// that does not clear by itself.
func (d *Detector) WaitForClear(ctx context.Context, page browser.Page, timeout time.Duration) (Detection, error) {
	deadline := time.Now().Add(timeout)
	for {
		det := d.Detect(ctx, page)
		if det.Kind == KindNone || !det.CanAuto {
			return det, nil
		}
		if time.Now().After(deadline) {
			return det, context.DeadlineExceeded
		}

		select {
		case <-ctx.Done():
			return det, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func containsAny(s string, patterns []string) string {
	if s == "" {
		return ""
	}
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return p
		}
	}
	return ""
}
