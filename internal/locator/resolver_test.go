package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
	"github.com/jmylchreest/refyne-harvest/internal/browser/browsertest"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
)

func newTestResolver() *Resolver {
	return NewResolver(logging.Discard()).WithAttemptBounds(20*time.Millisecond, 50*time.Millisecond)
}

func TestResolve_OnlyThirdStrategyMatches(t *testing.T) {
	page := browsertest.NewPage("https://portal.example/list")
	target := &browsertest.Element{Name: "print"}
	page.Add(browsertest.XPath("//button[contains(., 'Imprimir')]"), target)

	spec := NewSpec("print-button",
		Locator{ByID, "btnPrint"},
		Locator{ByCSS, ".print-btn"},
		Locator{ByXPath, "//button[contains(., 'Imprimir')]"},
	)

	el, idx, err := newTestResolver().Resolve(context.Background(), page, spec, time.Second)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if idx != 2 {
		t.Errorf("strategy index = %d, want 2", idx)
	}
	if el != target {
		t.Error("Resolve() returned the wrong element")
	}
}

func TestResolve_FirstValidStrategyWins(t *testing.T) {
	page := browsertest.NewPage("")
	first := &browsertest.Element{Name: "by-css"}
	second := &browsertest.Element{Name: "by-text"}
	page.Add(browsertest.CSS(".tab-consultas"), first)
	page.Add(browsertest.Text("a", "Consultas"), second)

	spec := NewSpec("consultas-tab",
		Locator{ByID, "missing"},
		Locator{ByCSS, ".tab-consultas"},
		Locator{ByText, "a|Consultas"},
	)

	el, idx, err := newTestResolver().Resolve(context.Background(), page, spec, time.Second)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if idx != 1 || el != first {
		t.Errorf("Resolve() = (%v, %d), want css strategy at index 1", el, idx)
	}
	for _, q := range page.QueryLog() {
		if q == browsertest.Text("a", "Consultas") {
			t.Error("later strategy was tried after an earlier one succeeded")
		}
	}
}

func TestResolve_HiddenElementFallsThrough(t *testing.T) {
	page := browsertest.NewPage("")
	page.Add(browsertest.CSS("#hidden"), &browsertest.Element{Hidden: true})
	visible := &browsertest.Element{}
	page.Add(browsertest.CSS(".visible"), visible)

	spec := NewSpec("target", Locator{ByCSS, "#hidden"}, Locator{ByCSS, ".visible"})

	el, idx, err := newTestResolver().Resolve(context.Background(), page, spec, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if idx != 1 || el != visible {
		t.Errorf("Resolve() index = %d, want 1", idx)
	}
}

func TestResolve_AllExhausted(t *testing.T) {
	page := browsertest.NewPage("")
	spec := NewSpec("row", Locator{ByCSS, ".a"}, Locator{ByXPath, "//b"}, Locator{ByScript, "() => null"})

	_, idx, err := newTestResolver().Resolve(context.Background(), page, spec, time.Second)
	if idx != -1 {
		t.Errorf("index = %d, want -1", idx)
	}
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("error = %v, want NotFound", err)
	}

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error type = %T, want *NotFoundError", err)
	}
	if nf.Target != "row" || len(nf.Attempts) != 3 {
		t.Errorf("NotFoundError = %+v", nf)
	}
	for i, a := range nf.Attempts {
		if a.Index != i {
			t.Errorf("attempt %d has index %d", i, a.Index)
		}
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	page := browsertest.NewPage("")
	page.Add(browsertest.CSS(".a"), &browsertest.Element{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestResolver().Resolve(ctx, page, NewSpec("x", Locator{ByCSS, ".a"}), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestResolve_StrategyQueries(t *testing.T) {
	tests := []struct {
		name string
		loc  Locator
		key  string
	}{
		{"id", Locator{ByID, "login"}, browsertest.CSS(`[id="login"]`)},
		{"css", Locator{ByCSS, "input[name=user]"}, browsertest.CSS("input[name=user]")},
		{"xpath", Locator{ByXPath, "//input"}, browsertest.XPath("//input")},
		{"text with selector", Locator{ByText, "button|Entrar"}, browsertest.Text("button", "Entrar")},
		{"text without selector", Locator{ByText, "Entrar"}, browsertest.Text(anyClickable, "Entrar")},
		{"attr", Locator{ByAttr, "aria-label=Next page"}, browsertest.CSS(`[aria-label*="Next page"]`)},
		{"script", Locator{ByScript, "() => document.body"}, browsertest.JS("() => document.body")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage("")
			page.Add(tt.key, &browsertest.Element{})

			_, idx, err := newTestResolver().Resolve(context.Background(), page, NewSpec(tt.name, tt.loc), time.Second)
			if err != nil || idx != 0 {
				t.Errorf("Resolve() = (%d, %v), want (0, nil)", idx, err)
			}
		})
	}
}

func TestAttemptTimeout(t *testing.T) {
	r := NewResolver(logging.Discard())

	tests := []struct {
		timeout time.Duration
		n       int
		want    time.Duration
	}{
		{9 * time.Second, 3, 3 * time.Second},
		{time.Second, 10, DefaultMinAttempt},
		{60 * time.Second, 2, DefaultMaxAttempt},
		{time.Second, 0, DefaultMinAttempt},
	}
	for _, tt := range tests {
		if got := r.attemptTimeout(tt.timeout, tt.n); got != tt.want {
			t.Errorf("attemptTimeout(%v, %d) = %v, want %v", tt.timeout, tt.n, got, tt.want)
		}
	}
}
