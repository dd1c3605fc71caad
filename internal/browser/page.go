// Package browser owns the single Chrome session a harvest run drives and
// exposes it through small Page/Element interfaces so the pipeline can be
// exercised against fakes.
package browser

import (
	"context"
	"errors"
)

// Errors reported by Page and Element implementations. Browser-specific
// failures are mapped onto these so callers can classify them with errors.Is.
var (
	// ErrNotFound means the query matched nothing within its deadline.
	ErrNotFound = errors.New("element not found")
	// ErrStale means the element was detached from the DOM after it was found.
	ErrStale = errors.New("element is stale")
	// ErrIntercepted means another element (usually an overlay) receives the pointer event.
	ErrIntercepted = errors.New("element click intercepted")
	// ErrTimeout means the element never became actionable before the deadline.
	ErrTimeout = errors.New("element not actionable before timeout")
	// ErrSessionDead means the browser or its connection no longer responds.
	ErrSessionDead = errors.New("browser session is dead")
)

// Page is the subset of a browser tab the pipeline uses. Every query that may
// wait is bounded by ctx.
type Page interface {
	// Element finds the first element matching a CSS selector.
	Element(ctx context.Context, selector string) (Element, error)
	// ElementX finds the first element matching an XPath expression.
	ElementX(ctx context.Context, xpath string) (Element, error)
	// ElementR finds the first element matching selector whose text matches the JS regex pattern.
	ElementR(ctx context.Context, selector, pattern string) (Element, error)
	// ElementByJS finds the element returned by a JS function body.
	ElementByJS(ctx context.Context, js string) (Element, error)
	// Elements returns every element currently matching selector without waiting.
	Elements(ctx context.Context, selector string) ([]Element, error)
	// Has reports whether selector currently matches, without waiting.
	Has(ctx context.Context, selector string) bool

	Navigate(ctx context.Context, url string) error
	URL() string
	Title() string

	// EvalString runs a JS function and returns its result as a string.
	EvalString(ctx context.Context, js string, args ...any) (string, error)
	// EvalBool runs a JS function and returns its result as a bool.
	EvalBool(ctx context.Context, js string, args ...any) (bool, error)

	// Screenshot captures the visible viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	PressEscape(ctx context.Context) error

	// WaitOpen runs trigger and returns the tab it opened.
	WaitOpen(ctx context.Context, trigger func() error) (Page, error)
	Close(ctx context.Context) error
}

// Element is a located DOM node.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	// Interactable returns nil when a pointer event at the element's centre would reach it.
	Interactable(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	// Click performs a native mouse click.
	Click(ctx context.Context) error
	// ScriptClick dispatches the click from inside the page.
	ScriptClick(ctx context.Context) error
	Input(ctx context.Context, text string) error
	Clear(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// ScriptClickJS fires mousedown/mouseup before click() so frameworks that
// listen on the pointer sequence see the interaction too.
const ScriptClickJS = `() => {
	try { this.focus(); } catch (e) {}
	for (const type of ['mousedown', 'mouseup']) {
		this.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: window }));
	}
	if (typeof this.click === 'function') {
		this.click();
	} else {
		this.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window }));
	}
	return true;
}`
