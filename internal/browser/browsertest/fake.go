// Package browsertest provides in-memory Page and Element fakes for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmylchreest/refyne-harvest/internal/browser"
)

// Query keys used to register elements on a Page.
func CSS(selector string) string           { return "css:" + selector }
func XPath(expr string) string             { return "xpath:" + expr }
func Text(selector, pattern string) string { return "text:" + selector + "|" + pattern }
func JS(js string) string                  { return "js:" + js }

// Element is a scriptable fake element.
type Element struct {
	mu sync.Mutex

	Name      string
	TextValue string
	Hidden    bool
	Shot      []byte
	ShotErr   error

	// ClickErrs are returned by successive native clicks; once exhausted clicks succeed.
	ClickErrs       []error
	ScriptClickErrs []error
	InteractableErr error
	ScrollErr       error
	InputErr        error
	// OnClick runs after every successful click (native or scripted).
	OnClick func()

	Clicks       int
	ScriptClicks int
	Scrolls      int
	Typed        string
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Hidden, nil
}

func (e *Element) Interactable(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Hidden {
		return browser.ErrIntercepted
	}
	return e.InteractableErr
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Scrolls++
	return e.ScrollErr
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	e.Clicks++
	if len(e.ClickErrs) > 0 {
		err := e.ClickErrs[0]
		e.ClickErrs = e.ClickErrs[1:]
		if err != nil {
			e.mu.Unlock()
			return err
		}
	}
	onClick := e.OnClick
	e.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return nil
}

func (e *Element) ScriptClick(ctx context.Context) error {
	e.mu.Lock()
	e.ScriptClicks++
	if len(e.ScriptClickErrs) > 0 {
		err := e.ScriptClickErrs[0]
		e.ScriptClickErrs = e.ScriptClickErrs[1:]
		if err != nil {
			e.mu.Unlock()
			return err
		}
	}
	onClick := e.OnClick
	e.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return nil
}

func (e *Element) Input(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.InputErr != nil {
		return e.InputErr
	}
	e.Typed += text
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Typed = ""
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TextValue, nil
}

func (e *Element) Screenshot(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Shot, e.ShotErr
}

// ClickCount returns native plus scripted clicks.
func (e *Element) ClickCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Clicks + e.ScriptClicks
}

// Page is a scriptable fake tab. Elements are registered under query keys
// built with CSS, XPath, Text and JS; unknown queries fail with
// browser.ErrNotFound immediately.
type Page struct {
	mu sync.Mutex

	found   map[string]*Element
	all     map[string][]*Element
	present map[string]bool

	URLValue    string
	TitleValue  string
	NavigateErr error
	OnNavigate  func(url string)
	EvalFunc    func(js string, args ...any) (any, error)
	ShotData    []byte
	ShotErr     error
	Opened      *Page
	OpenErr     error

	Queries     []string
	Navigations []string
	Escapes     int
	Closed      bool
}

// NewPage returns an empty fake page at url.
func NewPage(url string) *Page {
	return &Page{
		found:    make(map[string]*Element),
		all:      make(map[string][]*Element),
		present:  make(map[string]bool),
		URLValue: url,
	}
}

// Add registers el under key. A CSS key also makes Has(selector) true.
func (p *Page) Add(key string, el *Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.found[key] = el
	if sel, ok := strings.CutPrefix(key, "css:"); ok {
		p.present[sel] = true
		p.all[sel] = append(p.all[sel], el)
	}
	return p
}

// Remove unregisters key.
func (p *Page) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.found, key)
	if sel, ok := strings.CutPrefix(key, "css:"); ok {
		delete(p.present, sel)
		delete(p.all, sel)
	}
}

// SetAll registers the result of Elements(selector).
func (p *Page) SetAll(selector string, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all[selector] = els
	p.present[selector] = len(els) > 0
}

// SetURL changes the current URL.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URLValue = url
}

// SetTitle changes the document title.
func (p *Page) SetTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TitleValue = title
}

func (p *Page) lookup(ctx context.Context, key string) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrNotFound, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Queries = append(p.Queries, key)
	if el, ok := p.found[key]; ok {
		return el, nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, key)
}

func (p *Page) Element(ctx context.Context, selector string) (browser.Element, error) {
	return p.lookup(ctx, CSS(selector))
}

func (p *Page) ElementX(ctx context.Context, xpath string) (browser.Element, error) {
	return p.lookup(ctx, XPath(xpath))
}

func (p *Page) ElementR(ctx context.Context, selector, pattern string) (browser.Element, error) {
	return p.lookup(ctx, Text(selector, pattern))
}

func (p *Page) ElementByJS(ctx context.Context, js string) (browser.Element, error) {
	return p.lookup(ctx, JS(js))
}

func (p *Page) Elements(ctx context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.all[selector]
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

func (p *Page) Has(ctx context.Context, selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[selector]
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	err := p.NavigateErr
	onNavigate := p.OnNavigate
	if err == nil {
		p.URLValue = url
	}
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if onNavigate != nil {
		onNavigate(url)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URLValue
}

func (p *Page) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleValue
}

func (p *Page) eval(js string, args ...any) (any, error) {
	p.mu.Lock()
	fn := p.EvalFunc
	p.mu.Unlock()
	if fn == nil {
		return nil, errors.New("eval not scripted")
	}
	return fn(js, args...)
}

func (p *Page) EvalString(ctx context.Context, js string, args ...any) (string, error) {
	v, err := p.eval(js, args...)
	if err != nil || v == nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (p *Page) EvalBool(ctx context.Context, js string, args ...any) (bool, error) {
	v, err := p.eval(js, args...)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ShotData, p.ShotErr
}

func (p *Page) PressEscape(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Escapes++
	return nil
}

func (p *Page) WaitOpen(ctx context.Context, trigger func() error) (browser.Page, error) {
	if err := trigger(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if p.Opened == nil {
		return nil, fmt.Errorf("%w: no tab opened", browser.ErrTimeout)
	}
	return p.Opened, nil
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// QueryLog returns a copy of the queries issued so far.
func (p *Page) QueryLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Queries...)
}
