package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage adapts *rod.Page to Page.
type rodPage struct {
	page *rod.Page
}

// WrapPage exposes a rod page through the Page interface.
func WrapPage(page *rod.Page) Page {
	return &rodPage{page: page}
}

func (p *rodPage) Element(ctx context.Context, selector string) (Element, error) {
	el, err := p.page.Context(ctx).Element(selector)
	return wrapFound(ctx, el, err)
}

func (p *rodPage) ElementX(ctx context.Context, xpath string) (Element, error) {
	el, err := p.page.Context(ctx).ElementX(xpath)
	return wrapFound(ctx, el, err)
}

func (p *rodPage) ElementR(ctx context.Context, selector, pattern string) (Element, error) {
	el, err := p.page.Context(ctx).ElementR(selector, pattern)
	return wrapFound(ctx, el, err)
}

func (p *rodPage) ElementByJS(ctx context.Context, js string) (Element, error) {
	el, err := p.page.Context(ctx).ElementByJS(rod.Eval(js))
	return wrapFound(ctx, el, err)
}

func (p *rodPage) Elements(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, classify(ctx, err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) Has(ctx context.Context, selector string) bool {
	has, _, err := p.page.Context(ctx).Has(selector)
	return err == nil && has
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, classify(ctx, err))
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for %s to load: %w", url, classify(ctx, err))
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Title() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func (p *rodPage) EvalString(ctx context.Context, js string, args ...any) (string, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", classify(ctx, err)
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (p *rodPage) EvalBool(ctx context.Context, js string, args ...any) (bool, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return false, classify(ctx, err)
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return data, nil
}

func (p *rodPage) PressEscape(ctx context.Context) error {
	return classify(ctx, p.page.Context(ctx).KeyActions().Press(input.Escape).Do())
}

func (p *rodPage) WaitOpen(ctx context.Context, trigger func() error) (Page, error) {
	wait := p.page.Context(ctx).WaitOpen()
	if err := trigger(); err != nil {
		return nil, err
	}
	opened, err := wait()
	if err != nil {
		return nil, fmt.Errorf("no tab opened: %w", classify(ctx, err))
	}
	if err := opened.Context(ctx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("opened tab did not load: %w", classify(ctx, err))
	}
	return &rodPage{page: opened}, nil
}

func (p *rodPage) Close(ctx context.Context) error {
	return classify(ctx, p.page.Close())
}

// rodElement adapts *rod.Element to Element.
type rodElement struct {
	el *rod.Element
}

func wrapFound(ctx context.Context, el *rod.Element, err error) (Element, error) {
	if err != nil {
		err = classify(ctx, err)
		if errors.Is(err, ErrTimeout) {
			// A query that ran out of time found nothing.
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, err
	}
	return &rodElement{el: el}, nil
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Visible()
	return v, classify(ctx, err)
}

func (e *rodElement) Interactable(ctx context.Context) error {
	_, err := e.el.Context(ctx).Interactable()
	return classify(ctx, err)
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	return classify(ctx, e.el.Context(ctx).ScrollIntoView())
}

func (e *rodElement) Click(ctx context.Context) error {
	el := e.el.Context(ctx)
	// Check first: rod's Click waits for interactability, which would turn a
	// covering overlay into a timeout.
	if _, err := el.Interactable(); err != nil {
		return classify(ctx, err)
	}
	return classify(ctx, el.Click(proto.InputMouseButtonLeft, 1))
}

func (e *rodElement) ScriptClick(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(ScriptClickJS)
	return classify(ctx, err)
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	return classify(ctx, e.el.Context(ctx).Input(text))
}

func (e *rodElement) Clear(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return classify(ctx, err)
	}
	return classify(ctx, el.Input(""))
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	return text, classify(ctx, err)
}

func (e *rodElement) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	return data, classify(ctx, err)
}

// stalePatterns are CDP messages returned when a node handle outlives its document.
var stalePatterns = []string{
	"node is detached",
	"could not find node",
	"no node with given id",
	"does not belong to the document",
	"cannot find context with specified id",
	"execution context was destroyed",
}

// deadPatterns are transport failures that mean the browser itself is gone.
var deadPatterns = []string{
	"use of closed network connection",
	"websocket: close",
	"connection refused",
	"target closed",
	"session closed",
	"broken pipe",
}

// classify maps rod and CDP errors onto the package sentinels, keeping the
// original error in the chain for diagnostics.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var (
		covered         *rod.CoveredError
		noPointer       *rod.NoPointerEventsError
		invisible       *rod.InvisibleShapeError
		notInteractable *rod.NotInteractableError
		notFound        *rod.ElementNotFoundError
		objectNotFound  *rod.ObjectNotFoundError
		pageNotFound    *rod.PageNotFoundError
	)

	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.As(err, &covered), errors.As(err, &noPointer),
		errors.As(err, &invisible), errors.As(err, &notInteractable):
		return fmt.Errorf("%w: %v", ErrIntercepted, err)
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.As(err, &objectNotFound):
		return fmt.Errorf("%w: %v", ErrStale, err)
	case errors.As(err, &pageNotFound):
		return fmt.Errorf("%w: %v", ErrSessionDead, err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range stalePatterns {
		if strings.Contains(msg, p) {
			return fmt.Errorf("%w: %v", ErrStale, err)
		}
	}
	for _, p := range deadPatterns {
		if strings.Contains(msg, p) {
			return fmt.Errorf("%w: %v", ErrSessionDead, err)
		}
	}
	return err
}
