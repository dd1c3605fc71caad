package extract

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmylchreest/refyne-harvest/internal/action"
	"github.com/jmylchreest/refyne-harvest/internal/browser"
	"github.com/jmylchreest/refyne-harvest/internal/locator"
)

// scriptTextJS collects text that viewer widgets render outside the normal
// accessible tree: PDF.js text layers, embedded same-origin frames and
// shadow roots.
const scriptTextJS = `() => {
	const parts = [];
	const push = (t) => { t = (t || '').trim(); if (t) parts.push(t); };
	const layers = document.querySelectorAll('.textLayer');
	if (layers.length > 0) {
		layers.forEach(l => push(l.innerText || l.textContent));
	} else {
		document.querySelectorAll('p, span, div, td, li, pre').forEach(n => {
			if (n.children.length === 0) push(n.textContent);
		});
	}
	document.querySelectorAll('iframe, frame').forEach(f => {
		try { push(f.contentDocument && f.contentDocument.body && f.contentDocument.body.innerText); } catch (e) {}
	});
	document.querySelectorAll('*').forEach(n => { if (n.shadowRoot) push(n.shadowRoot.textContent); });
	return parts.join('\n');
}`

// Options configures a Dispatcher.
type Options struct {
	ContentSelector string        // area read by the direct text rung
	MinContent      int           // characters a rung must produce to stop escalating
	MaxTextChars    int           // text is truncated to this many characters
	ReadTimeout     time.Duration // per rung
	NextPage        locator.Spec  // control that advances a multi-page document
	ExtraPages      int           // further pages captured by ExtractPages
	PageSettle      time.Duration // wait after advancing a page
}

// DefaultOptions returns the default dispatcher settings.
func DefaultOptions() Options {
	return Options{
		ContentSelector: "body",
		MinContent:      100,
		MaxTextChars:    15000,
		ReadTimeout:     10 * time.Second,
		ExtraPages:      3,
		PageSettle:      time.Second,
	}
}

// Dispatcher produces RawContent from a page.
type Dispatcher struct {
	opts     Options
	executor *action.Executor
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. executor is only needed for ExtractPages.
func NewDispatcher(opts Options, executor *action.Executor, logger *slog.Logger) *Dispatcher {
	if opts.ContentSelector == "" {
		opts.ContentSelector = "body"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	return &Dispatcher{
		opts:     opts,
		executor: executor,
		logger:   logger.With("component", "extract"),
	}
}

type rung struct {
	name Rung
	run  func(ctx context.Context, page browser.Page) (RawContent, error)
}

func (d *Dispatcher) ladder() []rung {
	return []rung{
		{RungDirect, d.directText},
		{RungScript, d.scriptText},
		{RungScreenshot, d.screenshot},
	}
}

// Extract climbs the ladder (direct text, script text, screenshot) and
// returns the first rung's output that meets the minimum-content threshold.
// A screenshot always meets it. When every rung fails the result is the
// placeholder text.
func (d *Dispatcher) Extract(ctx context.Context, page browser.Page) RawContent {
	for _, r := range d.ladder() {
		if ctx.Err() != nil {
			break
		}

		rungCtx, cancel := context.WithTimeout(ctx, d.opts.ReadTimeout)
		rc, err := r.run(rungCtx, page)
		cancel()

		if err != nil {
			d.logger.Debug("extraction rung failed", "rung", string(r.name), "error", err)
			continue
		}
		if rc.Kind == KindScreenshot || d.sufficient(rc) {
			d.logger.Debug("extraction rung succeeded",
				"rung", string(r.name),
				"kind", rc.Kind.String(),
				"source_length", rc.SourceLength,
				"truncated", rc.Truncated,
			)
			return rc
		}
		d.logger.Debug("insufficient content, escalating", "rung", string(r.name), "chars", rc.SourceLength)
	}

	d.logger.Warn("no content could be captured, using placeholder")
	return PlaceholderContent()
}

func (d *Dispatcher) sufficient(rc RawContent) bool {
	return rc.SourceLength >= d.opts.MinContent
}

func (d *Dispatcher) directText(ctx context.Context, page browser.Page) (RawContent, error) {
	el, err := page.Element(ctx, d.opts.ContentSelector)
	if err != nil {
		return RawContent{}, err
	}
	text, err := el.Text(ctx)
	if err != nil {
		return RawContent{}, err
	}
	return TextContent(text, RungDirect, d.opts.MaxTextChars), nil
}

func (d *Dispatcher) scriptText(ctx context.Context, page browser.Page) (RawContent, error) {
	text, err := page.EvalString(ctx, scriptTextJS)
	if err != nil {
		return RawContent{}, err
	}
	return TextContent(text, RungScript, d.opts.MaxTextChars), nil
}

func (d *Dispatcher) screenshot(ctx context.Context, page browser.Page) (RawContent, error) {
	data, err := page.Screenshot(ctx)
	if err != nil {
		return RawContent{}, err
	}
	if len(data) == 0 {
		return RawContent{}, errEmptyCapture
	}
	return ImageContent(data, RungScreenshot), nil
}

// ExtractPages extracts the current page and then up to ExtraPages further
// pages reached through the next-page control. It stops at the first page
// that cannot be reached or that repeats the previous one.
func (d *Dispatcher) ExtractPages(ctx context.Context, page browser.Page) []RawContent {
	pages := []RawContent{d.Extract(ctx, page)}
	if d.opts.NextPage.Empty() || d.executor == nil {
		return pages
	}

	for i := 0; i < d.opts.ExtraPages; i++ {
		if ctx.Err() != nil {
			break
		}

		res := d.executor.Perform(ctx, page, action.Action{Kind: action.Click, Target: d.opts.NextPage})
		if !res.Success {
			d.logger.Debug("no further pages", "captured", len(pages), "failure", res.Failure.String())
			break
		}

		select {
		case <-ctx.Done():
			return pages
		case <-time.After(d.opts.PageSettle):
		}

		rc := d.Extract(ctx, page)
		if rc.IsPlaceholder() || sameContent(rc, pages[len(pages)-1]) {
			break
		}
		pages = append(pages, rc)
	}

	d.logger.Debug("extracted document pages", "pages", len(pages))
	return pages
}

func sameContent(a, b RawContent) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == KindText {
		return a.Text == b.Text
	}
	return string(a.Image) == string(b.Image)
}

// JoinText concatenates the text pages of a multi-page extraction so one
// inference call sees the whole document. Screenshots are returned as-is.
func JoinText(pages []RawContent, maxChars int) []RawContent {
	var texts []string
	var out []RawContent
	for _, p := range pages {
		if p.Kind == KindText && !p.IsPlaceholder() {
			texts = append(texts, p.Text)
			continue
		}
		out = append(out, p)
	}
	if len(texts) == 0 {
		return out
	}

	joined := TextContent(strings.Join(texts, "\n\n"), pages[0].Rung, maxChars)
	if len(texts) > 1 {
		joined.SourceLength = 0
		for _, t := range texts {
			joined.SourceLength += utf8.RuneCountInString(t)
		}
	}
	return append([]RawContent{joined}, out...)
}
