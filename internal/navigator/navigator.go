// Package navigator drives a portal through login, the subject list and each
// subject's extraction target, recovering from UI failures along the way.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jmylchreest/refyne-harvest/internal/action"
	"github.com/jmylchreest/refyne-harvest/internal/browser"
	"github.com/jmylchreest/refyne-harvest/internal/captcha"
	"github.com/jmylchreest/refyne-harvest/internal/extract"
	"github.com/jmylchreest/refyne-harvest/internal/locator"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/portal"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
	"github.com/jmylchreest/refyne-harvest/internal/store"
)

// Session is the browser the navigator owns for the run.
type Session interface {
	Page() browser.Page
	Alive(ctx context.Context) bool
	Restart(ctx context.Context) error
}

// Inferrer turns extracted content into a candidate record.
type Inferrer interface {
	Infer(ctx context.Context, content extract.RawContent, s *schema.Schema) (schema.Candidate, error)
}

// Sink persists merged records.
type Sink interface {
	Upsert(ctx context.Context, rec *merge.SubjectRecord) error
	RecordFailure(ctx context.Context, subjectID, stage string, cause error) error
	Flush(ctx context.Context) (*store.FlushResult, error)
}

// Progress receives run events.
type Progress interface {
	RunStarted(runID string, total int)
	StateChanged(t Transition)
	SubjectFinished(o Outcome)
}

// Watchdog cancels a subject's context when the run stops making progress.
type Watchdog interface {
	Touch()
	Watch(ctx context.Context) (context.Context, context.CancelFunc)
}

// Status of a processed subject.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Outcome is the result of one subject.
type Outcome struct {
	Index      int           `json:"index"`
	SubjectID  string        `json:"subjectId"`
	Status     string        `json:"status"`
	Stage      string        `json:"stage,omitempty"`
	Error      string        `json:"error,omitempty"`
	Pages      int           `json:"pages"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Total      int
	Succeeded  int
	Failed     int
	Recoveries int
	Restarts   int
	Final      State
	Flush      *store.FlushResult
}

// Deps are the collaborators of a Navigator. Sweeper, Detector, Captcha,
// Progress and Watchdog are optional.
type Deps struct {
	Session    Session
	Resolver   *locator.Resolver
	Executor   *action.Executor
	Sweeper    action.Sweeper
	Detector   *portal.Detector
	Dispatcher *extract.Dispatcher
	Model      Inferrer
	Captcha    captcha.Solver
	Merger     *merge.Merger
	Sink       Sink
	Progress   Progress
	Watchdog   Watchdog
}

// Options configures a run.
type Options struct {
	RunID            string
	Username         string
	Password         string
	MaxLoginAttempts int
	SubjectPause     time.Duration
	Limit            int // 0 processes every subject
	Offset           int
	NavTimeout       time.Duration
	ProbeTimeout     time.Duration // budget for single element probes
	MaxTextChars     int
	DebugDir         string // screenshots are written here when set
}

func (o *Options) defaults() {
	if o.MaxLoginAttempts < 1 {
		o.MaxLoginAttempts = 3
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = 30 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.MaxTextChars <= 0 {
		o.MaxTextChars = 15000
	}
}

const pollInterval = 250 * time.Millisecond

// Navigator runs the harvest pipeline against one portal.
type Navigator struct {
	recipe  *Recipe
	deps    Deps
	opts    Options
	machine *Machine
	acc     *merge.Accumulator
	logger  *slog.Logger

	extra      browser.Page // tab opened by the target steps
	recoveries int
	restarts   int
}

// New creates a navigator in LoggedOut.
func New(recipe *Recipe, deps Deps, opts Options, logger *slog.Logger) (*Navigator, error) {
	switch {
	case recipe == nil:
		return nil, errors.New("navigator: recipe is required")
	case deps.Session == nil, deps.Resolver == nil, deps.Executor == nil, deps.Dispatcher == nil:
		return nil, errors.New("navigator: session, resolver, executor and dispatcher are required")
	case deps.Model == nil, deps.Merger == nil, deps.Sink == nil:
		return nil, errors.New("navigator: model, merger and sink are required")
	}
	opts.defaults()

	logger = logger.With("component", "navigator")
	n := &Navigator{
		recipe:  recipe,
		deps:    deps,
		opts:    opts,
		machine: NewMachine(logger),
		acc:     merge.NewAccumulator(deps.Merger),
		logger:  logger,
	}
	n.machine.OnTransition(func(t Transition) {
		if deps.Watchdog != nil {
			deps.Watchdog.Touch()
		}
		if deps.Progress != nil {
			deps.Progress.StateChanged(t)
		}
	})
	return n, nil
}

// Machine exposes the state machine.
func (n *Navigator) Machine() *Machine { return n.machine }

// Records returns the records merged so far.
func (n *Navigator) Records() []*merge.SubjectRecord { return n.acc.Records() }

func (n *Navigator) touch() {
	if n.deps.Watchdog != nil {
		n.deps.Watchdog.Touch()
	}
}

// Login signs in, retrying with a fresh captcha while the portal rejects the
// captcha answer. Any other failure is terminal.
func (n *Navigator) Login(ctx context.Context) error {
	if err := n.machine.expect(LoggedOut); err != nil {
		return err
	}

	for attempt := 1; attempt <= n.opts.MaxLoginAttempts; attempt++ {
		if err := n.machine.transition(LoggingIn, fmt.Sprintf("login attempt %d", attempt)); err != nil {
			return err
		}

		err := n.attemptLogin(ctx)
		if err == nil {
			return n.machine.transition(AtList, "landing page reached")
		}
		if ctx.Err() != nil {
			n.machine.terminate("cancelled during login")
			return ctx.Err()
		}
		if errors.Is(err, ErrCaptchaRejected) || errors.Is(err, ErrCaptchaUnsolved) {
			n.logger.WarnContext(logging.WithStage(ctx, StageLogin), "captcha not accepted, retrying login", "attempt", attempt, "error", err)
			if err := n.machine.transition(LoggedOut, "captcha not accepted"); err != nil {
				return err
			}
			continue
		}

		n.machine.terminate("login failed")
		return &NavError{Op: "login", State: LoggingIn, Err: err}
	}

	n.machine.terminate("login attempts exhausted")
	return &NavError{Op: "login", State: LoggedOut, Err: ErrLoginExhausted}
}

func (n *Navigator) attemptLogin(ctx context.Context) error {
	ctx = logging.WithStage(ctx, StageLogin)
	page := n.deps.Session.Page()
	if err := n.navigate(ctx, page, n.recipe.LoginURL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	n.sweep(ctx, page)

	if err := n.deps.Executor.Sequence(ctx, page,
		action.Action{Kind: action.Type, Target: n.recipe.Username, Value: n.opts.Username},
		action.Action{Kind: action.Type, Target: n.recipe.Password, Value: n.opts.Password},
	); err != nil {
		return err
	}

	if n.recipe.HasCaptcha() {
		code, err := n.solveCaptcha(ctx, page)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCaptchaUnsolved, err)
		}
		res := n.deps.Executor.Perform(ctx, page, action.Action{Kind: action.Type, Target: n.recipe.CaptchaInput, Value: code})
		if !res.Success {
			return res.Error(n.recipe.CaptchaInput.Name())
		}
	}

	n.debugShot(ctx, page, "login", "submit")
	res := n.deps.Executor.Perform(ctx, page, action.Action{Kind: action.Click, Target: n.recipe.Submit})
	if !res.Success {
		return res.Error(n.recipe.Submit.Name())
	}
	return n.awaitLanding(ctx, page)
}

func (n *Navigator) solveCaptcha(ctx context.Context, page browser.Page) (string, error) {
	if n.deps.Captcha == nil {
		return "", captcha.ErrNoSolverAvailable
	}
	el, _, err := n.deps.Resolver.Resolve(ctx, page, n.recipe.CaptchaImage, n.opts.ProbeTimeout)
	if err != nil {
		return "", err
	}
	image, err := el.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture captcha: %w", err)
	}

	res, err := n.deps.Captcha.Solve(ctx, captcha.Challenge{
		Image:   image,
		Numeric: n.recipe.CaptchaNumeric,
		MinLen:  n.recipe.CaptchaMinLen,
		MaxLen:  n.recipe.CaptchaMaxLen,
	})
	if err != nil {
		return "", err
	}
	n.logger.Debug("captcha solved", "solver", res.SolverName)
	return res.Code, nil
}

// awaitLanding waits for the landing indicator or a login error message.
func (n *Navigator) awaitLanding(ctx context.Context, page browser.Page) error {
	deadline := time.Now().Add(n.opts.NavTimeout)
	for {
		if n.present(ctx, page, n.recipe.Landing) {
			return nil
		}
		if msg := n.loginError(ctx, page); msg != "" {
			if strings.Contains(strings.ToLower(msg), n.recipe.CaptchaErrorText) {
				return fmt.Errorf("%w: %s", ErrCaptchaRejected, msg)
			}
			return fmt.Errorf("%w: %s", ErrLoginRejected, msg)
		}
		if n.deps.Detector != nil {
			if det := n.deps.Detector.Detect(ctx, page); det.Kind == portal.KindServerError {
				return fmt.Errorf("portal error page after login: %s", det.Title)
			}
		}
		if time.Now().After(deadline) {
			return ErrLandingTimeout
		}
		if !sleep(ctx, pollInterval) {
			return ctx.Err()
		}
	}
}

func (n *Navigator) loginError(ctx context.Context, page browser.Page) string {
	if n.recipe.LoginError.Empty() {
		return ""
	}
	el, _, err := n.deps.Resolver.Resolve(ctx, page, n.recipe.LoginError, pollInterval)
	if err != nil {
		return ""
	}
	text, _ := el.Text(ctx)
	return strings.TrimSpace(text)
}

// present reports whether spec resolves within a short probe.
func (n *Navigator) present(ctx context.Context, page browser.Page, spec locator.Spec) bool {
	_, _, err := n.deps.Resolver.Resolve(ctx, page, spec, pollInterval)
	return err == nil
}

// subject is one row of the subject list.
type subject struct {
	index int
	label string
}

// listSubjects reads the list rows. Row text provides a fallback subject id
// for records whose content does not carry one.
func (n *Navigator) listSubjects(ctx context.Context) ([]subject, error) {
	page := n.deps.Session.Page()
	rows, err := page.Elements(ctx, n.recipe.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read subject rows: %w", err)
	}

	subjects := make([]subject, 0, len(rows))
	for i, row := range rows {
		text, _ := row.Text(ctx)
		label := fmt.Sprintf("row-%d", i+1)
		if fields := strings.Fields(text); len(fields) > 0 {
			label = fields[0]
		}
		subjects = append(subjects, subject{index: i, label: label})
	}

	if n.opts.Offset > 0 {
		subjects = subjects[min(n.opts.Offset, len(subjects)):]
	}
	if n.opts.Limit > 0 && len(subjects) > n.opts.Limit {
		subjects = subjects[:n.opts.Limit]
	}
	return subjects, nil
}

// openList navigates to the subject list and waits for its rows.
func (n *Navigator) openList(ctx context.Context) error {
	ctx = logging.WithStage(ctx, StageList)
	page := n.deps.Session.Page()
	if err := n.navigate(ctx, page, n.recipe.ListURL); err != nil {
		return err
	}
	if n.deps.Detector != nil {
		det := n.deps.Detector.Detect(ctx, page)
		if det.CanAuto {
			det, _ = n.deps.Detector.WaitForClear(ctx, page, n.opts.NavTimeout)
		}
		if det.Kind != portal.KindNone {
			return fmt.Errorf("%w: %s", ErrListUnavailable, det.Kind)
		}
	}
	return n.waitRows(ctx, page, n.opts.NavTimeout)
}

func (n *Navigator) waitRows(ctx context.Context, page browser.Page, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !page.Has(ctx, n.recipe.Rows) {
		if time.Now().After(deadline) {
			return ErrListUnavailable
		}
		if !sleep(ctx, pollInterval) {
			return ctx.Err()
		}
	}
	return nil
}

// processSubject opens one subject, extracts its target document, returns to
// the list and merges what the model read from the document.
func (n *Navigator) processSubject(ctx context.Context, s subject) (int, error) {
	ctx = logging.WithSubjectID(ctx, s.label)
	if err := n.machine.expect(AtList); err != nil {
		return 0, err
	}
	list := n.deps.Session.Page()

	n.sweep(ctx, list)
	row := n.recipe.RowTarget(s.index)
	if res := n.deps.Executor.Perform(logging.WithStage(ctx, StageOpenRow), list, action.Action{Kind: action.Click, Target: row}); !res.Success {
		return 0, &NavError{Op: StageOpenRow, State: AtList, SubjectID: s.label, Err: res.Error(row.Name())}
	}
	if err := n.machine.transition(AtDetail, "opened "+s.label); err != nil {
		return 0, err
	}
	n.touch()

	target, err := n.runTargetSteps(logging.WithStage(ctx, StageTarget), list)
	if err != nil {
		return 0, &NavError{Op: StageTarget, State: AtDetail, SubjectID: s.label, Err: err}
	}
	if err := n.machine.transition(AtExtractionTarget, "target document open"); err != nil {
		return 0, err
	}
	n.debugShot(ctx, target, s.label, "target")

	pages := n.deps.Dispatcher.ExtractPages(logging.WithStage(ctx, StageExtract), target)
	n.touch()

	if err := n.returnToList(logging.WithStage(ctx, StageReturn), list); err != nil {
		return len(pages), &NavError{Op: StageReturn, State: AtExtractionTarget, SubjectID: s.label, Err: err}
	}
	if err := n.machine.transition(AtList, "back at list"); err != nil {
		return len(pages), err
	}

	return len(pages), n.inferAndStore(ctx, s, pages)
}

func (n *Navigator) runTargetSteps(ctx context.Context, list browser.Page) (browser.Page, error) {
	current := list
	for _, step := range n.recipe.TargetSteps {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n.sweep(ctx, current)

		if step.OpensTab {
			from := current
			opened, err := from.WaitOpen(ctx, func() error {
				return n.deps.Executor.Perform(ctx, from, step.Action).Error(step.Action.Target.Name())
			})
			if err != nil {
				return nil, err
			}
			n.extra = opened
			current = opened
			continue
		}

		if res := n.deps.Executor.Perform(ctx, current, step.Action); !res.Success {
			return nil, res.Error(step.Action.Target.Name())
		}
		n.touch()
	}
	return current, nil
}

// returnToList closes an opened tab or runs the back steps, then makes sure
// the list is showing.
func (n *Navigator) returnToList(ctx context.Context, list browser.Page) error {
	if n.extra != nil {
		n.closeExtra(ctx)
		return n.openList(ctx)
	}
	if len(n.recipe.BackSteps) == 0 {
		return n.openList(ctx)
	}

	for _, step := range n.recipe.BackSteps {
		if res := n.deps.Executor.Perform(ctx, list, step.Action); !res.Success {
			return res.Error(step.Action.Target.Name())
		}
	}
	return n.waitRows(ctx, list, n.opts.NavTimeout)
}

func (n *Navigator) closeExtra(ctx context.Context) {
	if n.extra == nil {
		return
	}
	if err := n.extra.Close(context.WithoutCancel(ctx)); err != nil {
		n.logger.Debug("failed to close extraction tab", "error", err)
	}
	n.extra = nil
}

func (n *Navigator) inferAndStore(ctx context.Context, s subject, pages []extract.RawContent) error {
	sch := n.deps.Merger.Schema()

	// Pages of one subject can resolve to different ids, e.g. when only the
	// first screenshot carries the identity field. Every record touched is
	// written, in the order it was first resolved.
	touched := make(map[string]*merge.SubjectRecord)
	var ids []string
	inferCtx := logging.WithStage(ctx, StageInfer)
	for _, content := range extract.JoinText(pages, n.opts.MaxTextChars) {
		candidate, err := n.deps.Model.Infer(inferCtx, content, sch)
		if err != nil {
			return &NavError{Op: StageInfer, State: AtList, SubjectID: s.label, Err: err}
		}
		if content.Kind == extract.KindText {
			extract.ReadVitals(content.Text).Apply(sch, &candidate)
		}
		rec := n.acc.Add(s.label, candidate)
		if _, ok := touched[rec.ID]; !ok {
			ids = append(ids, rec.ID)
		}
		touched[rec.ID] = rec
		n.touch()
	}

	sinkCtx := logging.WithStage(ctx, StageSink)
	for _, id := range ids {
		rec := touched[id]
		if err := n.deps.Sink.Upsert(sinkCtx, rec); err != nil {
			return &NavError{Op: StageSink, State: AtList, SubjectID: rec.ID, Err: err}
		}
		n.logger.InfoContext(sinkCtx, "subject merged", "subject_id", rec.ID, "details", len(rec.Details), "sources", rec.Sources)
	}
	return nil
}

// Recover brings the navigator back to the list after a failure: an overlay
// sweep and list probe, then a fresh navigation to the list, then a new
// session and login. It never resumes an extraction target.
func (n *Navigator) Recover(ctx context.Context, cause error) error {
	if n.machine.State() != Recovering {
		if err := n.machine.transition(Recovering, cause.Error()); err != nil {
			return err
		}
	}
	n.recoveries++
	n.closeExtra(ctx)
	page := n.deps.Session.Page()

	n.sweep(ctx, page)
	if page.Has(ctx, n.recipe.Rows) {
		return n.machine.transition(AtList, "overlay sweep")
	}

	err := n.openList(ctx)
	if err == nil {
		return n.machine.transition(AtList, "list reloaded")
	}
	if ctx.Err() != nil {
		n.machine.terminate("cancelled during recovery")
		return ctx.Err()
	}
	n.logger.Warn("list navigation failed during recovery", "error", err)

	if err := n.relogin(ctx, false); err != nil {
		return &NavError{Op: "recover", State: Recovering, Err: fmt.Errorf("%w: %v", ErrRecoveryFailed, err)}
	}
	return nil
}

// relogin signs in again, first restarting the session when force is set or
// the browser no longer responds.
func (n *Navigator) relogin(ctx context.Context, force bool) error {
	if n.machine.State() != Recovering {
		if err := n.machine.transition(Recovering, "session reset"); err != nil {
			return err
		}
	}
	if force || !n.deps.Session.Alive(ctx) {
		n.logger.Warn("restarting browser session")
		if err := n.deps.Session.Restart(ctx); err != nil {
			n.machine.terminate("session restart failed")
			return fmt.Errorf("failed to restart session: %w", err)
		}
		n.restarts++
	}

	if err := n.machine.transition(LoggedOut, "re-login"); err != nil {
		return err
	}
	if err := n.Login(ctx); err != nil {
		return err
	}
	if err := n.openList(ctx); err != nil {
		n.machine.terminate("list unavailable after login")
		return err
	}
	return nil
}

// Run logs in and processes the subjects in list order. Records merged
// before a cancellation or a terminal failure are still flushed.
func (n *Navigator) Run(ctx context.Context) (summary *Summary, err error) {
	ctx = logging.WithRunID(ctx, n.opts.RunID)
	summary = &Summary{RunID: n.opts.RunID}

	defer func() {
		summary.Final = n.machine.State()
		summary.Recoveries = n.recoveries
		summary.Restarts = n.restarts
		n.closeExtra(ctx)

		res, flushErr := n.deps.Sink.Flush(context.WithoutCancel(ctx))
		if flushErr != nil {
			n.logger.Error("failed to flush records", "error", flushErr)
			err = errors.Join(err, flushErr)
			return
		}
		summary.Flush = res
	}()

	if err := n.Login(ctx); err != nil {
		return summary, err
	}
	if err := n.openList(ctx); err != nil {
		n.machine.terminate("list unavailable")
		return summary, &NavError{Op: "list", State: AtList, Err: err}
	}

	subjects, err := n.listSubjects(ctx)
	if err != nil {
		n.machine.terminate("list unreadable")
		return summary, err
	}
	summary.Total = len(subjects)
	if n.deps.Progress != nil {
		n.deps.Progress.RunStarted(n.opts.RunID, len(subjects))
	}
	n.logger.Info("processing subjects", "count", len(subjects), "offset", n.opts.Offset)

	for i, s := range subjects {
		if ctx.Err() != nil {
			n.logger.Warn("run cancelled", "processed", i, "remaining", len(subjects)-i)
			return summary, ctx.Err()
		}
		if i > 0 && !sleep(ctx, n.opts.SubjectPause) {
			return summary, ctx.Err()
		}

		outcome, fatal := n.runSubject(ctx, s)
		if outcome.Status == StatusOK {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		if n.deps.Progress != nil {
			n.deps.Progress.SubjectFinished(outcome)
		}
		if fatal != nil {
			return summary, fatal
		}
	}
	return summary, nil
}

// runSubject processes one subject and applies the failure policy. The
// returned error is non-nil only when the run cannot continue.
func (n *Navigator) runSubject(ctx context.Context, s subject) (Outcome, error) {
	start := time.Now()
	out := Outcome{Index: s.index, SubjectID: s.label, Status: StatusOK}
	finish := func() Outcome {
		out.Duration = time.Since(start)
		out.FinishedAt = time.Now()
		return out
	}

	subCtx, stop := n.watch(ctx)
	pages, err := n.processSubject(subCtx, s)
	stalled := subCtx.Err() != nil && ctx.Err() == nil
	stop()
	out.Pages = pages
	if err == nil {
		return finish(), nil
	}

	out.Status, out.Stage, out.Error = StatusFailed, stageOf(err), err.Error()
	if ctx.Err() != nil {
		return finish(), ctx.Err()
	}
	if stalled {
		err = fmt.Errorf("%w: no progress before stall timeout: %v", browser.ErrTimeout, err)
	}
	n.logger.Warn("subject failed", "subject_id", s.label, "stage", out.Stage, "error", err)
	if ferr := n.deps.Sink.RecordFailure(ctx, s.label, out.Stage, err); ferr != nil {
		n.logger.Error("failed to record subject failure", "error", ferr)
	}

	switch {
	case out.Stage == StageInfer || out.Stage == StageSink:
		// Already back at the list.
		return finish(), nil
	case errors.Is(err, browser.ErrSessionDead):
		if rerr := n.relogin(ctx, true); rerr != nil {
			n.machine.terminate("session could not be re-established")
			return finish(), rerr
		}
		return finish(), nil
	default:
		if rerr := n.Recover(ctx, err); rerr != nil {
			n.machine.terminate("recovery failed")
			return finish(), rerr
		}
		return finish(), nil
	}
}

func (n *Navigator) watch(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.deps.Watchdog == nil {
		return context.WithCancel(ctx)
	}
	return n.deps.Watchdog.Watch(ctx)
}

func (n *Navigator) navigate(ctx context.Context, page browser.Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, n.opts.NavTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	n.touch()
	return nil
}

func (n *Navigator) sweep(ctx context.Context, page browser.Page) bool {
	if n.deps.Sweeper == nil {
		return false
	}
	return n.deps.Sweeper.Sweep(ctx, page)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// debugShot writes a screenshot of page to the debug directory.
func (n *Navigator) debugShot(ctx context.Context, page browser.Page, subjectID, stage string) {
	if n.opts.DebugDir == "" {
		return
	}
	data, err := page.Screenshot(ctx)
	if err != nil || len(data) == 0 {
		return
	}
	if err := os.MkdirAll(n.opts.DebugDir, 0o755); err != nil {
		n.logger.Debug("failed to create debug directory", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%s.png", time.Now().Format("20060102T150405"), subjectID, stage)
	path := filepath.Join(n.opts.DebugDir, unsafeName.ReplaceAllString(name, "_"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		n.logger.Debug("failed to write debug screenshot", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
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
