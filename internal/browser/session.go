package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/oklog/ulid/v2"
)

// ErrSessionClosed is returned by a session after Close.
var ErrSessionClosed = errors.New("browser session closed")

// Options configures how the browser is launched.
type Options struct {
	ChromePath        string
	Headless          bool
	NavigationTimeout time.Duration
}

// Session owns one browser process and its main tab. A run holds exactly one
// Session; it is created on run start and disposed on run end or fatal error.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	id        string
	launcher  *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	createdAt time.Time
	restarts  int
	closed    bool
}

// NewSession creates an unstarted session.
func NewSession(opts Options, logger *slog.Logger) *Session {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Session{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

// Start launches the browser and opens a stealth main tab.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.start(ctx)
}

func (s *Session) start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The process outlives ctx: a restart during one subject's recovery must
	// keep serving the rest of the run.
	l := launcher.New()

	if s.opts.ChromePath != "" {
		l = l.Bin(s.opts.ChromePath)
	}

	l = l.
		Headless(s.opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-infobars").
		Set("disable-extensions").
		Set("window-size", "1920,1080").
		Set("lang", "es-ES,es")

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := newStealthPage(b)
	if err != nil {
		_ = b.Close()
		l.Kill()
		return err
	}

	s.id = ulid.Make().String()
	s.launcher = l
	s.browser = b
	s.page = page
	s.createdAt = time.Now()

	s.logger.Info("browser started", "session_id", s.id, "headless", s.opts.Headless)
	return nil
}

// Page returns the main tab.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return nil
	}
	return WrapPage(s.page)
}

// ID returns the ULID of the current browser process.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Alive reports whether the browser still answers on its control connection
// and the main tab can still evaluate script.
func (s *Session) Alive(ctx context.Context) bool {
	s.mu.Lock()
	b, page := s.browser, s.page
	s.mu.Unlock()

	if b == nil || page == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := b.Context(ctx).Pages(); err != nil {
		return false
	}
	res, err := page.Context(ctx).Eval(`() => document.readyState`)
	return err == nil && !res.Value.Nil()
}

// Restart tears the browser down and launches a fresh one. Cookies and login
// state are lost, so the caller must log in again.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	s.logger.Warn("restarting browser", "session_id", s.id, "age", time.Since(s.createdAt).Round(time.Second))
	s.teardown()
	s.restarts++
	return s.start(ctx)
}

// Restarts returns how many times the session was re-created.
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.teardown()
	s.logger.Info("browser closed", "session_id", s.id)
	return nil
}

func (s *Session) teardown() {
	if s.browser != nil {
		// The process may already be gone; Kill below cleans up regardless.
		_ = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	s.browser, s.page, s.launcher = nil, nil, nil
}
