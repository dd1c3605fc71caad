// Package shutdown provides cancellation utilities for long-running runs,
// including the stall watchdog.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStalled is the cancellation cause of a watched context that saw no
// progress within the stall timeout.
var ErrStalled = errors.New("no progress within stall timeout")

// StallMonitor cancels watched contexts when Touch has not been called for
// longer than the timeout.
type StallMonitor struct {
	timeout   time.Duration
	interval  time.Duration
	lastTouch atomic.Int64 // unix nanos
	stalls    atomic.Int64
	logger    *slog.Logger
}

// NewStallMonitor creates a monitor. A timeout <= 0 disables it: Watch then
// only adds a plain cancel.
func NewStallMonitor(timeout time.Duration, logger *slog.Logger) *StallMonitor {
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	m := &StallMonitor{
		timeout:  timeout,
		interval: interval,
		logger:   logger.With("component", "stall-monitor"),
	}
	m.Touch()
	return m
}

// IsEnabled returns true if the timeout is positive.
func (m *StallMonitor) IsEnabled() bool {
	return m.timeout > 0
}

// Touch records progress.
func (m *StallMonitor) Touch() {
	m.lastTouch.Store(time.Now().UnixNano())
}

// LastTouch returns the time of the last recorded progress.
func (m *StallMonitor) LastTouch() time.Time {
	return time.Unix(0, m.lastTouch.Load())
}

// IdleTime returns how long the monitor has gone without progress.
func (m *StallMonitor) IdleTime() time.Duration {
	return time.Since(m.LastTouch())
}

// Stalls returns how many watched contexts were cancelled for stalling.
func (m *StallMonitor) Stalls() int64 {
	return m.stalls.Load()
}

// Watch returns a child of ctx that is cancelled with ErrStalled once the
// monitor goes idle for longer than the timeout. Watching counts as progress.
// The returned cancel func stops the watcher and must be called.
func (m *StallMonitor) Watch(ctx context.Context) (context.Context, context.CancelFunc) {
	if !m.IsEnabled() {
		return context.WithCancel(ctx)
	}
	m.Touch()

	wctx, cancel := context.WithCancelCause(ctx)
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.run(wctx, stopCh, cancel)
	}()

	var once sync.Once
	return wctx, func() {
		once.Do(func() {
			close(stopCh)
			wg.Wait()
			cancel(context.Canceled)
		})
	}
}

func (m *StallMonitor) run(ctx context.Context, stopCh <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := m.IdleTime()
			if idle <= m.timeout {
				if idle > m.timeout/2 {
					m.logger.Debug("stall check", "idle_time", idle.Round(time.Millisecond), "timeout", m.timeout)
				}
				continue
			}
			m.stalls.Add(1)
			m.logger.Warn("run stalled, cancelling current subject",
				"idle_time", idle.Round(time.Millisecond),
				"timeout", m.timeout,
			)
			cancel(ErrStalled)
			return
		}
	}
}
