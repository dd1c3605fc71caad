// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Context-based run/subject/stage extraction for filtering
// - Dynamic filter-based logging via slog-logfilter library
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	logfilter "github.com/jmylchreest/slog-logfilter"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// RunIDKey is the context key for the harvest run ID.
	RunIDKey ContextKey = "log_run_id"
	// StageKey is the context key for the pipeline stage (login, list, detail, target, extract, infer, persist).
	StageKey ContextKey = "log_stage"
	// SubjectIDKey is the context key for the subject being processed.
	// Subject identifiers are patient identifiers: used for filter matching only, never logged.
	SubjectIDKey ContextKey = "log_subject_id"
)

// WithRunID adds a run ID to the context for logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithStage adds the current pipeline stage to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

// WithSubjectID adds a subject ID to the context for filter matching.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, SubjectIDKey, subjectID)
}

func getString(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetRunID extracts the run ID from context.
func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// GetStage extracts the pipeline stage from context.
func GetStage(ctx context.Context) string {
	return getString(ctx, StageKey)
}

// GetSubjectID extracts the subject ID from context.
func GetSubjectID(ctx context.Context) string {
	return getString(ctx, SubjectIDKey)
}

// FromContext returns a logger with run_id and stage from context added as attributes.
// The subject ID is NOT included (PII).
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}

	var args []any
	if runID := GetRunID(ctx); runID != "" {
		args = append(args, "run_id", runID)
	}
	if stage := GetStage(ctx); stage != "" {
		args = append(args, "stage", stage)
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}

var registerOnce sync.Once

// registerContextExtractors registers the context extractors for filtering.
func registerContextExtractors() {
	registerOnce.Do(func() {
		for name, key := range map[string]ContextKey{
			"run_id":     RunIDKey,
			"stage":      StageKey,
			"subject_id": SubjectIDKey,
		} {
			key := key
			logfilter.RegisterContextExtractor(name, func(ctx context.Context) (string, bool) {
				s := getString(ctx, key)
				return s, s != ""
			})
		}
	})
}

// New creates a new configured logger using slog-logfilter.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. TTY detection (text for TTY, JSON otherwise)
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info)
func New() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	format := "json"
	if logFormat == "text" || (logFormat == "" && isatty(os.Stderr)) {
		format = "text"
	}

	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	registerContextExtractors()

	// Reports go to stdout, so logs stay on stderr.
	return logfilter.New(
		logfilter.WithLevel(level),
		logfilter.WithFormat(format),
		logfilter.WithOutput(os.Stderr),
		logfilter.WithSource(level == slog.LevelDebug),
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault creates a new logger and sets it as the default slog logger.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime.
func SetLevel(level slog.Level) {
	logfilter.SetLevel(level)
}

// ParseLevel exposes level parsing for the --log-level flag.
func ParseLevel(level string) slog.Level {
	return parseLogLevel(level)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	return logfilter.GetLevel()
}

// SetFilters replaces all log filters.
func SetFilters(filters []logfilter.LogFilter) {
	logfilter.SetFilters(filters)
}

// GetFilters returns a copy of the current filters.
func GetFilters() []logfilter.LogFilter {
	return logfilter.GetFilters()
}

// Discard returns a logger that drops everything. Used by tests and quiet commands.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
