// Package captcha reads the image captchas shown on portal login forms.
package captcha

import (
	"context"
	"log/slog"
	"strings"
)

// Solver reads the code shown in a captcha image.
type Solver interface {
	// Name returns the solver's name (e.g., "llm", "2captcha").
	Name() string

	// Solve returns the code shown in the challenge image.
	Solve(ctx context.Context, ch Challenge) (*Result, error)

	// Cost returns the estimated cost of one solve.
	Cost() float64
}

// Challenge is one captcha image to read.
type Challenge struct {
	Image   []byte
	Numeric bool // the code contains only digits
	MinLen  int  // 0 means no bound
	MaxLen  int  // 0 means no bound
}

// Valid reports whether code could be an answer to ch.
func (ch Challenge) Valid(code string) bool {
	if code == "" {
		return false
	}
	if ch.Numeric && strings.IndexFunc(code, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return false
	}
	n := len([]rune(code))
	if ch.MinLen > 0 && n < ch.MinLen {
		return false
	}
	if ch.MaxLen > 0 && n > ch.MaxLen {
		return false
	}
	return true
}

// Result is a solved captcha.
type Result struct {
	Code       string
	Cost       float64
	SolverName string
}

// Chain is a solver that tries multiple solvers in order.
type Chain struct {
	solvers []Solver
	logger  *slog.Logger
}

// NewChain creates a new solver chain. Nil solvers are skipped.
func NewChain(logger *slog.Logger, solvers ...Solver) *Chain {
	c := &Chain{logger: logger.With("component", "captcha")}
	for _, s := range solvers {
		if s != nil {
			c.solvers = append(c.solvers, s)
		}
	}
	return c
}

// Name returns "chain".
func (c *Chain) Name() string {
	return "chain"
}

// Len returns the number of solvers in the chain.
func (c *Chain) Len() int { return len(c.solvers) }

// Solve tries each solver in order until one returns a code that passes
// Challenge.Valid.
func (c *Chain) Solve(ctx context.Context, ch Challenge) (*Result, error) {
	if len(ch.Image) == 0 {
		return nil, ErrEmptyImage
	}

	var lastErr error
	for _, s := range c.solvers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := s.Solve(ctx, ch)
		if err != nil {
			c.logger.Warn("captcha solver failed", "solver", s.Name(), "error", err)
			lastErr = err
			continue
		}
		if !ch.Valid(result.Code) {
			c.logger.Warn("captcha solver returned an invalid code", "solver", s.Name(), "length", len(result.Code))
			lastErr = &SolverError{Message: "invalid code from " + s.Name()}
			continue
		}

		c.logger.Debug("captcha solved", "solver", s.Name(), "length", len(result.Code))
		return result, nil
	}

	if lastErr != nil {
		return nil, &SolverError{Message: "all solvers failed", Cause: lastErr}
	}
	return nil, ErrNoSolverAvailable
}

// Cost returns the lowest cost among the chained solvers.
func (c *Chain) Cost() float64 {
	minCost := float64(-1)
	for _, s := range c.solvers {
		if cost := s.Cost(); minCost < 0 || cost < minCost {
			minCost = cost
		}
	}
	return minCost
}

// Errors
var (
	ErrNoSolverAvailable = &SolverError{Message: "no captcha solver configured"}
	ErrSolverTimeout     = &SolverError{Message: "solver timeout"}
	ErrEmptyImage        = &SolverError{Message: "empty captcha image"}
)

// SolverError represents a solver error.
type SolverError struct {
	Message string
	Cause   error
}

func (e *SolverError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SolverError) Unwrap() error {
	return e.Cause
}
