package captcha

import (
	"context"
	"fmt"
)

// Reader is a model that can read captcha digits.
type Reader interface {
	ReadCaptcha(ctx context.Context, image []byte) (string, error)
}

// LLMSolver reads captchas with the extraction model.
type LLMSolver struct {
	reader Reader
}

// NewLLMSolver wraps r.
func NewLLMSolver(r Reader) *LLMSolver {
	return &LLMSolver{reader: r}
}

// Name returns "llm".
func (s *LLMSolver) Name() string { return "llm" }

// Cost is accounted with the model's token usage.
func (s *LLMSolver) Cost() float64 { return 0 }

// Solve asks the model for the code.
func (s *LLMSolver) Solve(ctx context.Context, ch Challenge) (*Result, error) {
	code, err := s.reader.ReadCaptcha(ctx, ch.Image)
	if err != nil {
		return nil, fmt.Errorf("llm captcha read failed: %w", err)
	}
	return &Result{Code: code, SolverName: s.Name()}, nil
}
