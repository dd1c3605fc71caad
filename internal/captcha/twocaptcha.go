package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jmylchreest/refyne-harvest/internal/version"
)

const (
	twoCaptchaBaseURL = "https://2captcha.com"
	// Price per normal image captcha (as of 2025): $1.00/1000.
	twoCaptchaImagePrice = 0.001
)

// TwoCaptcha solves image captchas through 2Captcha's human workers.
type TwoCaptcha struct {
	apiKey     string
	http       *resty.Client
	pollDelay  time.Duration
	maxRetries int
}

// TwoCaptchaOption configures a TwoCaptcha solver.
type TwoCaptchaOption func(*TwoCaptcha)

// WithBaseURL points the solver at another API host.
func WithBaseURL(url string) TwoCaptchaOption {
	return func(t *TwoCaptcha) { t.http.SetBaseURL(strings.TrimSuffix(url, "/")) }
}

// WithPolling sets the result polling interval and attempt count.
func WithPolling(delay time.Duration, maxRetries int) TwoCaptchaOption {
	return func(t *TwoCaptcha) {
		t.pollDelay = delay
		t.maxRetries = maxRetries
	}
}

// NewTwoCaptcha creates a new 2Captcha solver.
func NewTwoCaptcha(apiKey string, opts ...TwoCaptchaOption) *TwoCaptcha {
	t := &TwoCaptcha{
		apiKey: apiKey,
		http: resty.New().
			SetBaseURL(twoCaptchaBaseURL).
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", version.UserAgent()),
		pollDelay:  5 * time.Second,
		maxRetries: 24, // 2 minutes
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "2captcha".
func (t *TwoCaptcha) Name() string {
	return "2captcha"
}

// Cost returns the cost per solve.
func (t *TwoCaptcha) Cost() float64 {
	return twoCaptchaImagePrice
}

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the image and waits for the solution.
func (t *TwoCaptcha) Solve(ctx context.Context, ch Challenge) (*Result, error) {
	taskID, err := t.submitTask(ctx, ch)
	if err != nil {
		return nil, err
	}

	code, err := t.pollResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Code:       strings.TrimSpace(code),
		Cost:       t.Cost(),
		SolverName: t.Name(),
	}, nil
}

// Balance returns the current account balance.
func (t *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	res, err := t.http.R().SetContext(ctx).SetQueryParams(map[string]string{
		"key":    t.apiKey,
		"action": "getbalance",
		"json":   "1",
	}).Get("/res.php")
	if err != nil {
		return -1, err
	}

	var result twoCaptchaResponse
	if err := json.Unmarshal(res.Body(), &result); err != nil {
		// Try parsing as plain number
		balance, err := strconv.ParseFloat(strings.TrimSpace(res.String()), 64)
		if err != nil {
			return -1, fmt.Errorf("failed to parse balance: %s", res.String())
		}
		return balance, nil
	}
	if result.Status != 1 {
		return -1, fmt.Errorf("failed to get balance: %s", result.Request)
	}

	balance, _ := strconv.ParseFloat(result.Request, 64)
	return balance, nil
}

func (t *TwoCaptcha) submitTask(ctx context.Context, ch Challenge) (string, error) {
	form := map[string]string{
		"key":    t.apiKey,
		"method": "base64",
		"body":   base64.StdEncoding.EncodeToString(ch.Image),
		"json":   "1",
	}
	if ch.Numeric {
		form["numeric"] = "1"
	}
	if ch.MinLen > 0 {
		form["min_len"] = strconv.Itoa(ch.MinLen)
	}
	if ch.MaxLen > 0 {
		form["max_len"] = strconv.Itoa(ch.MaxLen)
	}

	res, err := t.http.R().SetContext(ctx).SetFormData(form).Post("/in.php")
	if err != nil {
		return "", &SolverError{Message: "2captcha submit failed", Cause: err}
	}

	var result twoCaptchaResponse
	if err := json.Unmarshal(res.Body(), &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %s", res.String())
	}
	if result.Status != 1 {
		return "", &SolverError{Message: fmt.Sprintf("2captcha error: %s", result.Request)}
	}
	return result.Request, nil
}

func (t *TwoCaptcha) pollResult(ctx context.Context, taskID string) (string, error) {
	params := map[string]string{
		"key":    t.apiKey,
		"action": "get",
		"id":     taskID,
		"json":   "1",
	}

	for i := 0; i < t.maxRetries; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollDelay):
		}

		res, err := t.http.R().SetContext(ctx).SetQueryParams(params).Get("/res.php")
		if err != nil {
			continue
		}

		var result twoCaptchaResponse
		if err := json.Unmarshal(res.Body(), &result); err != nil {
			continue
		}
		if result.Status == 1 {
			return result.Request, nil
		}

		switch result.Request {
		case "CAPCHA_NOT_READY":
			continue
		case "ERROR_CAPTCHA_UNSOLVABLE":
			return "", &SolverError{Message: "CAPTCHA is unsolvable"}
		case "ERROR_WRONG_CAPTCHA_ID":
			return "", &SolverError{Message: "wrong CAPTCHA ID"}
		default:
			if strings.HasPrefix(result.Request, "ERROR_") {
				return "", &SolverError{Message: result.Request}
			}
		}
	}

	return "", ErrSolverTimeout
}
