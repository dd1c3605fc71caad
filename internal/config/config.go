// Package config provides configuration management for the harvester.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a harvest run.
type Config struct {
	// Portal settings
	RecipePath     string
	PortalUsername string
	PortalPassword string
	SubjectLimit   int // 0 means every row on the list
	SubjectOffset  int
	SubjectPause   time.Duration

	// Browser settings
	ChromePath        string
	Headless          bool
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	ActionRetries     int
	RetryDelay        time.Duration
	SettleDelay       time.Duration
	MaxLoginAttempts  int

	// Extraction settings
	MinContentChars  int
	MaxTextChars     int
	ExtraPages       int
	DebugScreenshots bool

	// LLM settings
	LLMProvider       string
	LLMModel          string
	LLMFallbackModels []string
	LLMAPIKey         string
	LLMBaseURL        string
	LLMTemperature    float64
	LLMMaxTokens      int
	LLMTimeout        time.Duration

	// CAPTCHA solver settings
	TwoCaptchaAPIKey string

	// Output settings
	OutputDir      string
	JournalPath    string
	TursoURL       string // Embedded replica sync target for the journal
	TursoAuthToken string

	// Object storage (S3-compatible) for flushed tables
	StorageEnabled   bool
	StorageEndpoint  string
	StorageRegion    string
	StorageBucket    string
	StorageAccessKey string
	StorageSecretKey string
	StoragePrefix    string

	// Status API
	StatusAddr           string // empty disables the status server
	StatusAPISecret      string // HS256 secret for bearer tokens
	AllowUnauthenticated bool
	StatusRateLimit      int // requests per minute per IP

	// Watchdog
	StallTimeout time.Duration
}

// Known LLM providers.
var providers = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"anthropic":  true,
	"ollama":     true,
}

// ErrInvalidConfig is returned when the loaded configuration cannot drive a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load creates a Config from environment variables with sensible defaults.
// A .env file in the working directory is read first when present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	outputDir := getEnv("OUTPUT_DIR", "output")

	cfg := &Config{
		RecipePath:     getEnv("RECIPE_PATH", "recipe.json5"),
		PortalUsername: getEnv("PORTAL_USERNAME", ""),
		PortalPassword: getEnv("PORTAL_PASSWORD", ""),
		SubjectLimit:   getEnvInt("SUBJECT_LIMIT", 0),
		SubjectOffset:  getEnvInt("SUBJECT_OFFSET", 0),
		SubjectPause:   getEnvDuration("SUBJECT_PAUSE", 3*time.Second),

		ChromePath:        getEnv("CHROME_PATH", ""),
		Headless:          getEnvBool("HEADLESS", true),
		NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		ActionTimeout:     getEnvDuration("ACTION_TIMEOUT", 10*time.Second),
		ActionRetries:     getEnvInt("ACTION_RETRIES", 3),
		RetryDelay:        getEnvDuration("RETRY_DELAY", 500*time.Millisecond),
		SettleDelay:       getEnvDuration("SETTLE_DELAY", 300*time.Millisecond),
		MaxLoginAttempts:  getEnvInt("MAX_LOGIN_ATTEMPTS", 5),

		MinContentChars:  getEnvInt("MIN_CONTENT_CHARS", 100),
		MaxTextChars:     getEnvInt("MAX_TEXT_CHARS", 15000),
		ExtraPages:       getEnvInt("EXTRA_PAGES", 3),
		DebugScreenshots: getEnvBool("DEBUG_SCREENSHOTS", false),

		LLMProvider:       strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o"),
		LLMFallbackModels: getEnvList("LLM_FALLBACK_MODELS"),
		LLMAPIKey:         getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 2000),
		LLMTimeout:        getEnvDuration("LLM_TIMEOUT", 120*time.Second),

		TwoCaptchaAPIKey: getEnv("TWOCAPTCHA_API_KEY", ""),

		OutputDir:      outputDir,
		JournalPath:    getEnv("JOURNAL_PATH", filepath.Join(outputDir, "journal.db")),
		TursoURL:       getEnv("TURSO_URL", ""),
		TursoAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", ""),
		StorageRegion:    getEnv("STORAGE_REGION", "auto"),
		StorageBucket:    getEnv("STORAGE_BUCKET", ""),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
		StoragePrefix:    getEnv("STORAGE_PREFIX", "harvest"),

		StatusAddr:           getEnv("STATUS_ADDR", ""),
		StatusAPISecret:      getEnv("STATUS_API_SECRET", ""),
		AllowUnauthenticated: getEnvBool("ALLOW_UNAUTHENTICATED", false),
		StatusRateLimit:      getEnvInt("STATUS_RATE_LIMIT", 60),

		StallTimeout: getEnvDuration("STALL_TIMEOUT", 5*time.Minute),
	}
	cfg.StorageEnabled = cfg.StorageBucket != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if !providers[c.LLMProvider] {
		return fmt.Errorf("%w: unknown LLM_PROVIDER %q", ErrInvalidConfig, c.LLMProvider)
	}
	if c.ActionRetries < 1 {
		return fmt.Errorf("%w: ACTION_RETRIES must be at least 1", ErrInvalidConfig)
	}
	if c.MaxLoginAttempts < 1 {
		return fmt.Errorf("%w: MAX_LOGIN_ATTEMPTS must be at least 1", ErrInvalidConfig)
	}
	if c.StorageEnabled && c.StorageEndpoint == "" {
		return fmt.Errorf("%w: STORAGE_ENDPOINT is required when STORAGE_BUCKET is set", ErrInvalidConfig)
	}
	return nil
}

// RequirePortal checks the settings a portal run needs on top of Validate.
func (c *Config) RequirePortal() error {
	if c.PortalUsername == "" || c.PortalPassword == "" {
		return fmt.Errorf("%w: PORTAL_USERNAME and PORTAL_PASSWORD are required", ErrInvalidConfig)
	}
	if c.LLMAPIKey == "" && c.LLMProvider != "ollama" {
		return fmt.Errorf("%w: LLM_API_KEY is required for provider %s", ErrInvalidConfig, c.LLMProvider)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
