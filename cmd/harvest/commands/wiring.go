package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jmylchreest/refyne-harvest/internal/captcha"
	"github.com/jmylchreest/refyne-harvest/internal/llm"
	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/navigator"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
	"github.com/jmylchreest/refyne-harvest/internal/store"
)

// schemaFor returns the recipe's schema override, or the clinical schema.
func schemaFor(recipe *navigator.Recipe) *schema.Schema {
	if recipe != nil && recipe.Schema != nil {
		return recipe.Schema
	}
	return schema.Clinical()
}

// loadSchema reads the schema from an optional recipe file.
func loadSchema(recipePath string) (*schema.Schema, error) {
	if recipePath == "" {
		return schema.Clinical(), nil
	}
	recipe, err := navigator.LoadRecipe(recipePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	return schemaFor(recipe), nil
}

func newModel() *llm.Client {
	return llm.NewClient(llm.Options{
		Provider:       cfg.LLMProvider,
		Model:          cfg.LLMModel,
		FallbackModels: cfg.LLMFallbackModels,
		APIKey:         cfg.LLMAPIKey,
		BaseURL:        cfg.LLMBaseURL,
		Temperature:    cfg.LLMTemperature,
		MaxTokens:      cfg.LLMMaxTokens,
		Timeout:        cfg.LLMTimeout,
	}, logger)
}

// newCaptchaChain tries the model first, then 2captcha when a key is set.
func newCaptchaChain(model *llm.Client) *captcha.Chain {
	solvers := []captcha.Solver{captcha.NewLLMSolver(model)}
	if cfg.TwoCaptchaAPIKey != "" {
		logger.Info("2Captcha solver enabled")
		solvers = append(solvers, captcha.NewTwoCaptcha(cfg.TwoCaptchaAPIKey))
	}
	return captcha.NewChain(logger, solvers...)
}

// output bundles the journal and the sink writing the tables.
type output struct {
	journal *store.Journal
	sink    *store.Sink
}

func (o *output) Close() error {
	return o.journal.Close()
}

// openOutput opens the journal and builds a sink for runID. Uploads are
// wired only when upload is true.
func openOutput(ctx context.Context, merger *merge.Merger, runID string, upload bool) (*output, error) {
	journal, err := store.OpenJournal(cfg.JournalPath, store.JournalOptions{
		TursoURL:       cfg.TursoURL,
		TursoAuthToken: cfg.TursoAuthToken,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", filepath.Clean(cfg.JournalPath), err)
	}

	opts := store.SinkOptions{OutputDir: cfg.OutputDir, RunID: runID, Prefix: cfg.StoragePrefix}
	if upload {
		uploader, err := store.NewS3Uploader(ctx, store.S3Options{
			Enabled:   cfg.StorageEnabled,
			Endpoint:  cfg.StorageEndpoint,
			Region:    cfg.StorageRegion,
			Bucket:    cfg.StorageBucket,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
		}, logger)
		if err != nil {
			_ = journal.Close()
			return nil, err
		}
		opts.Uploader = uploader
	}

	return &output{journal: journal, sink: store.NewSink(journal, merger, opts, logger)}, nil
}
