// Package api assembles the status API router and runs its HTTP server.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jmylchreest/refyne-harvest/internal/api/handlers"
	"github.com/jmylchreest/refyne-harvest/internal/auth"
	"github.com/jmylchreest/refyne-harvest/internal/http/mw"
	"github.com/jmylchreest/refyne-harvest/internal/models"
	"github.com/jmylchreest/refyne-harvest/internal/status"
	"github.com/jmylchreest/refyne-harvest/internal/version"
)

// Config configures the status API.
type Config struct {
	Addr                 string
	Secret               string // HS256 secret; empty requires AllowUnauthenticated
	AllowUnauthenticated bool
	RateLimit            int // requests per minute per IP; 0 disables
}

// NewRouter builds the status API handler.
func NewRouter(cfg Config, tracker *status.Tracker, idle handlers.Idler, logger *slog.Logger) (http.Handler, error) {
	authConfig := mw.AuthConfig{AllowUnauthenticated: cfg.AllowUnauthenticated, Logger: logger}
	if cfg.Secret != "" {
		verifier, err := auth.NewVerifier(cfg.Secret)
		if err != nil {
			return nil, err
		}
		authConfig.Verifier = verifier
	}
	if authConfig.Verifier == nil && !cfg.AllowUnauthenticated {
		return nil, errors.New("status API needs STATUS_API_SECRET or ALLOW_UNAUTHENTICATED")
	}
	if cfg.AllowUnauthenticated {
		logger.Warn("authentication disabled - ALLOW_UNAUTHENTICATED is set")
	}

	healthHandler := handlers.NewHealthHandler(tracker, idle)
	runHandler := handlers.NewRunHandler(tracker, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}

	humaConfig := huma.DefaultConfig("Harvest Status", version.Get().Version)
	humaConfig.Info.Description = "Progress and control of a running portal harvest"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns liveness and the run phase",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*models.HumaHealthResponse, error) {
		return &models.HumaHealthResponse{Body: *healthHandler.Handle(ctx)}, nil
	})

	// Protected groups add their operations to the same OpenAPI document but
	// serve no docs routes of their own.
	protectedConfig := humaConfig
	protectedConfig.OpenAPIPath = ""
	protectedConfig.DocsPath = ""
	protectedConfig.SchemasPath = ""

	r.Group(func(g chi.Router) {
		g.Use(mw.Auth(authConfig), mw.RequireScope(auth.ScopeRead))
		readAPI := humachi.New(g, protectedConfig)

		huma.Register(readAPI, huma.Operation{
			OperationID: "getRun",
			Method:      http.MethodGet,
			Path:        "/v1/run",
			Summary:     "Run status",
			Description: "Returns counters, the navigator state and recent transitions",
			Tags:        []string{"Run"},
		}, runHandler.Status)

		huma.Register(readAPI, huma.Operation{
			OperationID: "listSubjects",
			Method:      http.MethodGet,
			Path:        "/v1/run/subjects",
			Summary:     "Subject outcomes",
			Description: "Lists processed subjects, optionally filtered by outcome",
			Tags:        []string{"Run"},
		}, runHandler.Subjects)
	})

	r.Group(func(g chi.Router) {
		g.Use(mw.Auth(authConfig), mw.RequireScope(auth.ScopeCancel))
		cancelAPI := humachi.New(g, protectedConfig)

		huma.Register(cancelAPI, huma.Operation{
			OperationID: "cancelRun",
			Method:      http.MethodPost,
			Path:        "/v1/run/cancel",
			Summary:     "Cancel run",
			Description: "Stops the run; collected records are still flushed",
			Tags:        []string{"Run"},
		}, runHandler.Cancel)
	})

	return r, nil
}

// Serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down status server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server forced to shutdown", "error", err)
		return err
	}
	logger.Info("status server stopped")
	return nil
}
