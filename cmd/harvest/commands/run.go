package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/refyne-harvest/internal/action"
	"github.com/jmylchreest/refyne-harvest/internal/api"
	"github.com/jmylchreest/refyne-harvest/internal/browser"
	"github.com/jmylchreest/refyne-harvest/internal/extract"
	"github.com/jmylchreest/refyne-harvest/internal/locator"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/navigator"
	"github.com/jmylchreest/refyne-harvest/internal/overlay"
	"github.com/jmylchreest/refyne-harvest/internal/portal"
	"github.com/jmylchreest/refyne-harvest/internal/shutdown"
	"github.com/jmylchreest/refyne-harvest/internal/status"
	"github.com/jmylchreest/refyne-harvest/internal/version"
)

var runFlags struct {
	recipe     string
	limit      int
	offset     int
	statusAddr string
	headful    bool
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.recipe, "recipe", "", "Portal recipe file (json5 or yaml); overrides RECIPE_PATH.")
	f.IntVar(&runFlags.limit, "limit", 0, "Process at most this many subjects; overrides SUBJECT_LIMIT.")
	f.IntVar(&runFlags.offset, "offset", 0, "Skip this many rows of the list; overrides SUBJECT_OFFSET.")
	f.StringVar(&runFlags.statusAddr, "status-addr", "", "Serve the status API on this address (e.g. :8090); overrides STATUS_ADDR.")
	f.BoolVar(&runFlags.headful, "headful", false, "Show the browser window.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--recipe <path>] [--limit N] [--offset N] [--status-addr :8090]",
	Short: "Log into the portal and harvest every subject on its list.",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		if f.Changed("recipe") {
			cfg.RecipePath = runFlags.recipe
		}
		if f.Changed("limit") {
			cfg.SubjectLimit = runFlags.limit
		}
		if f.Changed("offset") {
			cfg.SubjectOffset = runFlags.offset
		}
		if f.Changed("status-addr") {
			cfg.StatusAddr = runFlags.statusAddr
		}
		if runFlags.headful {
			cfg.Headless = false
		}
		if err := cfg.RequirePortal(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runHarvest(ctx)
	},
}

func runHarvest(ctx context.Context) error {
	recipe, err := navigator.LoadRecipe(cfg.RecipePath)
	if err != nil {
		return fmt.Errorf("failed to load recipe: %w", err)
	}

	runID := ulid.Make().String()
	ctx = logging.WithRunID(ctx, runID)
	logger.Info("starting harvest",
		"version", version.Get().Version,
		"run_id", runID,
		"recipe", recipe.Name,
		"limit", cfg.SubjectLimit,
		"offset", cfg.SubjectOffset,
	)

	merger := merge.New(schemaFor(recipe))
	out, err := openOutput(ctx, merger, runID, true)
	if err != nil {
		return err
	}
	defer out.Close()

	session := browser.NewSession(browser.Options{
		ChromePath:        cfg.ChromePath,
		Headless:          cfg.Headless,
		NavigationTimeout: cfg.NavigationTimeout,
	}, logger)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer session.Close()

	model := newModel()
	resolver := locator.NewResolver(logger)
	sweeper := overlay.NewSweeper(logger, recipe.OverlaySelectors...)
	executor := action.NewExecutor(resolver, sweeper, action.Options{
		Timeout:    cfg.ActionTimeout,
		Retries:    cfg.ActionRetries,
		RetryDelay: cfg.RetryDelay,
		Settle:     cfg.SettleDelay,
	}, logger)
	dispatcher := extract.NewDispatcher(extract.Options{
		ContentSelector: recipe.ContentSelector,
		MinContent:      cfg.MinContentChars,
		MaxTextChars:    cfg.MaxTextChars,
		ReadTimeout:     cfg.ActionTimeout,
		NextPage:        recipe.NextPage,
		ExtraPages:      cfg.ExtraPages,
		PageSettle:      cfg.SettleDelay,
	}, executor, logger)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	tracker := status.NewTracker(runID, cancelRun, logger)
	watchdog := shutdown.NewStallMonitor(cfg.StallTimeout, logger)

	opts := navigator.Options{
		RunID:            runID,
		Username:         cfg.PortalUsername,
		Password:         cfg.PortalPassword,
		MaxLoginAttempts: cfg.MaxLoginAttempts,
		SubjectPause:     cfg.SubjectPause,
		Limit:            cfg.SubjectLimit,
		Offset:           cfg.SubjectOffset,
		NavTimeout:       cfg.NavigationTimeout,
		ProbeTimeout:     cfg.ActionTimeout / 2,
		MaxTextChars:     cfg.MaxTextChars,
	}
	if cfg.DebugScreenshots {
		opts.DebugDir = filepath.Join(cfg.OutputDir, "debug")
	}

	nav, err := navigator.New(recipe, navigator.Deps{
		Session:    session,
		Resolver:   resolver,
		Executor:   executor,
		Sweeper:    sweeper,
		Detector:   portal.NewDetector(recipe.LoginProbe, recipe.ExpiredTexts...),
		Dispatcher: dispatcher,
		Model:      model,
		Captcha:    newCaptchaChain(model),
		Merger:     merger,
		Sink:       out.sink,
		Progress:   tracker,
		Watchdog:   watchdog,
	}, opts, logger)
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		handler, err := api.NewRouter(api.Config{
			Addr:                 cfg.StatusAddr,
			Secret:               cfg.StatusAPISecret,
			AllowUnauthenticated: cfg.AllowUnauthenticated,
			RateLimit:            cfg.StatusRateLimit,
		}, tracker, watchdog, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return api.Serve(serverCtx, cfg.StatusAddr, handler, logger)
		})
	}

	var summary *navigator.Summary
	g.Go(func() error {
		defer stopServer()
		var runErr error
		summary, runErr = nav.Run(runCtx)
		tracker.Finish(summary, runErr)
		return runErr
	})

	err = g.Wait()
	if summary != nil {
		printSummary(summary, time.Since(tracker.Snapshot().StartedAt))
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("run cancelled; collected records were flushed", "run_id", runID)
		return nil
	}
	return err
}

func printSummary(s *navigator.Summary, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("run %s", s.RunID)
	t.AppendRows([]table.Row{
		{"subjects", s.Total},
		{"succeeded", s.Succeeded},
		{"failed", s.Failed},
		{"recoveries", s.Recoveries},
		{"restarts", s.Restarts},
		{"final state", s.Final.String()},
		{"elapsed", elapsed.Round(time.Second)},
	})
	if s.Flush != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"subjects table", s.Flush.SubjectsPath},
			{"details table", s.Flush.DetailsPath},
			{"uploaded", s.Flush.Uploaded},
		})
	}
	t.Render()
}
