package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/api"
	"github.com/crawlkit/crawld/internal/config"
	"github.com/crawlkit/crawld/internal/controller"
	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/extract"
	collyfetcher "github.com/crawlkit/crawld/internal/fetcher/colly"
	"github.com/crawlkit/crawld/internal/frontier"
	"github.com/crawlkit/crawld/internal/logging"
	"github.com/crawlkit/crawld/internal/queue"
	"github.com/crawlkit/crawld/internal/sink"
	"github.com/crawlkit/crawld/internal/sitemap"
	"github.com/crawlkit/crawld/internal/worker"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var (
		seeds       []string
		workers     int
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts the crawler",
		Long: `Starts the worker pool against the frontier store. Pending URLs from a
previous run are reloaded first, then any URLs passed with --seed are
registered. With --interactive a console accepts operator commands
(seed, pause, resume, stats) while the crawl runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), seeds, workers, interactive)
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL to register (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (overrides config; 0 = auto)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "run the operator console")
	return cmd
}

func runCrawl(ctx context.Context, seeds []string, workerOverride int, interactive bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if workerOverride > 0 {
		cfg.Crawl.Workers = workerOverride
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := buildController(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Stop(); err != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	if _, err := ctrl.LoadPending(ctx); err != nil {
		return err
	}
	for _, seed := range seeds {
		if _, _, err := ctrl.Seed(ctx, seed); err != nil {
			return fmt.Errorf("seed %q: %w", seed, err)
		}
	}

	if err := ctrl.Start(ctx, cfg.EffectiveWorkers()); err != nil {
		return err
	}

	var adminErr <-chan error
	if cfg.Admin.Enabled {
		adminErr = startAdmin(ctx, cfg.Admin.Port, ctrl, logger)
	}

	if interactive {
		console := newConsole(ctrl, os.Stdin, os.Stdout, stop)
		go console.run(ctx)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-orNever(adminErr):
		return fmt.Errorf("admin server: %w", err)
	}
}

// buildController wires the configured frontier backend, fetcher, parser and
// sink into a controller.
func buildController(ctx context.Context, cfg config.Config, logger *zap.Logger) (*controller.Controller, error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	out, err := sink.NewJSONL(cfg.Output.Path)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	runID := uuid.NewString()
	return controller.New(controller.Deps{
		Store: store,
		Queue: queue.NewMemory(),
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.Timeout(),
		}),
		Expander:  sitemap.New(),
		Extractor: extract.New(runID, nil),
		Sink:      out,
		WorkerCfg: worker.Config{Delay: cfg.Delay()},
		RunID:     runID,
		Logger:    logger,
	}), nil
}

func buildStore(ctx context.Context, cfg config.Config) (crawler.Store, error) {
	switch cfg.Store.Backend {
	case "bolt":
		return frontier.NewBolt(cfg.Store.Path, cfg.Crawl.MaxRetries)
	case "postgres":
		return frontier.NewPostgres(ctx, cfg.Store.DSN, cfg.Crawl.MaxRetries)
	case "memory":
		return frontier.NewMemory(cfg.Crawl.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// startAdmin serves the admin API until ctx ends. Fatal listen errors are
// reported on the returned channel.
func startAdmin(ctx context.Context, port int, ctrl *controller.Controller, logger *zap.Logger) <-chan error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(ctrl, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return errCh
}

// orNever turns a nil channel into one that never delivers, so select works
// whether or not the admin server is running.
func orNever(ch <-chan error) <-chan error {
	if ch == nil {
		return make(chan error)
	}
	return ch
}
