package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/havaian/sud-ai/internal/catalog"
	"github.com/havaian/sud-ai/internal/clock/system"
	"github.com/havaian/sud-ai/internal/config"
	"github.com/havaian/sud-ai/internal/crawler"
	"github.com/havaian/sud-ai/internal/extract"
	"github.com/havaian/sud-ai/internal/logging"
	"github.com/havaian/sud-ai/internal/metrics"
	"github.com/havaian/sud-ai/internal/policy/ratelimit"
	"github.com/havaian/sud-ai/internal/storage"
	"github.com/havaian/sud-ai/internal/worker"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var (
		section     string
		startPage   int
		endPage     int
		maxPages    int
		overwrite   bool
		attachments bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a resumable crawl of the decision catalogs",
		Long: `Crawls the configured sections page by page, writing one metadata
artifact per page and one text artifact per extracted decision. Pages
whose metadata already exists are skipped, so an interrupted run can be
restarted with the same arguments.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			// Flags beat the config file for the run-shape knobs.
			flags := cmd.Flags()
			if flags.Changed("section") {
				cfg.Crawler.Section = section
			}
			if flags.Changed("start-page") {
				cfg.Crawler.StartPage = startPage
			}
			if flags.Changed("end-page") {
				cfg.Crawler.EndPage = endPage
			}
			if flags.Changed("max-pages") {
				cfg.Crawler.MaxPages = maxPages
			}
			if flags.Changed("overwrite") {
				cfg.Crawler.Overwrite = overwrite
			}
			if flags.Changed("attachments") {
				cfg.Crawler.Attachments = attachments
			}
			if flags.Changed("concurrency") {
				cfg.Crawler.Concurrency = concurrency
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runCrawl(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&section, "section", "both", "section to crawl: new, old or both")
	cmd.Flags().IntVar(&startPage, "start-page", 0, "page to resume from (0 = first)")
	cmd.Flags().IntVar(&endPage, "end-page", -1, "last page to process, inclusive (-1 = all)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "cap on pages per section (0 = no cap)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "reprocess pages whose artifacts already exist")
	cmd.Flags().BoolVar(&attachments, "attachments", true, "fetch attachments and extract text")
	cmd.Flags().IntVar(&concurrency, "concurrency", 6, "concurrent attachment tasks per page")

	return cmd
}

func runCrawl(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Metrics.Enabled {
		startMetricsListener(ctx, cfg.Metrics.Port, logger)
	}

	limiter := ratelimit.New(ratelimit.Config{
		BaseDelay:     cfg.BaseDelay(),
		MinDelay:      cfg.MinDelay(),
		MaxDelay:      cfg.MaxDelay(),
		BackoffFactor: cfg.RateLimit.BackoffFactor,
	}, logger.Named("ratelimit"))

	client := catalog.NewClient(catalog.ClientConfig{
		NewBase:   cfg.API.NewBase,
		OldBase:   cfg.API.OldBase,
		UserAgent: cfg.API.UserAgent,
	}, limiter, logger.Named("catalog"))

	store, err := storage.New(storage.Config{OutputDir: cfg.Storage.OutputDir}, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	gateway := extract.New(extract.Config{
		URL:     cfg.Extractor.URL,
		Token:   cfg.Extractor.Token,
		Timeout: cfg.ExtractorTimeout(),
	}, logger.Named("extract"))

	coordinator := worker.New(client, gateway, store, cfg.Crawler.Concurrency, logger.Named("worker"))

	engine := crawler.New(
		crawler.Config{
			Sections:    cfg.Sections(),
			CourtType:   cfg.Crawler.CourtType,
			PageSize:    cfg.Crawler.PageSize,
			MaxPages:    cfg.Crawler.MaxPages,
			StartPage:   cfg.Crawler.StartPage,
			EndPage:     cfg.Crawler.EndPage,
			Overwrite:   cfg.Crawler.Overwrite,
			Attachments: cfg.Crawler.Attachments,
			BaseDelay:   cfg.BaseDelay(),
		},
		client,
		&catalog.Normalizer{NewBase: cfg.API.NewBase, OldBase: cfg.API.OldBase},
		store,
		coordinator,
		limiter,
		system.New(),
		logger.Named("engine"),
	)

	_, _, err = engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	if err != nil {
		logger.Warn("crawl interrupted")
	}
	return nil
}

func startMetricsListener(ctx context.Context, port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
