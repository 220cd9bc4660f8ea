// Package app wires configuration to the pipeline and its infrastructure.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/infrastructure/adapters"
	"NormScanner/internal/infrastructure/blobstore"
	"NormScanner/internal/infrastructure/browser"
	"NormScanner/internal/infrastructure/httpclient"
	"NormScanner/internal/infrastructure/llm"
	"NormScanner/internal/infrastructure/pdftext"
	"NormScanner/internal/infrastructure/portal"
	"NormScanner/internal/infrastructure/scheduler"
	"NormScanner/internal/infrastructure/storage"
	"NormScanner/internal/logging"
	"NormScanner/internal/normref"
	"NormScanner/internal/ports"
	"NormScanner/internal/relevance"
	"NormScanner/internal/scanner"
	"NormScanner/internal/usecase"
)

// Application owns the wired pipeline and its lifecycle.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.SQLiteStore
	pipeline *usecase.Pipeline
	sched    ports.Scheduler
}

// New builds the application: store, shared gate, fetch modes, adapters,
// prober, summarizer, orchestrator.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := store.SeedTerms(ctx, seedTerms(cfg.Terms)); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed terms: %w", err)
	}

	blobs, err := blobstore.New(cfg.Blobs.Dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	gate := httpclient.NewHostGate(cfg.HTTP.RatePerSecond, cfg.HTTP.Burst, cfg.HTTP.PerHostConcurrency)
	fetcher := httpclient.New(gate, httpclient.Options{
		Timeout:    cfg.HTTP.Timeout(),
		UserAgent:  cfg.HTTP.UserAgent,
		MaxRetries: cfg.HTTP.MaxRetries,
	}, logging.Component(baseLogger, "http"))

	var renderers ports.RendererFactory
	if cfg.Browser.Enabled {
		renderers = browser.NewFactory(cfg.Browser.ExecPath, cfg.Browser.Timeout(), gate,
			logging.Component(baseLogger, "browser"))
	}

	extractor := pdftext.New(cfg.Normalize, logging.Component(baseLogger, "pdftext"))

	registry := scanner.NewRegistry()
	if cfg.Sources.Gazette.Enabled {
		registry.Register(adapters.NewGazetteCollector(cfg.Sources.Gazette, fetcher, extractor,
			logging.Component(baseLogger, "adapter.gazette")))
	}
	if cfg.Sources.TaxPortal.Enabled && renderers != nil {
		registry.Register(adapters.NewTaxPortalCollector(cfg.Sources.TaxPortal, renderers, fetcher, extractor,
			logging.Component(baseLogger, "adapter.taxportal")))
	}
	if cfg.Sources.TaxAPI.Enabled {
		registry.Register(adapters.NewTaxAPICollector(cfg.Sources.TaxAPI, fetcher,
			logging.Component(baseLogger, "adapter.taxapi")))
	}
	if cfg.Sources.News.Enabled {
		registry.Register(adapters.NewNewsCollector(cfg.Sources.News, fetcher,
			logging.Component(baseLogger, "adapter.news")))
	}

	prober := portal.New(cfg.Portal, fetcher, renderers, logging.Component(baseLogger, "prober"))

	var summarizer ports.Summarizer = llm.NoopSummarizer{}
	if cfg.Enrichment.Enabled && cfg.Enrichment.APIKey != "" {
		s, err := llm.NewOpenAISummarizer(cfg.Enrichment)
		if err != nil {
			baseLogger.Warn("enrichment disabled", "error", err)
		} else {
			summarizer = s
		}
	}

	filterLogger := logging.Component(baseLogger, "filter")
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Config:    cfg.Pipeline,
		Verify:    cfg.Verify,
		Store:     store,
		Registry:  registry,
		Blobs:     blobs,
		Extractor: extractor,
		Norms:     normref.New(),
		NewFilter: func(terms []domain.MonitoredTerm) ports.RelevanceFilter {
			return relevance.New(terms, filterLogger)
		},
		Prober:     prober,
		Summarizer: summarizer,
		Logger:     logging.Component(baseLogger, "pipeline"),
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		pipeline: pipeline,
		sched:    scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location()),
	}, nil
}

// Pipeline exposes the orchestrator for command entry points.
func (a *Application) Pipeline() *usecase.Pipeline { return a.pipeline }

// Store exposes the persistence gateway for command entry points.
func (a *Application) Store() *storage.SQLiteStore { return a.store }

// RunScheduled starts the cron loop and blocks until ctx is cancelled. Each
// tick runs a full pipeline over the configured window.
func (a *Application) RunScheduled(ctx context.Context) error {
	job := func(now time.Time) {
		window := domain.WindowFromDaysBack(now, a.cfg.Scheduler.DaysBack)
		report := a.pipeline.RunFullPipeline(ctx, window)
		a.logger.Info("scheduled run finished",
			"window", window.String(), "overall", report.Overall(), "counters", report.Counters)
	}

	if err := a.sched.Start(ctx, job); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.sched.Stop(stopCtx)
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}

func seedTerms(terms []config.TermConfig) []domain.MonitoredTerm {
	out := make([]domain.MonitoredTerm, 0, len(terms))
	for _, t := range terms {
		kind := domain.TermMatchKind(t.MatchKind)
		if kind == "" {
			kind = domain.MatchExactText
		}
		priority := t.Priority
		if priority <= 0 {
			priority = 3
		}
		out = append(out, domain.MonitoredTerm{
			Term:      t.Term,
			MatchKind: kind,
			Variants:  t.Variants,
			Priority:  priority,
			Active:    true,
		})
	}
	return out
}
