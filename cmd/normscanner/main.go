package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"NormScanner/internal/app"
	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/logging"
	"NormScanner/internal/metrics"
)

const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
)

var (
	flagDaysBack    int
	flagWindowStart string
	flagWindowEnd   string
	flagMaxBatch    int
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "normscanner",
		Short:         "Official-gazette ingestion and legal-norm vigencia verification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&flagDaysBack, "days-back", cfg.Scheduler.DaysBack, "window size in days ending today")
	root.PersistentFlags().StringVar(&flagWindowStart, "from", "", "window start (YYYY-MM-DD), overrides --days-back")
	root.PersistentFlags().StringVar(&flagWindowEnd, "to", "", "window end (YYYY-MM-DD)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full pipeline over the window and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(ctx, cfg, logger, func(a *app.Application) (domain.RunReport, error) {
				window, err := resolveWindow(cfg)
				if err != nil {
					return domain.RunReport{}, err
				}
				return a.Pipeline().RunFullPipeline(ctx, window), nil
			})
		},
	}

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Run COLLECT only for the window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(ctx, cfg, logger, func(a *app.Application) (domain.RunReport, error) {
				window, err := resolveWindow(cfg)
				if err != nil {
					return domain.RunReport{}, err
				}
				return a.Pipeline().RunCollectOnly(ctx, window), nil
			})
		},
	}

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Resume processing of pending documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(ctx, cfg, logger, func(a *app.Application) (domain.RunReport, error) {
				return a.Pipeline().RunProcessPending(ctx), nil
			})
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Probe stale norms against the legal portal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(ctx, cfg, logger, func(a *app.Application) (domain.RunReport, error) {
				return a.Pipeline().RunVerifyStale(ctx, flagMaxBatch), nil
			})
		},
	}
	verifyCmd.Flags().IntVar(&flagMaxBatch, "max-batch", cfg.Verify.MaxBatch, "max norms probed in this session")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cron scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			go func() {
				if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
					logger.Error("metrics server stopped", "error", err)
				}
			}()
			return application.RunScheduled(ctx)
		},
	}

	root.AddCommand(runCmd, collectCmd, processCmd, verifyCmd, serveCmd)

	if err := root.Execute(); err != nil {
		if errors.Is(err, errPartial) {
			os.Exit(exitPartial)
		}
		logger.Error("command failed", "error", err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

// errPartial maps a PARTIAL run onto exit code 2 without logging a failure.
var errPartial = errors.New("run ended with status PARTIAL")

// withApp builds the application, runs one entry point, reports the outcome,
// and maps the overall stage status onto the exit code.
func withApp(ctx context.Context, cfg config.Config, logger *slog.Logger, fn func(*app.Application) (domain.RunReport, error)) error {
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	report, err := fn(application)
	if err != nil {
		return err
	}

	overall := report.Overall()
	logger.Info("run finished", "overall", overall, "counters", report.Counters, "logs", report.LogIDs)

	switch overall {
	case domain.StageError:
		return fmt.Errorf("run ended with status ERROR")
	case domain.StagePartial:
		return errPartial
	}
	return nil
}

// resolveWindow prefers an explicit --from/--to pair over --days-back.
func resolveWindow(cfg config.Config) (domain.Window, error) {
	now := time.Now().In(cfg.Scheduler.Location())

	if flagWindowStart != "" {
		start, err := time.Parse(time.DateOnly, flagWindowStart)
		if err != nil {
			return domain.Window{}, fmt.Errorf("parse --from: %w", err)
		}
		end := now
		if flagWindowEnd != "" {
			end, err = time.Parse(time.DateOnly, flagWindowEnd)
			if err != nil {
				return domain.Window{}, fmt.Errorf("parse --to: %w", err)
			}
		}
		return domain.NewWindow(start, end)
	}

	return domain.WindowFromDaysBack(now, flagDaysBack), nil
}
