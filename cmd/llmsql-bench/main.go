package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmsql/llmsql/internal/benchmark"
	"github.com/llmsql/llmsql/internal/bootstrap"
	"github.com/llmsql/llmsql/internal/config"
	"github.com/llmsql/llmsql/internal/observability"
)

func main() {
	cfg, err := config.LoadWithDotEnv("llmsql-bench")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	benchCfg, err := benchmark.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load benchmark config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)
	if err := run(cfg, benchCfg, logger); err != nil {
		logger.Error("benchmark failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, benchCfg benchmark.Config, logger *slog.Logger) error {
	items, err := benchmark.LoadDatasetFile(benchCfg.DatasetPath)
	if err != nil {
		return err
	}
	cases := benchmark.Cases(items, benchCfg.Limit)
	if len(cases) == 0 {
		return fmt.Errorf("dataset %s has no usable cases", benchCfg.DatasetPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close() }()

	service, err := benchmark.NewService(benchCfg, stack.Runner, stack.Databases, cfg.Execution.RowLimit, cfg.Execution.Timeout, logger)
	if err != nil {
		return err
	}

	logger.Info("benchmark started",
		slog.String("dataset", benchCfg.DatasetPath),
		slog.Int("cases", len(cases)),
		slog.Any("models", benchCfg.Models),
		slog.Any("databases", benchCfg.Databases),
	)
	report, err := service.Run(ctx, cases)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if report.FinishedAt.IsZero() {
		report.Summary = benchmark.Summarize(report.Results)
	}

	if err := benchmark.WriteReportFile(benchCfg.OutputPath, report); err != nil {
		return err
	}
	for _, key := range benchmark.SummaryKeys(report.Summary) {
		summary := report.Summary[key]
		fmt.Printf("%-28s total=%d ok=%d failed=%d sql_match=%d result_match=%d avg_gen=%.2fs avg_exec=%.3fs\n",
			key, summary.Total, summary.Succeeded, summary.Failed, summary.SQLMatches, summary.ResultMatches,
			summary.AverageGenerationLatency, summary.AverageExecutionLatency)
	}
	logger.Info("benchmark report written", slog.String("path", benchCfg.OutputPath), slog.Int("results", len(report.Results)))
	return nil
}
