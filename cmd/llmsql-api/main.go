package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmsql/llmsql/internal/api"
	"github.com/llmsql/llmsql/internal/auth"
	"github.com/llmsql/llmsql/internal/bootstrap"
	"github.com/llmsql/llmsql/internal/config"
	"github.com/llmsql/llmsql/internal/observability"
)

func main() {
	cfg, err := config.LoadWithDotEnv("llmsql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	stack, err := bootstrap.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire comparison stack", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("failed to close comparison stack", slog.Any("error", err))
		}
	}()

	deps := api.Dependencies{
		Logger:    logger,
		Runner:    stack.Runner,
		Models:    stack.Models,
		Databases: stack.Databases,
		Records:   stack.Store,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabases(stack.Databases),
			api.ReadinessCheck(stack.StoreCheck),
		),
		DependencyTimeout: cfg.Execution.AcquireTimeout,
	}
	if cfg.Auth.Required {
		ring, err := auth.ParseKeyRing(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		if ring.Len() == 0 {
			logger.Warn("auth is required but no static keys are configured; protected routes will reject every request")
		}
		deps.AuthMiddleware = auth.Middleware(logger, ring)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Any("models", stack.Models.IDs()),
			slog.Any("databases", stack.Databases.IDs()),
			slog.String("records", cfg.Records.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}
