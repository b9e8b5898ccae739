package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5"

	"github.com/llmsql/llmsql/internal/config"
	"github.com/llmsql/llmsql/internal/observability"
	"github.com/llmsql/llmsql/internal/populate"
	"github.com/llmsql/llmsql/internal/query/sqlite"
)

func main() {
	source := flag.String("source", "", "SQLite database to copy; defaults to LLMSQL_SQLITE_PATH")
	tables := flag.String("tables", "", "comma-separated tables to copy; empty copies all")
	flag.Parse()

	cfg, err := config.LoadWithDotEnv("llmsql-populate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	path := *source
	if path == "" {
		path = cfg.Databases.SQLitePath
	}
	engine, err := sqlite.Open(sqlite.Config{Path: path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlite open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := pgx.Connect(ctx, cfg.Databases.PostgresConnString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres connect error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	var selected []string
	for _, name := range strings.Split(*tables, ",") {
		if name = strings.TrimSpace(name); name != "" {
			selected = append(selected, name)
		}
	}

	service := populate.NewService(engine, populate.NewPostgresTarget(conn), logger, populate.Options{Tables: selected})
	results, err := service.Run(ctx)
	for _, result := range results {
		if result.Err != nil {
			fmt.Printf("%-32s FAILED %v\n", result.Table, result.Err)
			continue
		}
		fmt.Printf("%-32s %d rows\n", result.Table, result.Rows)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "populate failed: %v\n", err)
		os.Exit(1)
	}
	if failed := populate.Failed(results); failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d table(s) failed\n", failed, len(results))
		os.Exit(1)
	}
}
