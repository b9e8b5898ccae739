// Package postgres executes statements against PostgreSQL through pgx in
// read-only sessions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/query/sqlexec"
	"github.com/llmsql/llmsql/internal/schema"
)

type Config struct {
	DSN            string
	Schema         string
	Pool           sqlexec.PoolConfig
	RowLimit       int
	Timeout        time.Duration
	AcquireTimeout time.Duration
}

type Engine struct {
	exec   *sqlexec.Executor
	schema string
}

// Open parses the DSN and forces default_transaction_read_only on every
// session. The server is not contacted until first use.
func Open(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	connConfig, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if connConfig.RuntimeParams == nil {
		connConfig.RuntimeParams = map[string]string{}
	}
	connConfig.RuntimeParams["default_transaction_read_only"] = "on"
	connConfig.RuntimeParams["application_name"] = "llmsql"
	if cfg.AcquireTimeout > 0 {
		connConfig.ConnectTimeout = cfg.AcquireTimeout
	}

	db := stdlib.OpenDB(*connConfig)
	sqlexec.ApplyPool(db, cfg.Pool)
	return newEngine(db, cfg), nil
}

func newEngine(db *sql.DB, cfg Config) *Engine {
	schemaName := strings.TrimSpace(cfg.Schema)
	if schemaName == "" {
		schemaName = "public"
	}
	return &Engine{
		schema: schemaName,
		exec: sqlexec.New(db, sqlexec.Options{
			DefaultRowLimit: cfg.RowLimit,
			DefaultTimeout:  cfg.Timeout,
			AcquireTimeout:  cfg.AcquireTimeout,
			ReadOnlyTx:      true,
			BeforeQuery:     setStatementTimeout,
			Classify:        classify,
		}),
	}
}

func setStatementTimeout(ctx context.Context, tx *sql.Tx, request query.Request) error {
	ms := request.Timeout.Milliseconds()
	if ms <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms))
	return err
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.SafeToRetry(err) {
			return query.ErrConnectionUnavailable
		}
		return nil
	}
	switch {
	case pgErr.Code == "57014":
		return query.ErrExecutionTimeout
	case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "53300":
		return query.ErrConnectionUnavailable
	default:
		return nil
	}
}

func (e *Engine) ID() query.DatabaseID {
	return query.DatabasePostgres
}

func (e *Engine) Dialect() schema.Dialect {
	return schema.DialectPostgres
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	return e.exec.Execute(ctx, request)
}

func (e *Engine) Describe(ctx context.Context) (schema.Context, error) {
	return sqlexec.DescribeInformationSchema(ctx, e.exec.DB(), e.schema)
}

func (e *Engine) CountRows(ctx context.Context, tables []string) (map[string]int64, error) {
	return e.exec.CountRows(ctx, tables)
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.exec.Ping(ctx)
}

func (e *Engine) Close() error {
	return e.exec.DB().Close()
}
