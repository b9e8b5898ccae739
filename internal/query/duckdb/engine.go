// Package duckdb executes statements against a DuckDB database file opened
// with access_mode=read_only and external access disabled, so statements can
// reach neither the host filesystem nor the network.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/query/sqlexec"
	"github.com/llmsql/llmsql/internal/schema"
)

type Config struct {
	Path           string
	Pool           sqlexec.PoolConfig
	RowLimit       int
	Timeout        time.Duration
	AcquireTimeout time.Duration
}

type Engine struct {
	exec *sqlexec.Executor
}

func Open(cfg Config) (*Engine, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("duckdb path is required")
	}
	db, err := sql.Open("duckdb", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open duckdb: %v", query.ErrConnectionUnavailable, err)
	}
	sqlexec.ApplyPool(db, cfg.Pool)
	return newEngine(db, cfg), nil
}

func dsn(path string) string {
	return path + "?access_mode=read_only&enable_external_access=false"
}

func newEngine(db *sql.DB, cfg Config) *Engine {
	// The driver rejects read-only transaction options; the database handle
	// itself is read-only.
	return &Engine{exec: sqlexec.New(db, sqlexec.Options{
		DefaultRowLimit: cfg.RowLimit,
		DefaultTimeout:  cfg.Timeout,
		AcquireTimeout:  cfg.AcquireTimeout,
	})}
}

func (e *Engine) ID() query.DatabaseID {
	return query.DatabaseDuckDB
}

func (e *Engine) Dialect() schema.Dialect {
	return schema.DialectDuckDB
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	return e.exec.Execute(ctx, request)
}

const describeColumnsSQL = `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`

const describeKeysSQL = `
SELECT table_name, constraint_type, unnest(constraint_column_names) AS column_name
FROM duckdb_constraints()
WHERE schema_name = 'main' AND constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')`

type keyColumn struct {
	table  string
	column string
	kind   string
}

func (e *Engine) Describe(ctx context.Context) (schema.Context, error) {
	db := e.exec.DB()

	keys := map[keyColumn]struct{}{}
	keyRows, err := db.QueryContext(ctx, describeKeysSQL)
	if err != nil {
		return schema.Context{}, fmt.Errorf("%w: list constraints: %v", query.ErrConnectionUnavailable, err)
	}
	for keyRows.Next() {
		var k keyColumn
		if err := keyRows.Scan(&k.table, &k.kind, &k.column); err != nil {
			_ = keyRows.Close()
			return schema.Context{}, fmt.Errorf("scan constraint: %w", err)
		}
		keys[k] = struct{}{}
	}
	if err := keyRows.Err(); err != nil {
		_ = keyRows.Close()
		return schema.Context{}, fmt.Errorf("iterate constraints: %w", err)
	}
	_ = keyRows.Close()

	rows, err := db.QueryContext(ctx, describeColumnsSQL)
	if err != nil {
		return schema.Context{}, fmt.Errorf("%w: list columns: %v", query.ErrConnectionUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out schema.Context
	index := map[string]int{}
	for rows.Next() {
		var tableName string
		var col schema.Column
		if err := rows.Scan(&tableName, &col.Name, &col.DeclaredType); err != nil {
			return schema.Context{}, fmt.Errorf("scan column: %w", err)
		}
		_, col.PrimaryKey = keys[keyColumn{table: tableName, column: col.Name, kind: "PRIMARY KEY"}]
		_, col.ForeignKey = keys[keyColumn{table: tableName, column: col.Name, kind: "FOREIGN KEY"}]

		pos, ok := index[tableName]
		if !ok {
			pos = len(out.Tables)
			index[tableName] = pos
			out.Tables = append(out.Tables, schema.Table{Name: tableName})
		}
		out.Tables[pos].Columns = append(out.Tables[pos].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return schema.Context{}, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
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
