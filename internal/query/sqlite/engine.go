// Package sqlite executes statements against a SQLite file opened read-only.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

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

// Open does not touch the file; a missing or unreadable database surfaces as
// ErrConnectionUnavailable on first use.
func Open(cfg Config) (*Engine, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlexec.ApplyPool(db, cfg.Pool)
	return newEngine(db, cfg), nil
}

func newEngine(db *sql.DB, cfg Config) *Engine {
	return &Engine{exec: sqlexec.New(db, sqlexec.Options{
		DefaultRowLimit: cfg.RowLimit,
		DefaultTimeout:  cfg.Timeout,
		AcquireTimeout:  cfg.AcquireTimeout,
		ReadOnlyTx:      true,
	})}
}

func readOnlyDSN(path string) string {
	values := url.Values{}
	values.Set("mode", "ro")
	values.Set("_query_only", "1")
	values.Set("_busy_timeout", "2000")
	return "file:" + path + "?" + values.Encode()
}

func (e *Engine) ID() query.DatabaseID {
	return query.DatabaseSQLite
}

func (e *Engine) Dialect() schema.Dialect {
	return schema.DialectSQLite
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	return e.exec.Execute(ctx, request)
}

func (e *Engine) CountRows(ctx context.Context, tables []string) (map[string]int64, error) {
	return e.exec.CountRows(ctx, tables)
}

// ScanTable streams every row of a table to fn. llmsql-populate uses it to
// copy this database into PostgreSQL.
func (e *Engine) ScanTable(ctx context.Context, table string, columns []string, fn func(values []any) error) error {
	return e.exec.ScanTable(ctx, table, columns, fn)
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.exec.Ping(ctx)
}

func (e *Engine) Close() error {
	return e.exec.DB().Close()
}

func (e *Engine) Describe(ctx context.Context) (schema.Context, error) {
	db := e.exec.DB()
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return schema.Context{}, fmt.Errorf("%w: list sqlite tables: %v", query.ErrConnectionUnavailable, err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return schema.Context{}, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return schema.Context{}, fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()

	out := schema.Context{Tables: make([]schema.Table, 0, len(names))}
	for _, name := range names {
		table, err := describeTable(ctx, db, name)
		if err != nil {
			return schema.Context{}, err
		}
		out.Tables = append(out.Tables, table)
	}
	return out, nil
}

func describeTable(ctx context.Context, db *sql.DB, name string) (schema.Table, error) {
	foreign, err := foreignKeyColumns(ctx, db, name)
	if err != nil {
		return schema.Table{}, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", sqlexec.QuoteIdent(name)))
	if err != nil {
		return schema.Table{}, fmt.Errorf("table info %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	table := schema.Table{Name: name}
	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return schema.Table{}, fmt.Errorf("scan table info %s: %w", name, err)
		}
		_, isForeign := foreign[colName]
		table.Columns = append(table.Columns, schema.Column{
			Name:         colName,
			DeclaredType: colType,
			PrimaryKey:   pk > 0,
			ForeignKey:   isForeign,
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Table{}, fmt.Errorf("iterate table info %s: %w", name, err)
	}
	return table, nil
}

func foreignKeyColumns(ctx context.Context, db *sql.DB, name string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", sqlexec.QuoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("foreign keys %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("foreign key columns %s: %w", name, err)
	}
	fromIndex := -1
	for i, col := range cols {
		if col == "from" {
			fromIndex = i
		}
	}
	out := map[string]struct{}{}
	for rows.Next() {
		values := make([]any, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan foreign key %s: %w", name, err)
		}
		if fromIndex < 0 {
			continue
		}
		switch from := values[fromIndex].(type) {
		case string:
			out[from] = struct{}{}
		case []byte:
			out[string(from)] = struct{}{}
		}
	}
	return out, rows.Err()
}
