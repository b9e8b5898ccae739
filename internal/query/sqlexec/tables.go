package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/llmsql/llmsql/internal/query"
)

// QuoteIdent double-quotes an identifier the way SQLite, PostgreSQL and DuckDB
// all accept.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CountRows returns COUNT(*) for each table, in the same read-only,
// time-bounded session Execute uses.
func (e *Executor) CountRows(ctx context.Context, tables []string) (map[string]int64, error) {
	countCtx, cancel := context.WithTimeout(ctx, e.opts.DefaultTimeout)
	defer cancel()

	conn, err := e.acquire(countCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(countCtx, &sql.TxOptions{ReadOnly: e.opts.ReadOnlyTx})
	if err != nil {
		return nil, fmt.Errorf("%w: begin read-only transaction: %v", query.ErrConnectionUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := tx.QueryRowContext(countCtx, "SELECT COUNT(*) FROM "+QuoteIdent(table)).Scan(&count); err != nil {
			return nil, e.classify(countCtx, fmt.Errorf("count %s: %w", table, err))
		}
		counts[table] = count
	}
	return counts, nil
}

// ScanTable streams every row of table, columns in the given order, to fn.
// It is meant for bulk copies and applies neither the row cap nor the
// statement timeout; ctx bounds it.
func (e *Executor) ScanTable(ctx context.Context, table string, columns []string, fn func(values []any) error) error {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = QuoteIdent(column)
	}
	statement := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), QuoteIdent(table))

	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return e.classify(ctx, fmt.Errorf("scan %s: %w", table, err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return e.classify(ctx, fmt.Errorf("scan %s row: %w", table, err))
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return e.classify(ctx, fmt.Errorf("iterate %s: %w", table, err))
	}
	return nil
}
