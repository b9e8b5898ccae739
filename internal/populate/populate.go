// Package populate copies the tables of a SQLite database into PostgreSQL so
// both comparison targets hold the same rows.
package populate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/llmsql/llmsql/internal/schema"
)

// Source is the database tables are read from. sqlite.Engine satisfies it.
type Source interface {
	Describe(ctx context.Context) (schema.Context, error)
	ScanTable(ctx context.Context, table string, columns []string, fn func(values []any) error) error
}

// TablePlan is one table ready to load.
type TablePlan struct {
	Name      string
	Columns   []string
	CreateSQL string
}

// Target replaces a table wholesale: drop, create, bulk load.
type Target interface {
	ReplaceTable(ctx context.Context, plan TablePlan, rows [][]any) (int64, error)
}

type Options struct {
	// Tables restricts the copy to these names. Empty copies every table.
	Tables []string
}

type TableResult struct {
	Table    string
	Rows     int64
	Duration time.Duration
	Err      error
}

type Service struct {
	source Source
	target Target
	logger *slog.Logger
	opts   Options
}

func NewService(source Source, target Target, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, target: target, logger: logger, opts: opts}
}

// Run copies each selected table. A failed table is reported in its result
// and the remaining tables are still copied; the returned error covers only
// failures that stop the whole run.
func (s *Service) Run(ctx context.Context) ([]TableResult, error) {
	described, err := s.source.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe source: %w", err)
	}
	tables, err := selectTables(described.Tables, s.opts.Tables)
	if err != nil {
		return nil, err
	}

	results := make([]TableResult, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		started := time.Now()
		rows, err := s.copyTable(ctx, table)
		result := TableResult{Table: table.Name, Rows: rows, Duration: time.Since(started), Err: err}
		if err != nil {
			s.logger.Error("table copy failed", "table", table.Name, "error", err)
		} else {
			s.logger.Info("table copied", "table", table.Name, "rows", rows, "duration_ms", result.Duration.Milliseconds())
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Service) copyTable(ctx context.Context, table schema.Table) (int64, error) {
	if len(table.Columns) == 0 {
		return 0, errors.New("table has no columns")
	}
	plan := TablePlan{Name: table.Name, CreateSQL: CreateTableSQL(table)}
	types := make([]string, len(table.Columns))
	for i, column := range table.Columns {
		plan.Columns = append(plan.Columns, column.Name)
		types[i] = PostgresType(column.DeclaredType)
	}

	var rows [][]any
	err := s.source.ScanTable(ctx, table.Name, plan.Columns, func(values []any) error {
		row := make([]any, len(values))
		for i, value := range values {
			converted, err := convertValue(types[i], value)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", len(rows)+1, plan.Columns[i], err)
			}
			row[i] = converted
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", table.Name, err)
	}
	loaded, err := s.target.ReplaceTable(ctx, plan, rows)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", table.Name, err)
	}
	return loaded, nil
}

func selectTables(all []schema.Table, wanted []string) ([]schema.Table, error) {
	if len(wanted) == 0 {
		return all, nil
	}
	byName := make(map[string]schema.Table, len(all))
	for _, table := range all {
		byName[strings.ToLower(table.Name)] = table
	}
	selected := make([]schema.Table, 0, len(wanted))
	var missing []string
	for _, name := range wanted {
		table, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			missing = append(missing, name)
			continue
		}
		selected = append(selected, table)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown tables: %s", strings.Join(missing, ", "))
	}
	return selected, nil
}

// Failed counts results carrying an error.
func Failed(results []TableResult) int {
	n := 0
	for _, result := range results {
		if result.Err != nil {
			n++
		}
	}
	return n
}
