package populate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/llmsql/llmsql/internal/query/sqlexec"
)

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresTarget loads tables with COPY, one transaction per table so a
// failed load leaves the previous copy in place.
type PostgresTarget struct {
	conn beginner
}

func NewPostgresTarget(conn *pgx.Conn) *PostgresTarget {
	return &PostgresTarget{conn: conn}
}

func (t *PostgresTarget) ReplaceTable(ctx context.Context, plan TablePlan, rows [][]any) (int64, error) {
	tx, err := t.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", sqlexec.QuoteIdent(plan.Name))); err != nil {
		return 0, fmt.Errorf("drop: %w", err)
	}
	if _, err := tx.Exec(ctx, plan.CreateSQL); err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{plan.Name}, plan.Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return copied, nil
}
