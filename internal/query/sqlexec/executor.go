// Package sqlexec runs sanitized statements over database/sql pools with the
// guarantees every engine shares: bounded connection acquisition, a read-only
// transaction that is always rolled back, a deterministic row cap and a
// wall-clock deadline.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llmsql/llmsql/internal/query"
)

// Hook runs inside the transaction before the statement. Engines use it for
// session settings such as statement timeouts.
type Hook func(ctx context.Context, tx *sql.Tx, request query.Request) error

// Classifier maps a driver error onto a query sentinel. It returns nil when it
// has no opinion.
type Classifier func(err error) error

type Options struct {
	DefaultRowLimit int
	DefaultTimeout  time.Duration
	AcquireTimeout  time.Duration
	// ReadOnlyTx requests a read-only transaction from the driver. Drivers
	// that reject the option rely on a read-only connection instead.
	ReadOnlyTx  bool
	BeforeQuery Hook
	Classify    Classifier
}

type Executor struct {
	db   *sql.DB
	opts Options
}

func New(db *sql.DB, opts Options) *Executor {
	if opts.DefaultRowLimit <= 0 {
		opts.DefaultRowLimit = 1000
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Second
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}
	return &Executor{db: db, opts: opts}
}

func (e *Executor) DB() *sql.DB {
	return e.db
}

func (e *Executor) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("%w: sql is required", query.ErrQueryFailed)
	}
	if request.RowLimit <= 0 {
		request.RowLimit = e.opts.DefaultRowLimit
	}
	if request.Timeout <= 0 {
		request.Timeout = e.opts.DefaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, request.Timeout)
	defer cancel()

	conn, err := e.acquire(execCtx)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(execCtx, &sql.TxOptions{ReadOnly: e.opts.ReadOnlyTx})
	if err != nil {
		if timeoutErr := e.timeoutError(execCtx, err); timeoutErr != nil {
			return query.Result{}, timeoutErr
		}
		return query.Result{}, fmt.Errorf("%w: begin read-only transaction: %v", query.ErrConnectionUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if e.opts.BeforeQuery != nil {
		if err := e.opts.BeforeQuery(execCtx, tx, request); err != nil {
			return query.Result{}, e.classify(execCtx, fmt.Errorf("prepare session: %w", err))
		}
	}

	// The statement runs as written so its ORDER BY reaches the caller
	// untouched. The cap is enforced while reading: one extra row means the
	// statement is over the cap.
	start := time.Now()
	rows, err := tx.QueryContext(execCtx, sqlText)
	if err != nil {
		return query.Result{}, e.classify(execCtx, err)
	}
	defer func() { _ = rows.Close() }()

	rawColumns, err := rows.Columns()
	if err != nil {
		return query.Result{}, e.classify(execCtx, fmt.Errorf("query columns: %w", err))
	}
	columns := uniqueColumns(rawColumns)

	resultRows := make([]query.Row, 0)
	for rows.Next() {
		if len(resultRows) == request.RowLimit {
			// Cancel before the deferred Close so drivers that drain the
			// remaining rows stop the statement on the server instead.
			cancel()
			return query.Result{}, fmt.Errorf("%w: statement returned more than %d rows", query.ErrRowLimitExceeded, request.RowLimit)
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, e.classify(execCtx, fmt.Errorf("scan row: %w", err))
		}
		row := make(query.Row, len(columns))
		for i, value := range normalizeValues(values) {
			row[columns[i]] = value
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, e.classify(execCtx, fmt.Errorf("iterate rows: %w", err))
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Duration: time.Since(start),
	}, nil
}

// Ping checks that a connection can be acquired and used within the acquire
// timeout.
func (e *Executor) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, e.opts.AcquireTimeout)
	defer cancel()
	if err := e.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %v", query.ErrConnectionUnavailable, err)
	}
	return nil
}

func (e *Executor) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, e.opts.AcquireTimeout)
	defer cancel()
	conn, err := e.db.Conn(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection within %s: %v", query.ErrConnectionUnavailable, e.opts.AcquireTimeout, err)
	}
	return conn, nil
}

func (e *Executor) classify(ctx context.Context, err error) error {
	if timeoutErr := e.timeoutError(ctx, err); timeoutErr != nil {
		return timeoutErr
	}
	if e.opts.Classify != nil {
		if mapped := e.opts.Classify(err); mapped != nil {
			return fmt.Errorf("%w: %v", mapped, err)
		}
	}
	return fmt.Errorf("%w: %v", query.ErrQueryFailed, err)
}

func (e *Executor) timeoutError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", query.ErrExecutionTimeout, err)
	}
	return nil
}

// uniqueColumns suffixes repeated column names so every value keeps its own
// key in a row map.
func uniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	used := make(map[string]struct{}, len(columns))
	for i, name := range columns {
		candidate := name
		for n := 2; ; n++ {
			if _, taken := used[candidate]; !taken {
				break
			}
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		used[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
