package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/llmsql/llmsql/internal/schema"
)

type DatabaseID string

const (
	DatabaseSQLite   DatabaseID = "sqlite"
	DatabasePostgres DatabaseID = "postgres"
	DatabaseDuckDB   DatabaseID = "duckdb"
)

// ParseDatabaseID lower-cases the identifier and accepts "postgresql" as an
// alias of "postgres".
func ParseDatabaseID(raw string) DatabaseID {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "postgresql" {
		return DatabasePostgres
	}
	return DatabaseID(id)
}

var (
	ErrConnectionUnavailable = errors.New("database connection unavailable")
	ErrRowLimitExceeded      = errors.New("row limit exceeded")
	ErrExecutionTimeout      = errors.New("execution timed out")
	ErrQueryFailed           = errors.New("query failed")
	ErrUnknownDatabase       = errors.New("unknown database")
)

// FailureKind names the sentinel an execution error wraps. Errors outside the
// package taxonomy report QueryFailed.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnectionUnavailable):
		return "ConnectionUnavailable"
	case errors.Is(err, ErrRowLimitExceeded):
		return "RowLimitExceeded"
	case errors.Is(err, ErrExecutionTimeout):
		return "ExecutionTimeout"
	default:
		return "QueryFailed"
	}
}

type Request struct {
	SQL      string
	RowLimit int
	Timeout  time.Duration
}

type Row map[string]any

// UnmarshalJSON keeps integers exact: whole numbers decode to int64 and only
// fractional or out-of-range numbers fall back to float64.
func (r *Row) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*r = nil
		return nil
	}
	for column, value := range raw {
		raw[column] = restoreNumbers(value)
	}
	*r = Row(raw)
	return nil
}

func restoreNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		for i := range v {
			v[i] = restoreNumbers(v[i])
		}
		return v
	case map[string]any:
		for key := range v {
			v[key] = restoreNumbers(v[key])
		}
		return v
	default:
		return value
	}
}

type Result struct {
	Columns  []string      `json:"columns"`
	Rows     []Row         `json:"rows"`
	RowCount int           `json:"row_count"`
	Duration time.Duration `json:"duration_ns"`
}

// Engine executes sanitized statements against one database. Implementations
// run every statement in a read-only session, bound it by Request.RowLimit and
// Request.Timeout, and release the connection they used before returning.
type Engine interface {
	ID() DatabaseID
	Dialect() schema.Dialect
	Execute(ctx context.Context, request Request) (Result, error)
	Describe(ctx context.Context) (schema.Context, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// RowCounter is implemented by engines that can report table sizes.
type RowCounter interface {
	CountRows(ctx context.Context, tables []string) (map[string]int64, error)
}
