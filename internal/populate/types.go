package populate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/llmsql/llmsql/internal/query/sqlexec"
	"github.com/llmsql/llmsql/internal/schema"
)

const (
	typeNumeric   = "NUMERIC"
	typeBigInt    = "BIGINT"
	typeText      = "TEXT"
	typeBytea     = "BYTEA"
	typeDouble    = "DOUBLE PRECISION"
	typeBoolean   = "BOOLEAN"
	typeDate      = "DATE"
	typeTimestamp = "TIMESTAMP"
)

// PostgresType maps a SQLite declared column type onto a PostgreSQL type,
// following SQLite's own affinity rules. Precision and scale are dropped so
// values such as DECIMAL(1,1) 0.5 cannot overflow, and integers widen to
// BIGINT because SQLite integers are 64-bit.
func PostgresType(declared string) string {
	upper := strings.ToUpper(strings.TrimSpace(declared))
	switch {
	case strings.Contains(upper, "DECIMAL"), strings.Contains(upper, "NUMERIC"):
		return typeNumeric
	case strings.Contains(upper, "INT"):
		return typeBigInt
	case strings.Contains(upper, "CHAR"), strings.Contains(upper, "TEXT"), strings.Contains(upper, "CLOB"):
		return typeText
	case strings.Contains(upper, "BLOB"):
		return typeBytea
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "DOUB"), strings.Contains(upper, "FLOA"):
		return typeDouble
	case strings.Contains(upper, "BOOL"):
		return typeBoolean
	case strings.Contains(upper, "DATETIME"), strings.Contains(upper, "TIMESTAMP"):
		return typeTimestamp
	case upper == "DATE":
		return typeDate
	default:
		return typeText
	}
}

// CreateTableSQL renders the PostgreSQL table for a SQLite table. Every
// identifier is quoted and foreign keys are left out so tables can be loaded
// in any order.
func CreateTableSQL(table schema.Table) string {
	lines := make([]string, 0, len(table.Columns)+1)
	var keys []string
	for _, column := range table.Columns {
		lines = append(lines, fmt.Sprintf("%s %s", sqlexec.QuoteIdent(column.Name), PostgresType(column.DeclaredType)))
		if column.PrimaryKey {
			keys = append(keys, sqlexec.QuoteIdent(column.Name))
		}
	}
	if len(keys) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlexec.QuoteIdent(table.Name), strings.Join(lines, ",\n  "))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// convertValue coerces a value read from SQLite, where any column may hold
// any storage class, into something the PostgreSQL column type accepts.
func convertValue(pgType string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.([]byte); ok {
		if pgType == typeBytea {
			return raw, nil
		}
		value = string(raw)
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" && pgType != typeText && pgType != typeBytea {
		return nil, nil
	}

	switch pgType {
	case typeBigInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i, nil
			}
		}
	case typeDouble, typeNumeric:
		switch v := value.(type) {
		case int64:
			if pgType == typeNumeric {
				return v, nil
			}
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
		}
	case typeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, nil
			}
		}
	case typeDate, typeTimestamp:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
					return parsed, nil
				}
			}
		}
	case typeBytea:
		if s, ok := value.(string); ok {
			return []byte(s), nil
		}
	default:
		switch v := value.(type) {
		case string:
			return v, nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		case time.Time:
			return v.Format(time.RFC3339Nano), nil
		}
	}
	return nil, fmt.Errorf("cannot store %T value %v as %s", value, value, pgType)
}
