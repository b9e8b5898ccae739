package benchmark

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/llmsql/llmsql/internal/query"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// NormalizeSQL collapses whitespace, drops trailing semicolons and lowercases
// the statement so cosmetic differences do not count as mismatches.
func NormalizeSQL(sql string) string {
	normalized := whitespacePattern.ReplaceAllString(sql, " ")
	normalized = strings.TrimSpace(normalized)
	normalized = strings.TrimRight(normalized, ";")
	return strings.ToLower(strings.TrimSpace(normalized))
}

func SQLMatches(generated, expected string) bool {
	if strings.TrimSpace(generated) == "" || strings.TrimSpace(expected) == "" {
		return false
	}
	return NormalizeSQL(generated) == NormalizeSQL(expected)
}

// ResultsMatch compares two result sets as multisets of rows. Columns are
// matched by position, since generated queries rarely reuse the gold aliases.
func ResultsMatch(got, want query.Result) bool {
	if len(got.Columns) != len(want.Columns) || len(got.Rows) != len(want.Rows) {
		return false
	}
	return slices.Equal(canonicalRows(got), canonicalRows(want))
}

func canonicalRows(result query.Result) []string {
	rows := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		cells := make([]string, 0, len(result.Columns))
		for _, column := range result.Columns {
			cells = append(cells, canonicalValue(row[column]))
		}
		rows = append(rows, strings.Join(cells, "\x1f"))
	}
	slices.Sort(rows)
	return rows
}

func canonicalValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	case float32:
		return canonicalFloat(float64(v))
	case float64:
		return canonicalFloat(v)
	default:
		return fmt.Sprint(v)
	}
}

// Integral floats print like integers so COUNT(*) on one engine and
// AVG-derived totals on another still compare equal.
func canonicalFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.6g", v)
}
