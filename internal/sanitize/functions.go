package sanitize

import (
	"strings"

	"github.com/llmsql/llmsql/internal/schema"
)

type nameSet map[string]struct{}

func names(list ...string) nameSet {
	set := make(nameSet, len(list))
	for _, name := range list {
		set[name] = struct{}{}
	}
	return set
}

// Functions a candidate may call on every dialect. Anything else is rejected.
// Generators and padding functions are left out because their output size is
// controlled by an argument.
var commonFunctions = names(
	"count", "sum", "avg", "min", "max",
	"lower", "upper", "length", "trim", "ltrim", "rtrim",
	"substr", "substring", "replace", "abs", "round",
	"coalesce", "nullif", "cast",
	"row_number", "rank", "dense_rank", "percent_rank", "cume_dist",
	"ntile", "lag", "lead", "first_value", "last_value", "nth_value",
)

var dialectFunctions = map[schema.Dialect]nameSet{
	schema.DialectPostgres: names(
		"btrim", "char_length", "character_length", "position", "strpos",
		"left", "right", "initcap", "concat", "concat_ws", "split_part", "overlay",
		"ceil", "ceiling", "floor", "trunc", "sign", "mod", "power", "sqrt", "ln", "log", "exp",
		"date_trunc", "date_part", "extract", "to_char", "to_date", "to_timestamp",
		"make_date", "now", "age", "timezone",
		"string_agg", "array_agg", "bool_and", "bool_or",
		"stddev", "stddev_samp", "stddev_pop", "variance", "var_samp", "var_pop",
		"percentile_cont", "percentile_disc", "mode",
	),
	schema.DialectSQLite: names(
		"instr", "ifnull", "iif", "group_concat", "total",
		"strftime", "date", "time", "datetime", "julianday", "unixepoch",
		"typeof", "unicode", "char", "hex", "quote",
		"ceil", "ceiling", "floor", "trunc", "sign", "mod", "power", "sqrt", "ln", "log", "exp",
	),
	schema.DialectDuckDB: names(
		"btrim", "position", "strpos", "instr", "left", "right", "concat", "concat_ws",
		"split_part", "ifnull",
		"ceil", "ceiling", "floor", "trunc", "sign", "mod", "power", "pow", "sqrt", "ln", "log", "exp",
		"date_trunc", "date_part", "datepart", "extract", "strftime", "strptime",
		"make_date", "year", "month", "day", "dayofweek", "hour", "minute", "now", "age", "timezone",
		"string_agg", "group_concat", "bool_and", "bool_or", "median", "mode",
		"quantile_cont", "quantile_disc", "stddev", "stddev_samp", "stddev_pop",
		"variance", "var_samp", "var_pop",
	),
}

// isAllowedFunction reports whether a (possibly pg_catalog qualified) function
// may be called on the dialect. The parser qualifies grammar constructs such
// as EXTRACT and SUBSTRING ... FROM with pg_catalog; any other qualifier is
// refused.
func isAllowedFunction(qualified string, dialect schema.Dialect) bool {
	name := qualified
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		if qualified[:i] != "pg_catalog" {
			return false
		}
		name = qualified[i+1:]
	}
	if _, ok := commonFunctions[name]; ok {
		return true
	}
	_, ok := dialectFunctions[dialect][name]
	return ok
}
