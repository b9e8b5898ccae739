package schema

// Dialect names the SQL flavour a database engine speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

// Hint is a short phrase used in prompts to steer models toward the engine's
// syntax.
func (d Dialect) Hint() string {
	switch d {
	case DialectSQLite:
		return "SQLite"
	case DialectPostgres:
		return "PostgreSQL"
	case DialectDuckDB:
		return "DuckDB (PostgreSQL-like syntax)"
	default:
		return "ANSI SQL"
	}
}
