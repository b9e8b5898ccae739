package sqlexec

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/schema"
)

const informationSchemaColumnsSQL = `
SELECT c.table_name, c.column_name, c.data_type,
       EXISTS (
         SELECT 1
         FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage k
           ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
         WHERE tc.constraint_type = 'PRIMARY KEY'
           AND k.table_schema = c.table_schema AND k.table_name = c.table_name AND k.column_name = c.column_name
       ) AS is_primary_key,
       EXISTS (
         SELECT 1
         FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage k
           ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
         WHERE tc.constraint_type = 'FOREIGN KEY'
           AND k.table_schema = c.table_schema AND k.table_name = c.table_name AND k.column_name = c.column_name
       ) AS is_foreign_key
FROM information_schema.columns c
WHERE c.table_schema = $1
ORDER BY c.table_name, c.ordinal_position`

// DescribeInformationSchema builds a schema context from the standard
// information_schema views of one schema.
func DescribeInformationSchema(ctx context.Context, db *sql.DB, schemaName string) (schema.Context, error) {
	rows, err := db.QueryContext(ctx, informationSchemaColumnsSQL, schemaName)
	if err != nil {
		return schema.Context{}, fmt.Errorf("%w: describe %s: %v", query.ErrConnectionUnavailable, schemaName, err)
	}
	defer func() { _ = rows.Close() }()

	var out schema.Context
	index := map[string]int{}
	for rows.Next() {
		var (
			tableName string
			col       schema.Column
		)
		if err := rows.Scan(&tableName, &col.Name, &col.DeclaredType, &col.PrimaryKey, &col.ForeignKey); err != nil {
			return schema.Context{}, fmt.Errorf("scan column: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(out.Tables)
			index[tableName] = pos
			out.Tables = append(out.Tables, schema.Table{Name: tableName})
		}
		out.Tables[pos].Columns = append(out.Tables[pos].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return schema.Context{}, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
}
