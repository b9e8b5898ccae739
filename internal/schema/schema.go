// Package schema describes the tables a model is shown when it is asked to
// write SQL.
package schema

import (
	"fmt"
	"strings"
)

type Column struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	PrimaryKey   bool   `json:"primary_key,omitempty"`
	ForeignKey   bool   `json:"foreign_key,omitempty"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Context is an ordered table list. Treat it as immutable once built; use
// Clone before handing a copy to code that may modify it.
type Context struct {
	Tables []Table `json:"tables"`
}

func (c Context) IsEmpty() bool {
	return len(c.Tables) == 0
}

func (c Context) Clone() Context {
	out := Context{Tables: make([]Table, 0, len(c.Tables))}
	for _, table := range c.Tables {
		cols := make([]Column, len(table.Columns))
		copy(cols, table.Columns)
		out.Tables = append(out.Tables, Table{Name: table.Name, Columns: cols})
	}
	return out
}

func (c Context) Validate() error {
	seen := make(map[string]struct{}, len(c.Tables))
	for i, table := range c.Tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			return fmt.Errorf("table %d has an empty name", i)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate table %q", name)
		}
		seen[key] = struct{}{}
		if len(table.Columns) == 0 {
			return fmt.Errorf("table %q has no columns", name)
		}
		for j, col := range table.Columns {
			if strings.TrimSpace(col.Name) == "" {
				return fmt.Errorf("table %q column %d has an empty name", name, j)
			}
		}
	}
	return nil
}

// CreateStatements renders one CREATE TABLE statement per table, separated by
// blank lines, in table order.
func (c Context) CreateStatements() string {
	var b strings.Builder
	for i, table := range c.Tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("CREATE TABLE ")
		b.WriteString(quoteIdent(table.Name))
		b.WriteString(" (\n")
		var primary []string
		for j, col := range table.Columns {
			b.WriteString("  ")
			b.WriteString(quoteIdent(col.Name))
			if typ := strings.TrimSpace(col.DeclaredType); typ != "" {
				b.WriteString(" ")
				b.WriteString(typ)
			}
			if col.PrimaryKey {
				primary = append(primary, quoteIdent(col.Name))
			}
			if j < len(table.Columns)-1 || len(primary) > 0 && j == len(table.Columns)-1 {
				b.WriteString(",")
			}
			if col.ForeignKey {
				b.WriteString(" -- foreign key")
			}
			b.WriteString("\n")
		}
		if len(primary) > 0 {
			b.WriteString("  PRIMARY KEY (")
			b.WriteString(strings.Join(primary, ", "))
			b.WriteString(")\n")
		}
		b.WriteString(");")
	}
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
