package nl2sql

import (
	"strings"
	"testing"

	"github.com/llmsql/llmsql/internal/schema"
)

func testSchema() schema.Context {
	return schema.Context{Tables: []schema.Table{{
		Name: "restaurant",
		Columns: []schema.Column{
			{Name: "id", DeclaredType: "INTEGER", PrimaryKey: true},
			{Name: "name", DeclaredType: "TEXT"},
		},
	}}}
}

func TestExpertPromptEmbedsSchemaAndExamples(t *testing.T) {
	prompt := ExpertPrompt(Request{
		Text:    " how many restaurants? ",
		Schema:  testSchema(),
		Dialect: schema.DialectPostgres,
		Examples: []Example{
			{Question: "list names", SQL: "SELECT name FROM restaurant"},
			{Question: "", SQL: "SELECT 1"},
		},
	})
	for _, want := range []string{
		"exactly ONE PostgreSQL SQL statement",
		"CREATE TABLE \"restaurant\"",
		"- Q: list names\n  SQL: SELECT name FROM restaurant\n",
		"no markdown or commentary",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "SELECT 1") {
		t.Fatalf("prompt contains incomplete example:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "\nQuestion: how many restaurants?\nSQL:") {
		t.Fatalf("prompt suffix = %q", prompt[len(prompt)-40:])
	}
}

func TestCompactPrompt(t *testing.T) {
	prompt := CompactPrompt(Request{Text: "count rows", Schema: testSchema(), Dialect: schema.DialectSQLite})
	if !strings.Contains(prompt, "one SQLite SQL statement") {
		t.Fatalf("prompt missing dialect:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Database schema:\nCREATE TABLE") {
		t.Fatalf("prompt missing schema:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "Generate only the SQL query, without any explanation:") {
		t.Fatalf("prompt = %s", prompt)
	}

	bare := CompactPrompt(Request{Text: "count rows"})
	if strings.Contains(bare, "Database schema") {
		t.Fatalf("prompt without schema = %s", bare)
	}
}
