package nl2sql

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are a SQL expert. Convert natural language queries to SQL."

// PromptTemplate renders the user message sent to a model.
type PromptTemplate func(req Request) string

// ExpertPrompt is the rule-heavy template used for the larger model. It
// accepts few-shot examples.
func ExpertPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a senior SQL expert.\n")
	fmt.Fprintf(&b, "Generate exactly ONE %s SQL statement that answers the question.\n", req.Dialect.Hint())
	b.WriteString("Rules:\n")
	b.WriteString("- Use ONLY the tables/columns listed in the schema.\n")
	b.WriteString("- Do NOT invent table or column names.\n")
	b.WriteString("- Do NOT prefix tables with schema names; use plain table names.\n")
	b.WriteString("- Prefer ANSI JOINs.\n")
	b.WriteString("- Return ONLY the SQL (no markdown or commentary).\n")

	if !req.Schema.IsEmpty() {
		b.WriteString("\nSchema:\n")
		b.WriteString(req.Schema.CreateStatements())
		b.WriteString("\n")
	}

	if len(req.Examples) > 0 {
		wrote := false
		for _, ex := range req.Examples {
			q := strings.TrimSpace(ex.Question)
			s := strings.TrimSpace(ex.SQL)
			if q == "" || s == "" {
				continue
			}
			if !wrote {
				b.WriteString("\nExample pairs of question -> SQL:\n")
				wrote = true
			}
			fmt.Fprintf(&b, "- Q: %s\n  SQL: %s\n", q, s)
		}
		if wrote {
			b.WriteString("\nUse the same table/column names; do not invent schemas or prefixes.\n")
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\nSQL:", strings.TrimSpace(req.Text))
	return b.String()
}

// CompactPrompt is the short template used for small models.
func CompactPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Convert the following natural language query to one %s SQL statement.\n\n", req.Dialect.Hint())
	if !req.Schema.IsEmpty() {
		b.WriteString("Database schema:\n")
		b.WriteString(req.Schema.CreateStatements())
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Natural language query: %s\n\n", strings.TrimSpace(req.Text))
	b.WriteString("Generate only the SQL query, without any explanation:")
	return b.String()
}
