// Package sanitize decides whether model-generated SQL may run against a
// database. It parses every candidate with the PostgreSQL grammar and rejects
// anything it cannot prove to be a single bounded read.
package sanitize

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/llmsql/llmsql/internal/schema"
)

type Reason string

const (
	ReasonParseError         Reason = "ParseError"
	ReasonMultiStatement     Reason = "MultiStatement"
	ReasonWriteOperation     Reason = "WriteOperation"
	ReasonForbiddenConstruct Reason = "ForbiddenConstruct"
)

type Verdict struct {
	Accepted            bool   `json:"accepted"`
	Reason              Reason `json:"reason,omitempty"`
	Detail              string `json:"detail,omitempty"`
	NormalizedStatement string `json:"normalized_statement,omitempty"`
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Accepted: false, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

type Policy struct {
	Dialect           schema.Dialect
	MaxJoins          int
	MaxSubqueryDepth  int
	MaxStatementBytes int
}

func DefaultPolicy(dialect schema.Dialect) Policy {
	return Policy{
		Dialect:           dialect,
		MaxJoins:          6,
		MaxSubqueryDepth:  3,
		MaxStatementBytes: 16 * 1024,
	}
}

// Sanitizer holds no mutable state; Check is safe for concurrent use and
// returns the same verdict for the same input.
type Sanitizer struct {
	policy Policy
}

func New(policy Policy) *Sanitizer {
	defaults := DefaultPolicy(policy.Dialect)
	if policy.MaxJoins < 0 {
		policy.MaxJoins = defaults.MaxJoins
	}
	if policy.MaxSubqueryDepth < 0 {
		policy.MaxSubqueryDepth = defaults.MaxSubqueryDepth
	}
	if policy.MaxStatementBytes <= 0 {
		policy.MaxStatementBytes = defaults.MaxStatementBytes
	}
	return &Sanitizer{policy: policy}
}

func (s *Sanitizer) Policy() Policy {
	return s.policy
}

func (s *Sanitizer) Check(sql string) Verdict {
	if strings.TrimSpace(sql) == "" {
		return reject(ReasonParseError, "empty statement")
	}
	if len(sql) > s.policy.MaxStatementBytes {
		return reject(ReasonParseError, "statement is %d bytes, limit is %d", len(sql), s.policy.MaxStatementBytes)
	}

	parsed, err := pg_query.Parse(sql)
	if err != nil {
		return reject(ReasonParseError, "parse: %v", err)
	}
	switch n := len(parsed.GetStmts()); {
	case n == 0:
		return reject(ReasonParseError, "no statement found")
	case n > 1:
		return reject(ReasonMultiStatement, "found %d statements", n)
	}

	root := parsed.GetStmts()[0].GetStmt()
	if root.GetSelectStmt() == nil {
		return reject(ReasonWriteOperation, "root statement is %s, not SELECT", nodeKind(root))
	}

	findings := inspect(root, s.policy)
	if findings.write != "" {
		return reject(ReasonWriteOperation, "%s", findings.write)
	}
	if findings.forbidden != "" {
		return reject(ReasonForbiddenConstruct, "%s", findings.forbidden)
	}
	if s.policy.MaxJoins >= 0 && findings.joins > s.policy.MaxJoins {
		return reject(ReasonForbiddenConstruct, "statement joins %d relations, limit is %d", findings.joins, s.policy.MaxJoins)
	}
	if s.policy.MaxSubqueryDepth >= 0 && findings.maxDepth > s.policy.MaxSubqueryDepth {
		return reject(ReasonForbiddenConstruct, "subquery depth %d exceeds limit %d", findings.maxDepth, s.policy.MaxSubqueryDepth)
	}

	normalized := Normalize(sql)
	reparsed, err := pg_query.Parse(normalized)
	if err != nil || !sameTree(parsed, reparsed) {
		return reject(ReasonParseError, "statement changed meaning under normalization")
	}

	return Verdict{Accepted: true, NormalizedStatement: normalized}
}

func nodeKind(node *pg_query.Node) string {
	if node == nil || node.GetNode() == nil {
		return "unknown"
	}
	name := fmt.Sprintf("%T", node.GetNode())
	name = strings.TrimPrefix(name, "*pg_query.Node_")
	return name
}
