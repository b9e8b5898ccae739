package sanitize

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/llmsql/llmsql/internal/schema"
)

type findings struct {
	write     string
	forbidden string
	joins     int
	maxDepth  int
}

var forbiddenSchemas = map[string]struct{}{
	"pg_catalog":         {},
	"information_schema": {},
	"pg_toast":           {},
	"sqlite_master":      {},
	"sqlite_temp_master": {},
}

var forbiddenRelationPrefixes = []string{"pg_", "sqlite_", "duckdb_"}

func inspect(root *pg_query.Node, policy Policy) findings {
	var f findings
	walk(root.ProtoReflect(), 0, func(msg proto.Message, depth int) int {
		switch n := msg.(type) {
		case *pg_query.SubLink, *pg_query.RangeSubselect, *pg_query.CommonTableExpr:
			depth++
			if depth > f.maxDepth {
				f.maxDepth = depth
			}
		case *pg_query.SelectStmt:
			if n.GetIntoClause() != nil {
				f.noteWrite("SELECT INTO creates a table")
			}
			if len(n.GetLockingClause()) > 0 {
				f.noteWrite("row locking clause")
			}
			if from := len(n.GetFromClause()); from > 1 {
				f.joins += from - 1
			}
		case *pg_query.InsertStmt:
			f.noteWrite("data-modifying INSERT inside statement")
		case *pg_query.UpdateStmt:
			f.noteWrite("data-modifying UPDATE inside statement")
		case *pg_query.DeleteStmt:
			f.noteWrite("data-modifying DELETE inside statement")
		case *pg_query.MergeStmt:
			f.noteWrite("data-modifying MERGE inside statement")
		case *pg_query.WithClause:
			if n.GetRecursive() {
				f.noteForbidden("WITH RECURSIVE")
			}
			for _, cte := range n.GetCtes() {
				if expr := cte.GetCommonTableExpr(); expr != nil && referencesRelation(expr.GetCtequery(), expr.GetCtename()) {
					f.noteForbidden(fmt.Sprintf("common table expression %s refers to itself", expr.GetCtename()))
				}
			}
		case *pg_query.JoinExpr:
			f.joins++
		case *pg_query.RangeVar:
			if reason := forbiddenRelation(n, policy.Dialect); reason != "" {
				f.noteForbidden(reason)
			}
		case *pg_query.FuncCall:
			if name := functionName(n); !isAllowedFunction(name, policy.Dialect) {
				f.noteForbidden(fmt.Sprintf("function %s is not allowed", name))
			}
		}
		return depth
	})
	return f
}

func (f *findings) noteWrite(reason string) {
	if f.write == "" {
		f.write = reason
	}
}

func (f *findings) noteForbidden(reason string) {
	if f.forbidden == "" {
		f.forbidden = reason
	}
}

func forbiddenRelation(rv *pg_query.RangeVar, dialect schema.Dialect) string {
	if rv.GetCatalogname() != "" {
		return fmt.Sprintf("cross-database reference %s.%s.%s", rv.GetCatalogname(), rv.GetSchemaname(), rv.GetRelname())
	}
	schemaName := strings.ToLower(rv.GetSchemaname())
	relName := strings.ToLower(rv.GetRelname())
	if _, ok := forbiddenSchemas[schemaName]; ok {
		return fmt.Sprintf("system schema %s", schemaName)
	}
	if _, ok := forbiddenSchemas[relName]; ok {
		return fmt.Sprintf("system relation %s", relName)
	}
	for _, prefix := range forbiddenRelationPrefixes {
		if strings.HasPrefix(relName, prefix) {
			return fmt.Sprintf("system relation %s", relName)
		}
	}
	if dialect == schema.DialectSQLite && schemaName == "temp" {
		return "temp schema"
	}
	return ""
}

func functionName(fc *pg_query.FuncCall) string {
	parts := make([]string, 0, len(fc.GetFuncname()))
	for _, node := range fc.GetFuncname() {
		if s := node.GetString_(); s != nil {
			parts = append(parts, strings.ToLower(s.GetSval()))
		}
	}
	return strings.Join(parts, ".")
}

// referencesRelation reports whether an unqualified relation called name is
// read anywhere under node. SQLite treats such a reference inside a CTE as
// recursion even without the RECURSIVE keyword.
func referencesRelation(node *pg_query.Node, name string) bool {
	if node == nil {
		return false
	}
	found := false
	walk(node.ProtoReflect(), 0, func(msg proto.Message, depth int) int {
		if rv, ok := msg.(*pg_query.RangeVar); ok && rv.GetSchemaname() == "" && strings.EqualFold(rv.GetRelname(), name) {
			found = true
		}
		return depth
	})
	return found
}

// walk visits every message in the tree depth first. visit returns the depth
// handed to the message's children.
func walk(m protoreflect.Message, depth int, visit func(proto.Message, int) int) {
	if !m.IsValid() {
		return
	}
	childDepth := visit(m.Interface(), depth)
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsList() && fd.Message() != nil:
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), childDepth, visit)
			}
		case fd.IsMap():
		case fd.Message() != nil:
			walk(v.Message(), childDepth, visit)
		}
		return true
	})
}

var locationFields = map[protoreflect.Name]struct{}{
	"location":      {},
	"stmt_location": {},
	"stmt_len":      {},
}

// sameTree reports whether two parse results are identical once source
// offsets are ignored. Both arguments are modified.
func sameTree(a, b *pg_query.ParseResult) bool {
	clearLocations(a.ProtoReflect())
	clearLocations(b.ProtoReflect())
	return proto.Equal(a, b)
}

func clearLocations(m protoreflect.Message) {
	if !m.IsValid() {
		return
	}
	var clear []protoreflect.FieldDescriptor
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsList() && fd.Message() != nil:
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				clearLocations(list.Get(i).Message())
			}
		case fd.IsMap():
		case fd.Message() != nil:
			clearLocations(v.Message())
		default:
			if _, ok := locationFields[fd.Name()]; ok {
				clear = append(clear, fd)
			}
		}
		return true
	})
	for _, fd := range clear {
		m.Clear(fd)
	}
}
