package api

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/llmsql/llmsql/internal/comparison"
	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
	jsonlrecord "github.com/llmsql/llmsql/internal/record/jsonl"
	"github.com/llmsql/llmsql/internal/schema"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []comparison.Request
	rec      record.Record
	err      error
}

func (r *fakeRunner) Run(_ context.Context, req comparison.Request) (record.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.rec, r.err
}

type fakeBackend struct {
	id        nl2sql.ModelID
	healthErr error
}

func (b *fakeBackend) ID() nl2sql.ModelID { return b.id }
func (b *fakeBackend) Generate(context.Context, nl2sql.Request) (nl2sql.Candidate, error) {
	return nl2sql.Candidate{ModelID: b.id, SQL: "SELECT 1"}, nil
}
func (b *fakeBackend) HealthCheck(context.Context) error { return b.healthErr }

type fakeEngine struct {
	id          query.DatabaseID
	healthErr   error
	described   schema.Context
	describeErr error
	counts      map[string]int64
	countErr    error
}

func (e *fakeEngine) ID() query.DatabaseID    { return e.id }
func (e *fakeEngine) Dialect() schema.Dialect { return schema.Dialect(e.id) }
func (e *fakeEngine) Execute(context.Context, query.Request) (query.Result, error) {
	return query.Result{}, nil
}
func (e *fakeEngine) Describe(context.Context) (schema.Context, error) {
	return e.described, e.describeErr
}
func (e *fakeEngine) CountRows(_ context.Context, tables []string) (map[string]int64, error) {
	if e.countErr != nil {
		return nil, e.countErr
	}
	out := make(map[string]int64, len(tables))
	for _, table := range tables {
		out[table] = e.counts[table]
	}
	return out, nil
}
func (e *fakeEngine) HealthCheck(context.Context) error { return e.healthErr }
func (e *fakeEngine) Close() error                      { return nil }

func newModelRegistry(t *testing.T, backends ...nl2sql.Backend) *nl2sql.Registry {
	t.Helper()
	registry, err := nl2sql.NewRegistry(backends...)
	if err != nil {
		t.Fatalf("nl2sql.NewRegistry() error = %v", err)
	}
	return registry
}

func newDatabaseRegistry(t *testing.T, engines ...query.Engine) *query.Registry {
	t.Helper()
	registry, err := query.NewRegistry(engines...)
	if err != nil {
		t.Fatalf("query.NewRegistry() error = %v", err)
	}
	return registry
}

func openRecordStore(t *testing.T) *jsonlrecord.Store {
	t.Helper()
	store, err := jsonlrecord.Open(filepath.Join(t.TempDir(), "records.jsonl"), nil)
	if err != nil {
		t.Fatalf("jsonl.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
