package jsonl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
	"github.com/llmsql/llmsql/internal/sanitize"
)

func TestAppendThenListReturnsRecordsInAppendOrder(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "records.jsonl"))
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.Append(ctx, sampleRecord(fmt.Sprintf("question %d", i), base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		ids = append(ids, id)
	}

	var listed []record.Record
	for r, err := range store.List(ctx, record.Filter{}) {
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		listed = append(listed, r)
	}
	if len(listed) != len(ids) {
		t.Fatalf("listed %d records, want %d", len(listed), len(ids))
	}
	for i, r := range listed {
		if r.ID != ids[i] || r.Seq != int64(i+1) {
			t.Fatalf("record %d = id %q seq %d, want id %q seq %d", i, r.ID, r.Seq, ids[i], i+1)
		}
		if r.Request.Text != fmt.Sprintf("question %d", i) {
			t.Fatalf("record %d text = %q", i, r.Request.Text)
		}
	}

	succeeded := listed[0].Models[0].Targets[0].Execution
	if succeeded == nil || !succeeded.OK() || succeeded.Result.RowCount != 1 {
		t.Fatalf("execution did not round-trip: %#v", succeeded)
	}
	wantRow := query.Row{"name": "souvlaki", "id": int64(9007199254740993), "rating": 4.5, "closed": nil}
	if got := succeeded.Result.Rows[0]; !reflect.DeepEqual(got, wantRow) {
		t.Fatalf("row = %#v, want %#v", got, wantRow)
	}
	failed := listed[0].Models[1].GenerationError
	if failed == nil || failed.Kind != "GenerationTimeout" {
		t.Fatalf("generation error did not round-trip: %#v", failed)
	}
}

func TestListAppliesFilter(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "records.jsonl"))
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		r := sampleRecord("q", base.Add(time.Duration(i)*time.Hour))
		if i%2 == 1 {
			r.Request.Databases = []query.DatabaseID{query.DatabasePostgres}
		}
		if _, err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	count := func(filter record.Filter) int {
		n := 0
		for _, err := range store.List(ctx, filter) {
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			n++
		}
		return n
	}

	if got := count(record.Filter{Database: query.DatabasePostgres}); got != 2 {
		t.Fatalf("database filter = %d, want 2", got)
	}
	if got := count(record.Filter{Since: base.Add(90 * time.Minute)}); got != 2 {
		t.Fatalf("since filter = %d, want 2", got)
	}
	if got := count(record.Filter{Model: nl2sql.ModelOpenAI}); got != 0 {
		t.Fatalf("model filter = %d, want 0", got)
	}
	if got := count(record.Filter{Model: nl2sql.ModelGPT, Limit: 3}); got != 3 {
		t.Fatalf("limit = %d, want 3", got)
	}
}

func TestGet(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "records.jsonl"))
	ctx := context.Background()

	id, err := store.Append(ctx, sampleRecord("find me", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Request.Text != "find me" {
		t.Fatalf("Get() = %#v", got)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.jsonl")
	ctx := context.Background()

	first, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := first.Append(ctx, sampleRecord("q", time.Now().UTC())); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := openStore(t, path)
	id, err := second.Append(ctx, sampleRecord("q", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := second.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Seq != 3 {
		t.Fatalf("Seq = %d, want 3", got.Seq)
	}
}

func TestOpenDropsTornTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	complete := sampleRecord("kept", time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC))
	complete.ID = "a"
	complete.Seq = 1
	line, err := json.Marshal(complete)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	content := append(append(line, '\n'), []byte(`{"id":"b","se`)...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write records file: %v", err)
	}

	var logs bytes.Buffer
	store, err := Open(path, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if !strings.Contains(logs.String(), "dropped incomplete trailing record") {
		t.Fatalf("logs = %q", logs.String())
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read records file: %v", err)
	}
	if len(onDisk) != len(line)+1 {
		t.Fatalf("file is %d bytes after recovery, want %d", len(onDisk), len(line)+1)
	}

	id, err := store.Append(context.Background(), sampleRecord("next", time.Date(2026, time.March, 1, 11, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	var seqs []int64
	for r, err := range store.List(context.Background(), record.Filter{}) {
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		seqs = append(seqs, r.Seq)
		if r.Seq == 2 && r.ID != id {
			t.Fatalf("second record id = %q, want %q", r.ID, id)
		}
	}
	if !reflect.DeepEqual(seqs, []int64{1, 2}) {
		t.Fatalf("seqs = %v, want [1 2]", seqs)
	}
}

func TestOpenDropsTornOnlyLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	if err := os.WriteFile(path, []byte(`{"id":"b","se`), 0o644); err != nil {
		t.Fatalf("write records file: %v", err)
	}
	store := openStore(t, path)
	for _, err := range store.List(context.Background(), record.Filter{}) {
		t.Fatalf("List() yielded after recovery, err = %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() != 0 {
		t.Fatalf("stat = %v, %v; want empty file", info, err)
	}
}

func TestConcurrentAppendsAreTotallyOrdered(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "records.jsonl"))
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Append(ctx, sampleRecord("q", time.Now().UTC())); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Append() error = %v", err)
	}

	var want int64 = 1
	for r, err := range store.List(ctx, record.Filter{}) {
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if r.Seq != want {
			t.Fatalf("Seq = %d, want %d", r.Seq, want)
		}
		want++
	}
	if want != writers+1 {
		t.Fatalf("listed %d records, want %d", want-1, writers)
	}
}

func TestAppendReportsPersistenceError(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "records.jsonl"))
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_, err := store.Append(context.Background(), sampleRecord("q", time.Now().UTC()))
	if !errors.Is(err, record.ErrPersistence) {
		t.Fatalf("Append() error = %v, want ErrPersistence", err)
	}
}

func TestOpenRejectsUnwritableLocation(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := Open(filepath.Join(blocker, "records.jsonl"), nil)
	if !errors.Is(err, record.ErrPersistence) {
		t.Fatalf("Open() error = %v, want ErrPersistence", err)
	}
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "records.jsonl"))
	bad := sampleRecord("q", time.Now().UTC())
	bad.Models[0].Targets[0].Execution.Failure = &record.Failure{Kind: "QueryFailed", Message: "both"}
	if _, err := store.Append(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(text string, at time.Time) record.Record {
	execution := record.Succeeded(query.Result{
		Columns:  []string{"name", "id", "rating", "closed"},
		Rows:     []query.Row{{"name": "souvlaki", "id": int64(9007199254740993), "rating": 4.5, "closed": nil}},
		RowCount: 1,
		Duration: 3 * time.Millisecond,
	})
	return record.Record{
		TrialID:   "trial-" + text,
		CreatedAt: at,
		Request: record.Request{
			Text:      text,
			Models:    []nl2sql.ModelID{nl2sql.ModelGPT, nl2sql.ModelTinyLlama},
			Databases: []query.DatabaseID{query.DatabaseSQLite},
		},
		Stages: []record.StageTransition{
			{Stage: record.StageReceived, At: at},
			{Stage: record.StageCompleted, At: at},
		},
		Models: []record.ModelOutcome{
			{
				ModelID:   nl2sql.ModelGPT,
				Attempts:  1,
				Candidate: &nl2sql.Candidate{ModelID: nl2sql.ModelGPT, RawText: "SELECT name FROM restaurant", SQL: "SELECT name FROM restaurant"},
				Targets: []record.TargetOutcome{{
					DatabaseID: query.DatabaseSQLite,
					Verdict:    sanitize.Verdict{Accepted: true, NormalizedStatement: "SELECT name FROM restaurant;"},
					Execution:  &execution,
				}},
			},
			{
				ModelID:         nl2sql.ModelTinyLlama,
				Attempts:        2,
				GenerationError: &record.Failure{Kind: "GenerationTimeout", Message: "deadline exceeded"},
			},
		},
	}
}
