package benchmark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/llmsql/llmsql/internal/comparison"
	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
	"github.com/llmsql/llmsql/internal/sanitize"
	"github.com/llmsql/llmsql/internal/schema"
)

type fakeEngine struct {
	id      query.DatabaseID
	results map[string]query.Result
	calls   []string
}

func (e *fakeEngine) ID() query.DatabaseID    { return e.id }
func (e *fakeEngine) Dialect() schema.Dialect { return schema.DialectSQLite }
func (e *fakeEngine) Execute(_ context.Context, req query.Request) (query.Result, error) {
	e.calls = append(e.calls, req.SQL)
	result, ok := e.results[req.SQL]
	if !ok {
		return query.Result{}, fmt.Errorf("%w: no such table", query.ErrQueryFailed)
	}
	return result, nil
}
func (e *fakeEngine) Describe(context.Context) (schema.Context, error) { return schema.Context{}, nil }
func (e *fakeEngine) HealthCheck(context.Context) error                { return nil }
func (e *fakeEngine) Close() error                                     { return nil }

type fakeComparer struct {
	requests []comparison.Request
	run      func(req comparison.Request) (record.Record, error)
}

func (c *fakeComparer) Run(_ context.Context, req comparison.Request) (record.Record, error) {
	c.requests = append(c.requests, req)
	return c.run(req)
}

func countResult(n int64) query.Result {
	return query.Result{Columns: []string{"count"}, Rows: []query.Row{{"count": n}}, RowCount: 1, Duration: 3 * time.Millisecond}
}

func succeeded(db query.DatabaseID, result query.Result) record.TargetOutcome {
	execution := record.Succeeded(result)
	return record.TargetOutcome{DatabaseID: db, Verdict: sanitize.Verdict{Accepted: true}, Execution: &execution}
}

func newTestService(t *testing.T, comparer Comparer, engines ...query.Engine) *Service {
	t.Helper()
	registry, err := query.NewRegistry(engines...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	cfg := DefaultConfig()
	cfg.DatasetPath = "dataset.json"
	cfg.Models = []nl2sql.ModelID{nl2sql.ModelGPT, nl2sql.ModelTinyLlama}
	cfg.Databases = make([]query.DatabaseID, 0, len(engines))
	for _, engine := range engines {
		cfg.Databases = append(cfg.Databases, engine.ID())
	}
	svc, err := NewService(cfg, comparer, registry, 100, time.Second, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestRunScoresEveryModelDatabasePair(t *testing.T) {
	gold := "SELECT COUNT(*) FROM restaurant"
	sqlite := &fakeEngine{id: query.DatabaseSQLite, results: map[string]query.Result{gold: countResult(7)}}
	postgres := &fakeEngine{id: query.DatabasePostgres, results: map[string]query.Result{gold: countResult(7)}}

	comparer := &fakeComparer{run: func(req comparison.Request) (record.Record, error) {
		return record.Record{
			ID: "rec-1",
			Models: []record.ModelOutcome{
				{
					ModelID:   nl2sql.ModelGPT,
					Candidate: &nl2sql.Candidate{SQL: "select count(*) from restaurant;", GenerationLatency: 2 * time.Second},
					Targets: []record.TargetOutcome{
						succeeded(query.DatabaseSQLite, countResult(7)),
						succeeded(query.DatabasePostgres, countResult(8)),
					},
				},
				{
					ModelID:         nl2sql.ModelTinyLlama,
					GenerationError: &record.Failure{Kind: "GenerationTimeout", Message: "deadline"},
				},
			},
		}, nil
	}}

	svc := newTestService(t, comparer, sqlite, postgres)
	report, err := svc.Run(context.Background(), []Case{{Index: 1, Text: "how many restaurants", ExpectedSQL: gold}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(comparer.requests) != 1 || comparer.requests[0].ExpectedSQL != gold {
		t.Fatalf("requests = %+v", comparer.requests)
	}
	if len(report.Results) != 4 {
		t.Fatalf("len(Results) = %d, want 4", len(report.Results))
	}

	gptSQLite := report.Results[0]
	if !gptSQLite.Success || !gptSQLite.SQLMatch || !gptSQLite.ResultMatch || gptSQLite.RecordID != "rec-1" {
		t.Fatalf("gpt + sqlite = %+v", gptSQLite)
	}
	gptPostgres := report.Results[1]
	if !gptPostgres.Success || gptPostgres.ResultMatch {
		t.Fatalf("gpt + postgres = %+v", gptPostgres)
	}
	tiny := report.Results[2]
	if tiny.Success || tiny.Error != "GenerationTimeout: deadline" {
		t.Fatalf("tinyllama + sqlite = %+v", tiny)
	}

	summary := report.Summary["gpt + sqlite"]
	if summary.Total != 1 || summary.Succeeded != 1 || summary.ResultMatches != 1 || summary.SQLMatches != 1 {
		t.Fatalf("summary[gpt + sqlite] = %+v", summary)
	}
	if summary.AverageGenerationLatency != 2 {
		t.Fatalf("AverageGenerationLatency = %v", summary.AverageGenerationLatency)
	}
	if failed := report.Summary["tinyllama + postgres"]; failed.Failed != 1 || failed.SuccessRate != 0 {
		t.Fatalf("summary[tinyllama + postgres] = %+v", failed)
	}
	if len(sqlite.calls) != 1 || sqlite.calls[0] != gold {
		t.Fatalf("gold calls = %v", sqlite.calls)
	}
}

func TestRunRecordsRejectedAndFailedTargets(t *testing.T) {
	sqlite := &fakeEngine{id: query.DatabaseSQLite}
	failure := record.Failed(fmt.Errorf("%w: syntax error", query.ErrQueryFailed))
	comparer := &fakeComparer{run: func(comparison.Request) (record.Record, error) {
		return record.Record{Models: []record.ModelOutcome{
			{
				ModelID:   nl2sql.ModelGPT,
				Candidate: &nl2sql.Candidate{SQL: "DROP TABLE restaurant"},
				Targets: []record.TargetOutcome{{
					DatabaseID: query.DatabaseSQLite,
					Verdict:    sanitize.Verdict{Accepted: false, Reason: sanitize.ReasonWriteOperation},
				}},
			},
			{
				ModelID:   nl2sql.ModelTinyLlama,
				Candidate: &nl2sql.Candidate{SQL: "SELEC 1"},
				Targets: []record.TargetOutcome{{
					DatabaseID: query.DatabaseSQLite,
					Verdict:    sanitize.Verdict{Accepted: true},
					Execution:  &failure,
				}},
			},
		}}, record.ErrPersistence
	}}

	svc := newTestService(t, comparer, sqlite)
	report, err := svc.Run(context.Background(), []Case{{Index: 1, Text: "drop it", ExpectedSQL: "SELECT 1"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("len(Results) = %d", len(report.Results))
	}
	if report.Results[0].Error != "rejected: WriteOperation" {
		t.Fatalf("rejected error = %q", report.Results[0].Error)
	}
	if report.Results[1].Error != "QueryFailed: query failed: syntax error" {
		t.Fatalf("failed error = %q", report.Results[1].Error)
	}
}

func TestRunStopsOnInvalidRequest(t *testing.T) {
	sqlite := &fakeEngine{id: query.DatabaseSQLite}
	comparer := &fakeComparer{run: func(comparison.Request) (record.Record, error) {
		return record.Record{}, fmt.Errorf("%w: text is required", comparison.ErrInvalidRequest)
	}}
	svc := newTestService(t, comparer, sqlite)
	_, err := svc.Run(context.Background(), []Case{{Index: 1}, {Index: 2}})
	if !errors.Is(err, comparison.ErrInvalidRequest) {
		t.Fatalf("Run() error = %v, want ErrInvalidRequest", err)
	}
	if len(comparer.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(comparer.requests))
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	sqlite := &fakeEngine{id: query.DatabaseSQLite}
	comparer := &fakeComparer{run: func(comparison.Request) (record.Record, error) { return record.Record{}, nil }}
	svc := newTestService(t, comparer, sqlite)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Run(ctx, []Case{{Index: 1}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(comparer.requests) != 0 {
		t.Fatalf("requests = %d, want 0", len(comparer.requests))
	}
}

func TestNewServiceRejectsUnknownDatabase(t *testing.T) {
	registry, err := query.NewRegistry(&fakeEngine{id: query.DatabaseSQLite})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	cfg := DefaultConfig()
	cfg.Databases = []query.DatabaseID{query.DatabaseDuckDB}
	if _, err := NewService(cfg, &fakeComparer{}, registry, 10, time.Second, nil); !errors.Is(err, query.ErrUnknownDatabase) {
		t.Fatalf("NewService() error = %v, want ErrUnknownDatabase", err)
	}
}

func TestWriteReportFile(t *testing.T) {
	report := Report{
		Dataset: "d.json",
		Results: []CaseResult{{Index: 1, Model: "gpt", Database: query.DatabaseSQLite, Success: true}},
		Summary: Summarize([]CaseResult{{Model: "gpt", Database: query.DatabaseSQLite, Success: true}}),
	}
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	if err := WriteReportFile(path, report); err != nil {
		t.Fatalf("WriteReportFile() error = %v", err)
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, report); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	summary := decoded["summary"].(map[string]any)["gpt + sqlite"].(map[string]any)
	if summary["success_rate"].(float64) != 1 {
		t.Fatalf("summary = %v", summary)
	}
	if keys := SummaryKeys(report.Summary); len(keys) != 1 || keys[0] != "gpt + sqlite" {
		t.Fatalf("SummaryKeys() = %v", keys)
	}
}
