package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
	"github.com/llmsql/llmsql/internal/sanitize"
)

func TestEncodeRecordsToParquet(t *testing.T) {
	ok := record.Succeeded(query.Result{Columns: []string{"n"}, Rows: []query.Row{{"n": 1}}, RowCount: 1, Duration: 12 * time.Millisecond})
	failed := record.Failed(fmt.Errorf("%w: 50ms", query.ErrExecutionTimeout))
	createdAt := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	records := []record.Record{{
		ID:        "rec-1",
		Seq:       4,
		TrialID:   "trial-1",
		CreatedAt: createdAt,
		Request:   record.Request{Text: "how many restaurants", SchemaSource: "configured"},
		Stages:    []record.StageTransition{{Stage: record.StageReceived, At: createdAt}, {Stage: record.StageCompleted, At: createdAt}},
		Models: []record.ModelOutcome{
			{
				ModelID:   nl2sql.ModelGPT,
				Attempts:  1,
				Candidate: &nl2sql.Candidate{ModelID: nl2sql.ModelGPT, Provider: "ollama", Model: "gpt-oss:20b", SQL: "SELECT 1", GenerationLatency: 1500 * time.Millisecond},
				Targets: []record.TargetOutcome{
					{DatabaseID: query.DatabaseSQLite, Verdict: sanitize.Verdict{Accepted: true}, Execution: &ok},
					{DatabaseID: query.DatabasePostgres, Verdict: sanitize.Verdict{Accepted: true}, Execution: &failed},
				},
			},
			{
				ModelID:         nl2sql.ModelTinyLlama,
				Attempts:        2,
				GenerationError: &record.Failure{Kind: "BackendUnavailable", Message: "connection refused"},
			},
		},
	}}

	result, err := EncodeRecordsToParquet(records)
	if err != nil {
		t.Fatalf("EncodeRecordsToParquet() error = %v", err)
	}
	if result.RecordCount != 1 || result.RowCount != 3 {
		t.Fatalf("counts = %d/%d", result.RecordCount, result.RowCount)
	}

	reader := parquet.NewGenericReader[parquetOutcome](bytes.NewReader(result.Data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetOutcome, 3)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("read rows = %d", count)
	}

	if rows[0].DatabaseID != "sqlite" || !rows[0].ExecutionOK || rows[0].RowCount != 1 || rows[0].ExecutionLatencyMs != 12 {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[0].GenerationLatencyMs != 1500 || rows[0].FinalStage != "Completed" || rows[0].CreatedAtUnixMs != createdAt.UnixMilli() {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].DatabaseID != "postgres" || rows[1].ExecutionOK || rows[1].FailureKind != "ExecutionTimeout" {
		t.Fatalf("row 1 = %+v", rows[1])
	}
	if rows[2].ModelID != "tinyllama" || rows[2].DatabaseID != "" || rows[2].GenerationErrorKind != "BackendUnavailable" || rows[2].Attempts != 2 {
		t.Fatalf("row 2 = %+v", rows[2])
	}
}

func TestEncodeRecordsToParquetEmpty(t *testing.T) {
	result, err := EncodeRecordsToParquet(nil)
	if err != nil {
		t.Fatalf("EncodeRecordsToParquet() error = %v", err)
	}
	if result.RowCount != 0 || len(result.Data) == 0 {
		t.Fatalf("result = %+v", result)
	}
}
