// Package report flattens comparison records into columnar exports.
package report

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/llmsql/llmsql/internal/record"
)

type ParquetEncodeResult struct {
	Data        []byte
	RecordCount int64
	RowCount    int64
}

// parquetOutcome is one (record, model, database) cell of a trial. A model
// that failed to generate yields a single row with an empty database.
type parquetOutcome struct {
	RecordID            string `parquet:"record_id"`
	Seq                 int64  `parquet:"seq"`
	TrialID             string `parquet:"trial_id"`
	CreatedAtUnixMs     int64  `parquet:"created_at_unix_ms"`
	FinalStage          string `parquet:"final_stage"`
	Text                string `parquet:"text"`
	ExpectedSQL         string `parquet:"expected_sql"`
	SchemaSource        string `parquet:"schema_source"`
	ModelID             string `parquet:"model_id"`
	Provider            string `parquet:"provider"`
	ModelName           string `parquet:"model_name"`
	Attempts            int32  `parquet:"attempts"`
	GeneratedSQL        string `parquet:"generated_sql"`
	GenerationErrorKind string `parquet:"generation_error_kind"`
	GenerationLatencyMs int64  `parquet:"generation_latency_ms"`
	DatabaseID          string `parquet:"database_id"`
	Accepted            bool   `parquet:"accepted"`
	RejectReason        string `parquet:"reject_reason"`
	ExecutionOK         bool   `parquet:"execution_ok"`
	FailureKind         string `parquet:"failure_kind"`
	RowCount            int64  `parquet:"row_count"`
	ExecutionLatencyMs  int64  `parquet:"execution_latency_ms"`
}

func EncodeRecordsToParquet(records []record.Record) (ParquetEncodeResult, error) {
	rows := make([]parquetOutcome, 0, len(records))
	for _, rec := range records {
		rows = append(rows, flatten(rec)...)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetOutcome](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ParquetEncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(records)),
		RowCount:    int64(len(rows)),
	}, nil
}

func flatten(rec record.Record) []parquetOutcome {
	base := parquetOutcome{
		RecordID:        rec.ID,
		Seq:             rec.Seq,
		TrialID:         rec.TrialID,
		CreatedAtUnixMs: rec.CreatedAt.UnixMilli(),
		FinalStage:      string(rec.FinalStage()),
		Text:            rec.Request.Text,
		ExpectedSQL:     rec.Request.ExpectedSQL,
		SchemaSource:    rec.Request.SchemaSource,
	}

	var rows []parquetOutcome
	for _, model := range rec.Models {
		row := base
		row.ModelID = string(model.ModelID)
		row.Attempts = int32(model.Attempts)
		if model.Candidate != nil {
			row.Provider = model.Candidate.Provider
			row.ModelName = model.Candidate.Model
			row.GeneratedSQL = model.Candidate.SQL
			row.GenerationLatencyMs = model.Candidate.GenerationLatency.Milliseconds()
		}
		if model.GenerationError != nil {
			row.GenerationErrorKind = model.GenerationError.Kind
		}
		if len(model.Targets) == 0 {
			rows = append(rows, row)
			continue
		}
		for _, target := range model.Targets {
			cell := row
			cell.DatabaseID = string(target.DatabaseID)
			cell.Accepted = target.Verdict.Accepted
			cell.RejectReason = string(target.Verdict.Reason)
			if execution := target.Execution; execution != nil {
				cell.ExecutionOK = execution.OK()
				if execution.Result != nil {
					cell.RowCount = int64(execution.Result.RowCount)
					cell.ExecutionLatencyMs = execution.Result.Duration.Milliseconds()
				}
				if execution.Failure != nil {
					cell.FailureKind = execution.Failure.Kind
				}
			}
			rows = append(rows, cell)
		}
	}
	return rows
}
