// Package benchmark replays a labelled text-to-SQL dataset through the
// comparison runner and scores every model and database pair against the
// gold queries.
package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/llmsql/llmsql/internal/comparison"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
)

// Comparer runs one trial. *comparison.Runner satisfies it.
type Comparer interface {
	Run(ctx context.Context, req comparison.Request) (record.Record, error)
}

type CaseResult struct {
	Index             int              `json:"index"`
	Text              string           `json:"text"`
	Model             string           `json:"model"`
	Database          query.DatabaseID `json:"database"`
	ExpectedSQL       string           `json:"expected_sql"`
	GeneratedSQL      string           `json:"generated_sql,omitempty"`
	Success           bool             `json:"success"`
	Error             string           `json:"error,omitempty"`
	SQLMatch          bool             `json:"sql_match"`
	ResultMatch       bool             `json:"result_match"`
	GenerationLatency time.Duration    `json:"generation_latency_ns"`
	ExecutionLatency  time.Duration    `json:"execution_latency_ns"`
	RecordID          string           `json:"record_id,omitempty"`
}

type Summary struct {
	Total                    int     `json:"total"`
	Succeeded                int     `json:"succeeded"`
	Failed                   int     `json:"failed"`
	SQLMatches               int     `json:"sql_matches"`
	ResultMatches            int     `json:"result_matches"`
	SuccessRate              float64 `json:"success_rate"`
	AverageGenerationLatency float64 `json:"avg_generation_latency_seconds"`
	AverageExecutionLatency  float64 `json:"avg_execution_latency_seconds"`
}

type Report struct {
	Dataset    string             `json:"dataset"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Results    []CaseResult       `json:"results"`
	Summary    map[string]Summary `json:"summary"`
}

type Service struct {
	cfg      Config
	log      *slog.Logger
	comparer Comparer
	engines  *query.Registry
	rowLimit int
	timeout  time.Duration
	now      func() time.Time
}

// NewService builds a benchmark over comparer. Gold queries run directly on
// engines with the same row limit and timeout the runner applies.
func NewService(cfg Config, comparer Comparer, engines *query.Registry, rowLimit int, timeout time.Duration, logger *slog.Logger) (*Service, error) {
	if comparer == nil {
		return nil, fmt.Errorf("comparison runner is required")
	}
	if engines == nil {
		return nil, fmt.Errorf("database registry is required")
	}
	for _, id := range cfg.Databases {
		if _, err := engines.Get(id); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		cfg:      cfg,
		log:      logger,
		comparer: comparer,
		engines:  engines,
		rowLimit: rowLimit,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run executes every case sequentially. A case whose trial fails still
// contributes failed results; only cancellation or a rejected request stops
// the run.
func (s *Service) Run(ctx context.Context, cases []Case) (Report, error) {
	report := Report{
		Dataset:   s.cfg.DatasetPath,
		StartedAt: s.now(),
		Summary:   map[string]Summary{},
	}

	for i, c := range cases {
		if i > 0 && s.cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.cfg.Pause):
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		results, err := s.runCase(ctx, c)
		if err != nil {
			return report, fmt.Errorf("case %d: %w", c.Index, err)
		}
		report.Results = append(report.Results, results...)
		s.log.Info("benchmark case finished", "index", c.Index, "total", len(cases), "results", len(results))
	}

	report.FinishedAt = s.now()
	report.Summary = Summarize(report.Results)
	return report, nil
}

func (s *Service) runCase(ctx context.Context, c Case) ([]CaseResult, error) {
	rec, err := s.comparer.Run(ctx, comparison.Request{
		Text:        c.Text,
		Models:      s.cfg.Models,
		Databases:   s.cfg.Databases,
		ExpectedSQL: c.ExpectedSQL,
	})
	switch {
	case err == nil:
	case errors.Is(err, comparison.ErrInvalidRequest):
		return nil, err
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		s.log.Warn("benchmark trial degraded", "index", c.Index, "error", err)
	}

	gold := s.goldResults(ctx, c.ExpectedSQL)

	var results []CaseResult
	for _, model := range rec.Models {
		for _, database := range s.cfg.Databases {
			result := CaseResult{
				Index:       c.Index,
				Text:        c.Text,
				Model:       string(model.ModelID),
				Database:    database,
				ExpectedSQL: c.ExpectedSQL,
				RecordID:    rec.ID,
			}
			if model.GenerationError != nil {
				result.Error = model.GenerationError.Kind + ": " + model.GenerationError.Message
				results = append(results, result)
				continue
			}
			if model.Candidate != nil {
				result.GeneratedSQL = model.Candidate.SQL
				result.GenerationLatency = model.Candidate.GenerationLatency
				result.SQLMatch = SQLMatches(model.Candidate.SQL, c.ExpectedSQL)
			}
			scoreTarget(&result, model.Targets, gold[database])
			results = append(results, result)
		}
	}
	return results, nil
}

func scoreTarget(result *CaseResult, targets []record.TargetOutcome, gold *query.Result) {
	for _, target := range targets {
		if target.DatabaseID != result.Database {
			continue
		}
		if !target.Verdict.Accepted {
			result.Error = "rejected: " + string(target.Verdict.Reason)
			return
		}
		if target.Execution == nil {
			result.Error = "not executed"
			return
		}
		if target.Execution.Failure != nil {
			result.Error = target.Execution.Failure.Kind + ": " + target.Execution.Failure.Message
			return
		}
		result.Success = true
		result.ExecutionLatency = target.Execution.Result.Duration
		result.ResultMatch = gold != nil && ResultsMatch(*target.Execution.Result, *gold)
		return
	}
	result.Error = "no outcome recorded"
}

// goldResults runs the expected query once per database. A gold query that
// fails on an engine leaves that engine without a reference result.
func (s *Service) goldResults(ctx context.Context, expected string) map[query.DatabaseID]*query.Result {
	out := make(map[query.DatabaseID]*query.Result, len(s.cfg.Databases))
	if expected == "" {
		return out
	}
	for _, id := range s.cfg.Databases {
		engine, err := s.engines.Get(id)
		if err != nil {
			continue
		}
		result, err := engine.Execute(ctx, query.Request{SQL: expected, RowLimit: s.rowLimit, Timeout: s.timeout})
		if err != nil {
			s.log.Warn("gold query failed", "database", id, "error", err)
			continue
		}
		out[id] = &result
	}
	return out
}

// Summarize groups results by "model + database".
func Summarize(results []CaseResult) map[string]Summary {
	type totals struct {
		summary     Summary
		generation  time.Duration
		generationN int
		execution   time.Duration
	}
	grouped := map[string]*totals{}
	for _, result := range results {
		key := result.Model + " + " + string(result.Database)
		t, ok := grouped[key]
		if !ok {
			t = &totals{}
			grouped[key] = t
		}
		t.summary.Total++
		if result.GenerationLatency > 0 {
			t.generation += result.GenerationLatency
			t.generationN++
		}
		if !result.Success {
			t.summary.Failed++
			continue
		}
		t.summary.Succeeded++
		t.execution += result.ExecutionLatency
		if result.SQLMatch {
			t.summary.SQLMatches++
		}
		if result.ResultMatch {
			t.summary.ResultMatches++
		}
	}

	out := make(map[string]Summary, len(grouped))
	for key, t := range grouped {
		summary := t.summary
		summary.SuccessRate = float64(summary.Succeeded) / float64(summary.Total)
		if t.generationN > 0 {
			summary.AverageGenerationLatency = (t.generation / time.Duration(t.generationN)).Seconds()
		}
		if summary.Succeeded > 0 {
			summary.AverageExecutionLatency = (t.execution / time.Duration(summary.Succeeded)).Seconds()
		}
		out[key] = summary
	}
	return out
}

// SummaryKeys returns the summary keys in a stable order for printing.
func SummaryKeys(summary map[string]Summary) []string {
	keys := make([]string, 0, len(summary))
	for key := range summary {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func WriteReport(w io.Writer, report Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encode benchmark report: %w", err)
	}
	return nil
}

func WriteReportFile(path string, report Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := WriteReport(file, report); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
