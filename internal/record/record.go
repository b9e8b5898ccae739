// Package record defines the comparison record assembled for every trial and
// the append-only stores that keep them.
package record

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/sanitize"
	"github.com/llmsql/llmsql/internal/schema"
)

var (
	ErrPersistence = errors.New("record persistence failed")
	ErrNotFound    = errors.New("record not found")
)

type Stage string

const (
	StageReceived   Stage = "Received"
	StageGenerating Stage = "Generating"
	StageSanitizing Stage = "Sanitizing"
	StageExecuting  Stage = "Executing"
	StageCompleted  Stage = "Completed"
	StageFailed     Stage = "Failed"
)

type StageTransition struct {
	Stage  Stage     `json:"stage"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

type Request struct {
	Text         string             `json:"text"`
	Models       []nl2sql.ModelID   `json:"models"`
	Databases    []query.DatabaseID `json:"databases"`
	Schema       schema.Context     `json:"schema"`
	SchemaSource string             `json:"schema_source,omitempty"`
	ExpectedSQL  string             `json:"expected_sql,omitempty"`
}

type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Execution holds either a result or a failure, never both.
type Execution struct {
	Result  *query.Result `json:"result,omitempty"`
	Failure *Failure      `json:"failure,omitempty"`
}

func Succeeded(result query.Result) Execution {
	return Execution{Result: &result}
}

func Failed(err error) Execution {
	return Execution{Failure: &Failure{Kind: query.FailureKind(err), Message: err.Error()}}
}

func (e Execution) OK() bool {
	return e.Result != nil && e.Failure == nil
}

func (e Execution) Validate() error {
	if (e.Result == nil) == (e.Failure == nil) {
		return fmt.Errorf("execution must carry exactly one of result or failure")
	}
	return nil
}

// TargetOutcome is what happened to one candidate against one database.
// Execution is nil when the sanitizer rejected the candidate.
type TargetOutcome struct {
	DatabaseID query.DatabaseID `json:"database_id"`
	Verdict    sanitize.Verdict `json:"verdict"`
	Execution  *Execution       `json:"execution,omitempty"`
}

type ModelOutcome struct {
	ModelID         nl2sql.ModelID    `json:"model_id"`
	Attempts        int               `json:"attempts"`
	Candidate       *nl2sql.Candidate `json:"candidate,omitempty"`
	GenerationError *Failure          `json:"generation_error,omitempty"`
	Targets         []TargetOutcome   `json:"targets,omitempty"`
}

type Record struct {
	ID        string            `json:"id"`
	Seq       int64             `json:"seq,omitempty"`
	TrialID   string            `json:"trial_id"`
	CreatedAt time.Time         `json:"created_at"`
	Request   Request           `json:"request"`
	Stages    []StageTransition `json:"stages"`
	Models    []ModelOutcome    `json:"models"`
}

func (r Record) FinalStage() Stage {
	if len(r.Stages) == 0 {
		return ""
	}
	return r.Stages[len(r.Stages)-1].Stage
}

func (r Record) Model(id nl2sql.ModelID) (ModelOutcome, bool) {
	for _, outcome := range r.Models {
		if outcome.ModelID == id {
			return outcome, true
		}
	}
	return ModelOutcome{}, false
}

func (r Record) Validate() error {
	if r.TrialID == "" {
		return fmt.Errorf("trial id is required")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	for _, model := range r.Models {
		if model.Candidate != nil && model.GenerationError != nil {
			return fmt.Errorf("model %s has both a candidate and a generation error", model.ModelID)
		}
		for _, target := range model.Targets {
			if target.Execution == nil {
				continue
			}
			if err := target.Execution.Validate(); err != nil {
				return fmt.Errorf("model %s database %s: %w", model.ModelID, target.DatabaseID, err)
			}
		}
	}
	return nil
}

type Filter struct {
	Model    nl2sql.ModelID
	Database query.DatabaseID
	Since    time.Time
	Limit    int
}

func (f Filter) Matches(r Record) bool {
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	if f.Model != "" {
		if _, ok := r.Model(f.Model); !ok {
			return false
		}
	}
	if f.Database != "" {
		found := false
		for _, id := range r.Request.Databases {
			if id == f.Database {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is an append-only log of records. Append assigns ID (when empty) and
// Seq, serializes writers and fails with an error wrapping ErrPersistence when
// the medium cannot be written. List yields records in append order.
type Store interface {
	Append(ctx context.Context, r Record) (string, error)
	List(ctx context.Context, filter Filter) iter.Seq2[Record, error]
	Get(ctx context.Context, id string) (Record, error)
	Close() error
}
