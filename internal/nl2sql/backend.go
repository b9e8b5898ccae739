package nl2sql

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/llmsql/llmsql/internal/schema"
)

type ModelID string

const (
	ModelGPT       ModelID = "gpt"
	ModelTinyLlama ModelID = "tinyllama"
	ModelOpenAI    ModelID = "openai"
)

func ParseModelID(raw string) ModelID {
	return ModelID(strings.ToLower(strings.TrimSpace(raw)))
}

var (
	ErrBackendUnavailable = errors.New("model backend unavailable")
	ErrGenerationTimeout  = errors.New("model generation timed out")
	ErrGenerationFailed   = errors.New("model generation failed")
	ErrUnknownModel       = errors.New("unknown model")
)

// FailureKind names the sentinel a generation error wraps.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBackendUnavailable):
		return "BackendUnavailable"
	case errors.Is(err, ErrGenerationTimeout):
		return "GenerationTimeout"
	case errors.Is(err, ErrUnknownModel):
		return "UnknownModel"
	default:
		return "GenerationFailed"
	}
}

// Example is a question/SQL pair shown to models that accept few-shot prompts.
type Example struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

type Request struct {
	Text     string         `json:"text"`
	Schema   schema.Context `json:"schema"`
	Dialect  schema.Dialect `json:"dialect,omitempty"`
	Examples []Example      `json:"examples,omitempty"`
}

// Candidate is the outcome of one successful model call. RawText is the reply
// as received; SQL is the statement extracted from it.
type Candidate struct {
	ModelID           ModelID       `json:"model_id"`
	Provider          string        `json:"provider"`
	Model             string        `json:"model"`
	RawText           string        `json:"raw_text"`
	SQL               string        `json:"sql"`
	GenerationLatency time.Duration `json:"generation_latency_ns"`
	PromptTokens      int           `json:"prompt_tokens,omitempty"`
	CompletionTokens  int           `json:"completion_tokens,omitempty"`
}

// Backend turns a natural-language request into candidate SQL. Adapters do
// not retry; a failed call returns one of the package's sentinel errors.
type Backend interface {
	ID() ModelID
	Generate(ctx context.Context, req Request) (Candidate, error)
	HealthCheck(ctx context.Context) error
}
