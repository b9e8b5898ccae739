package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/llmsql/llmsql/internal/auth"
	"github.com/llmsql/llmsql/internal/comparison"
	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
	"github.com/llmsql/llmsql/internal/schema"
)

type textToSQLRequest struct {
	Text        string          `json:"text"`
	Model       string          `json:"model"`
	Models      []string        `json:"models"`
	Database    string          `json:"database"`
	Databases   []string        `json:"databases"`
	SchemaInfo  json.RawMessage `json:"schema_info"`
	ExpectedSQL string          `json:"expected_sql"`
}

type textToSQLResponse struct {
	record.Record
	PersistenceError string `json:"persistence_error,omitempty"`
}

func handleTextToSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUNNER_NOT_CONFIGURED", "comparison runner is not configured", false, nil)
		return
	}
	if err := auth.Require(r.Context(), auth.RoleComparisonRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request textToSQLRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid text-to-sql request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Text) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TEXT_REQUIRED", "text is required", false, nil)
		return
	}

	supplied, err := decodeSchemaInfo(request.SchemaInfo)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SCHEMA", err.Error(), false, nil)
		return
	}

	req := comparison.Request{
		Text:        request.Text,
		Schema:      supplied,
		ExpectedSQL: request.ExpectedSQL,
	}
	for _, raw := range append(nonEmpty(request.Model), request.Models...) {
		req.Models = append(req.Models, nl2sql.ParseModelID(raw))
	}
	for _, raw := range append(nonEmpty(request.Database), request.Databases...) {
		req.Databases = append(req.Databases, query.ParseDatabaseID(raw))
	}

	rec, err := deps.Runner.Run(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, textToSQLResponse{Record: rec})
	case errors.Is(err, comparison.ErrInvalidRequest):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, map[string]any{
			"models":    modelIDs(deps.Models),
			"databases": databaseIDs(deps.Databases),
		})
	case errors.Is(err, comparison.ErrAllModelsFailed):
		writeError(r.Context(), w, http.StatusBadGateway, "ALL_MODELS_FAILED", "every model backend failed to generate sql", true, map[string]any{
			"details": err.Error(),
			"record":  rec,
		})
	case errors.Is(err, record.ErrPersistence):
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "record not persisted", "trial_id", rec.TrialID, "error", err)
		}
		writeJSON(w, http.StatusOK, textToSQLResponse{Record: rec, PersistenceError: err.Error()})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "COMPARISON_FAILED", "comparison failed", true, map[string]any{"details": err.Error()})
	}
}

// decodeSchemaInfo accepts either a structured schema object or the schema
// sheet as CSV text.
func decodeSchemaInfo(raw json.RawMessage) (*schema.Context, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("decode schema_info: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		parsed, err := schema.LoadCSV(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("parse schema_info csv: %w", err)
		}
		return &parsed, nil
	}
	var parsed schema.Context
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return nil, fmt.Errorf("decode schema_info: %w", err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema_info: %w", err)
	}
	return &parsed, nil
}

func nonEmpty(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return []string{value}
}
