package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/llmsql/llmsql/internal/auth"
	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
	"github.com/llmsql/llmsql/internal/report"
)

const (
	defaultListLimit   = 100
	maxListLimit       = 1000
	defaultExportLimit = 10000
)

func handleListRecords(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !recordsReady(deps, w, r) {
		return
	}
	filter, err := parseRecordFilter(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), false, nil)
		return
	}

	records := make([]record.Record, 0)
	for rec, err := range deps.Records.List(r.Context(), filter) {
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "RECORD_STORE_ERROR", "failed to list records", true, map[string]any{"details": err.Error()})
			return
		}
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func handleGetRecord(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !recordsReady(deps, w, r) {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	rec, err := deps.Records.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "RECORD_NOT_FOUND", "record was not found", false, map[string]any{"id": id})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "RECORD_STORE_ERROR", "failed to load record", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func handleExportRecords(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !recordsReady(deps, w, r) {
		return
	}
	limit := deps.ExportLimit
	if limit <= 0 {
		limit = defaultExportLimit
	}
	filter, err := parseRecordFilter(r, limit, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), false, nil)
		return
	}

	var records []record.Record
	for rec, err := range deps.Records.List(r.Context(), filter) {
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "RECORD_STORE_ERROR", "failed to list records", true, map[string]any{"details": err.Error()})
			return
		}
		records = append(records, rec)
	}

	encoded, err := report.EncodeRecordsToParquet(records)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to encode records", false, map[string]any{"details": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="llmsql-records.parquet"`)
	w.Header().Set("X-Record-Count", strconv.FormatInt(encoded.RecordCount, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded.Data)
}

func recordsReady(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Records == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RECORDS_NOT_CONFIGURED", "record store is not configured", false, nil)
		return false
	}
	if err := auth.Require(r.Context(), auth.RoleRecordReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func parseRecordFilter(r *http.Request, defaultLimit, maxLimit int) (record.Filter, error) {
	values := r.URL.Query()
	filter := record.Filter{
		Model:    nl2sql.ParseModelID(values.Get("model")),
		Database: query.ParseDatabaseID(values.Get("database")),
		Limit:    defaultLimit,
	}
	if raw := strings.TrimSpace(values.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return record.Filter{}, fmt.Errorf("since must be RFC3339: %w", err)
		}
		filter.Since = since.UTC()
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return record.Filter{}, fmt.Errorf("limit must be a positive integer")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		filter.Limit = limit
	}
	return filter, nil
}
