package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmsql/llmsql/internal/auth"
	"github.com/llmsql/llmsql/internal/comparison"
	"github.com/llmsql/llmsql/internal/config"
	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/observability"
	"github.com/llmsql/llmsql/internal/query"
	"github.com/llmsql/llmsql/internal/record"
)

type ReadinessCheck func(ctx context.Context) error

// Comparer runs one trial. *comparison.Runner satisfies it.
type Comparer interface {
	Run(ctx context.Context, req comparison.Request) (record.Record, error)
}

type ModelLookup interface {
	Get(id nl2sql.ModelID) (nl2sql.Backend, error)
	IDs() []nl2sql.ModelID
}

type DatabaseLookup interface {
	Get(id query.DatabaseID) (query.Engine, error)
	IDs() []query.DatabaseID
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Runner            Comparer
	Models            ModelLookup
	Databases         DatabaseLookup
	Records           record.Store
	// ExportLimit caps the records a single parquet export reads.
	ExportLimit int
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "LLMSQL text-to-SQL comparison API",
			"service":   cfg.Service.Name,
			"models":    modelIDs(deps.Models),
			"databases": databaseIDs(deps.Databases),
		})
	})

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.HandleFunc("GET /v1/health/databases/{database}", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		handleDatabaseHealth(deps, w, r)
	})
	mux.HandleFunc("GET /v1/health/models/{model}", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		handleModelHealth(deps, w, r)
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/text-to-sql", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		handleTextToSQL(deps, w, r)
	})
	protected.HandleFunc("GET /v1/records", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		handleListRecords(deps, w, r)
	})
	protected.HandleFunc("GET /v1/records/export", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		handleExportRecords(deps, w, r)
	})
	protected.HandleFunc("GET /v1/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		handleGetRecord(deps, w, r)
	})
	protected.HandleFunc("GET /v1/schema/{database}", func(w http.ResponseWriter, r *http.Request) {
		observability.RecordRoute(r)
		handleDescribeSchema(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/text-to-sql", protectedHandler)
	mux.Handle("GET /v1/records", protectedHandler)
	mux.Handle("GET /v1/records/export", protectedHandler)
	mux.Handle("GET /v1/records/{id}", protectedHandler)
	mux.Handle("GET /v1/schema/{database}", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func handleDatabaseHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Databases == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATABASES_NOT_CONFIGURED", "no databases are configured", false, nil)
		return
	}
	id := query.ParseDatabaseID(r.PathValue("database"))
	engine, err := deps.Databases.Get(id)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_DATABASE", err.Error(), false, nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
	defer cancel()
	if err := engine.HealthCheck(ctx); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", err.Error(), true, map[string]any{"database": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": id})
}

func handleModelHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Models == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MODELS_NOT_CONFIGURED", "no models are configured", false, nil)
		return
	}
	id := nl2sql.ParseModelID(r.PathValue("model"))
	backend, err := deps.Models.Get(id)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_MODEL", err.Error(), false, nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
	defer cancel()
	if err := backend.HealthCheck(ctx); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "MODEL_UNAVAILABLE", err.Error(), true, map[string]any{"model": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "model": id})
}

func handleDescribeSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := auth.Require(r.Context(), auth.RoleRecordReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.Databases == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATABASES_NOT_CONFIGURED", "no databases are configured", false, nil)
		return
	}
	id := query.ParseDatabaseID(r.PathValue("database"))
	engine, err := deps.Databases.Get(id)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_DATABASE", err.Error(), false, nil)
		return
	}
	described, err := engine.Describe(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, query.ErrConnectionUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(r.Context(), w, status, "DESCRIBE_FAILED", "failed to describe database schema", true, map[string]any{"database": id, "details": err.Error()})
		return
	}
	payload := map[string]any{"database": id, "dialect": engine.Dialect(), "schema": described}
	if counter, ok := engine.(query.RowCounter); ok {
		tables := make([]string, 0, len(described.Tables))
		for _, table := range described.Tables {
			tables = append(tables, table.Name)
		}
		counts, err := counter.CountRows(r.Context(), tables)
		if err != nil {
			payload["row_counts_error"] = err.Error()
		} else {
			payload["row_counts"] = counts
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func CheckDatabases(databases DatabaseLookup) ReadinessCheck {
	return func(ctx context.Context) error {
		for _, id := range databases.IDs() {
			engine, err := databases.Get(id)
			if err != nil {
				return err
			}
			if err := engine.HealthCheck(ctx); err != nil {
				return fmt.Errorf("database %s: %w", id, err)
			}
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func dependencyTimeout(deps Dependencies) time.Duration {
	if deps.DependencyTimeout <= 0 {
		return 2 * time.Second
	}
	return deps.DependencyTimeout
}

func modelIDs(models ModelLookup) []nl2sql.ModelID {
	if models == nil {
		return []nl2sql.ModelID{}
	}
	return models.IDs()
}

func databaseIDs(databases DatabaseLookup) []query.DatabaseID {
	if databases == nil {
		return []query.DatabaseID{}
	}
	return databases.IDs()
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
