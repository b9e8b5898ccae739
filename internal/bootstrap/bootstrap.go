// Package bootstrap turns a loaded config.Config into the wired runtime shared
// by the API server and the benchmark binary.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/llmsql/llmsql/internal/comparison"
	"github.com/llmsql/llmsql/internal/config"
	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
	duckdbengine "github.com/llmsql/llmsql/internal/query/duckdb"
	postgresengine "github.com/llmsql/llmsql/internal/query/postgres"
	"github.com/llmsql/llmsql/internal/query/sqlexec"
	sqliteengine "github.com/llmsql/llmsql/internal/query/sqlite"
	"github.com/llmsql/llmsql/internal/record"
	jsonlrecord "github.com/llmsql/llmsql/internal/record/jsonl"
	postgresrecord "github.com/llmsql/llmsql/internal/record/postgres"
	s3record "github.com/llmsql/llmsql/internal/record/s3"
	"github.com/llmsql/llmsql/internal/sanitize"
	"github.com/llmsql/llmsql/internal/schema"
	s3store "github.com/llmsql/llmsql/internal/storage/s3"
)

type CheckFunc func(ctx context.Context) error

type Stack struct {
	Models    *nl2sql.Registry
	Databases *query.Registry
	Schemas   *schema.Provider
	Store     record.Store
	Runner    *comparison.Runner
	// StoreCheck reports whether the record store is reachable. It is nil for
	// stores without a remote dependency.
	StoreCheck CheckFunc
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stack, error) {
	schemas, err := BuildSchemaProvider(cfg)
	if err != nil {
		return nil, err
	}
	models, err := BuildModels(cfg)
	if err != nil {
		return nil, err
	}
	databases, err := BuildDatabases(cfg)
	if err != nil {
		return nil, err
	}
	store, storeCheck, err := OpenRecordStore(ctx, cfg, logger)
	if err != nil {
		_ = databases.Close()
		return nil, err
	}

	runner, err := comparison.NewRunner(models, databases, schemas, store, logger, RunnerOptions(cfg))
	if err != nil {
		_ = databases.Close()
		_ = store.Close()
		return nil, err
	}

	return &Stack{
		Models:     models,
		Databases:  databases,
		Schemas:    schemas,
		Store:      store,
		Runner:     runner,
		StoreCheck: storeCheck,
	}, nil
}

func (s *Stack) Close() error {
	var result *multierror.Error
	if s.Databases != nil {
		if err := s.Databases.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close record store: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func RunnerOptions(cfg config.Config) comparison.Options {
	return comparison.Options{
		GenerationTimeout: cfg.Models.GenerationTimeout,
		GenerationRetries: cfg.Models.GenerationRetries,
		RetryBackoff:      cfg.Models.RetryBackoff,
		RowLimit:          cfg.Execution.RowLimit,
		ExecutionTimeout:  cfg.Execution.Timeout,
		Sanitizer: sanitize.Policy{
			MaxJoins:          cfg.Sanitizer.MaxJoins,
			MaxSubqueryDepth:  cfg.Sanitizer.MaxSubqueryDepth,
			MaxStatementBytes: cfg.Sanitizer.MaxStatementBytes,
		},
		// Each engine pools at most MaxOpenConns connections.
		MaxConcurrentExecutions: cfg.Databases.MaxOpenConns,
	}
}

// BuildSchemaProvider loads the configured schema CSV, if any. Without one the
// runner falls back to introspecting the first requested database.
func BuildSchemaProvider(cfg config.Config) (*schema.Provider, error) {
	if cfg.Schema.CSVPath == "" {
		return schema.NewProvider(schema.Context{}), nil
	}
	static, err := schema.LoadCSVFile(cfg.Schema.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("load schema csv: %w", err)
	}
	return schema.NewProvider(static), nil
}

func BuildModels(cfg config.Config) (*nl2sql.Registry, error) {
	ollama := nl2sql.OllamaConfig{
		BaseURL:        cfg.Models.OllamaBaseURL,
		Temperature:    cfg.Models.Temperature,
		ConnectTimeout: cfg.Models.ConnectTimeout,
		Timeout:        cfg.Models.GenerationTimeout,
	}

	registry, err := nl2sql.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, raw := range cfg.Models.Enabled {
		var backend nl2sql.Backend
		switch id := nl2sql.ParseModelID(raw); id {
		case nl2sql.ModelGPT:
			modelCfg := ollama
			modelCfg.Model = cfg.Models.GPTModel
			backend, err = nl2sql.NewGPTBackend(modelCfg)
		case nl2sql.ModelTinyLlama:
			modelCfg := ollama
			modelCfg.Model = cfg.Models.TinyLlamaModel
			backend, err = nl2sql.NewTinyLlamaBackend(modelCfg)
		case nl2sql.ModelOpenAI:
			// Enabled through LLMSQL_OPENAI_ENABLED below.
			continue
		default:
			return nil, fmt.Errorf("%w: %q", nl2sql.ErrUnknownModel, raw)
		}
		if err != nil {
			return nil, fmt.Errorf("init model %s: %w", raw, err)
		}
		if err := registry.Register(backend); err != nil {
			return nil, err
		}
	}

	if cfg.Models.OpenAI.Enabled {
		backend, err := nl2sql.NewOpenAIBackend(nl2sql.OpenAIConfig{
			BaseURL:        cfg.Models.OpenAI.BaseURL,
			APIKey:         cfg.Models.OpenAI.APIKey,
			Model:          cfg.Models.OpenAI.Model,
			Temperature:    cfg.Models.Temperature,
			ConnectTimeout: cfg.Models.ConnectTimeout,
			Timeout:        cfg.Models.GenerationTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init model openai: %w", err)
		}
		if err := registry.Register(backend); err != nil {
			return nil, err
		}
	}

	if registry.Len() == 0 {
		return nil, fmt.Errorf("no model backends enabled")
	}
	return registry, nil
}

func BuildDatabases(cfg config.Config) (*query.Registry, error) {
	pool := sqlexec.PoolConfig{
		MaxOpenConns:    cfg.Databases.MaxOpenConns,
		MaxIdleConns:    cfg.Databases.MaxIdleConns,
		ConnMaxIdleTime: cfg.Databases.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Databases.ConnMaxLifetime,
	}
	exec := cfg.Execution

	registry, err := query.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, raw := range cfg.Databases.Enabled {
		var engine query.Engine
		switch id := query.ParseDatabaseID(raw); id {
		case query.DatabaseSQLite:
			engine, err = sqliteengine.Open(sqliteengine.Config{
				Path: cfg.Databases.SQLitePath, Pool: pool,
				RowLimit: exec.RowLimit, Timeout: exec.Timeout, AcquireTimeout: exec.AcquireTimeout,
			})
		case query.DatabasePostgres:
			engine, err = postgresengine.Open(postgresengine.Config{
				DSN: cfg.Databases.PostgresConnString(), Pool: pool,
				RowLimit: exec.RowLimit, Timeout: exec.Timeout, AcquireTimeout: exec.AcquireTimeout,
			})
		case query.DatabaseDuckDB:
			engine, err = duckdbengine.Open(duckdbengine.Config{
				Path: cfg.Databases.DuckDBPath, Pool: pool,
				RowLimit: exec.RowLimit, Timeout: exec.Timeout, AcquireTimeout: exec.AcquireTimeout,
			})
		default:
			_ = registry.Close()
			return nil, fmt.Errorf("%w: %q", query.ErrUnknownDatabase, raw)
		}
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("open database %s: %w", raw, err)
		}
		if err := registry.Register(engine); err != nil {
			_ = engine.Close()
			_ = registry.Close()
			return nil, err
		}
	}
	return registry, nil
}

// OpenRecordStore opens the store selected by LLMSQL_RECORDS_BACKEND.
func OpenRecordStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (record.Store, CheckFunc, error) {
	switch cfg.Records.Backend {
	case "jsonl":
		store, err := jsonlrecord.Open(cfg.Records.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "postgres":
		dsn := cfg.Records.DSN
		if dsn == "" {
			dsn = cfg.Databases.PostgresConnString()
		}
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := postgresrecord.OpenDB(openCtx, postgresrecord.DBConfig{
			DSN:             dsn,
			MaxOpenConns:    cfg.Databases.MaxOpenConns,
			MaxIdleConns:    cfg.Databases.MaxIdleConns,
			ConnMaxIdleTime: cfg.Databases.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Databases.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open record database: %w", err)
		}
		store := postgresrecord.NewStore(db)
		return store, store.HealthCheck, nil
	case "s3":
		objects, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open object store: %w", err)
		}
		return s3record.NewStore(objects, cfg.Records.Prefix), objects.HealthCheck, nil
	default:
		return nil, nil, fmt.Errorf("unsupported record backend %q", cfg.Records.Backend)
	}
}
