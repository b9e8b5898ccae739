package benchmark

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/llmsql/llmsql/internal/nl2sql"
	"github.com/llmsql/llmsql/internal/query"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	DatasetPath string
	OutputPath  string
	Limit       int
	Models      []nl2sql.ModelID
	Databases   []query.DatabaseID
	// Pause is waited between cases so a local model daemon is not flooded.
	Pause time.Duration
}

func DefaultConfig() Config {
	return Config{
		OutputPath: fmt.Sprintf("benchmark_results_%d.json", time.Now().UTC().Unix()),
		Models:     []nl2sql.ModelID{nl2sql.ModelGPT, nl2sql.ModelTinyLlama},
		Databases:  []query.DatabaseID{query.DatabasePostgres, query.DatabaseSQLite},
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "LLMSQL_BENCH_DATASET", &cfg.DatasetPath); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_BENCH_OUTPUT", &cfg.OutputPath); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LLMSQL_BENCH_LIMIT", &cfg.Limit); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_BENCH_PAUSE", &cfg.Pause); err != nil {
		return Config{}, err
	}
	if raw, ok := lookup("LLMSQL_BENCH_MODELS"); ok {
		cfg.Models = ParseModels(raw)
	}
	if raw, ok := lookup("LLMSQL_BENCH_DATABASES"); ok {
		cfg.Databases = ParseDatabases(raw)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatasetPath) == "" {
		return fmt.Errorf("LLMSQL_BENCH_DATASET is required")
	}
	if c.Limit < 0 {
		return fmt.Errorf("LLMSQL_BENCH_LIMIT must be >= 0")
	}
	if c.Pause < 0 {
		return fmt.Errorf("LLMSQL_BENCH_PAUSE must be >= 0")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one database is required")
	}
	return nil
}

// ParseModels splits a comma-separated list, dropping blanks.
func ParseModels(raw string) []nl2sql.ModelID {
	var out []nl2sql.ModelID
	for _, part := range strings.Split(raw, ",") {
		if id := nl2sql.ParseModelID(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ParseDatabases splits a comma-separated list, accepting "postgresql".
func ParseDatabases(raw string) []query.DatabaseID {
	var out []query.DatabaseID
	for _, part := range strings.Split(raw, ",") {
		if id := query.ParseDatabaseID(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
