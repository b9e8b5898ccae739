package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Models        ModelsConfig
	Databases     DatabasesConfig
	Execution     ExecutionConfig
	Sanitizer     SanitizerConfig
	Schema        SchemaConfig
	Records       RecordsConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type ModelsConfig struct {
	Enabled           []string
	OllamaBaseURL     string
	GPTModel          string
	TinyLlamaModel    string
	Temperature       float64
	ConnectTimeout    time.Duration
	GenerationTimeout time.Duration
	GenerationRetries int
	RetryBackoff      time.Duration
	OpenAI            OpenAIConfig
}

type OpenAIConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
}

type DatabasesConfig struct {
	Enabled          []string
	SQLitePath       string
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	DuckDBPath       string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleTime  time.Duration
	ConnMaxLifetime  time.Duration
}

type ExecutionConfig struct {
	RowLimit       int
	Timeout        time.Duration
	AcquireTimeout time.Duration
}

type SanitizerConfig struct {
	MaxJoins          int
	MaxSubqueryDepth  int
	MaxStatementBytes int
}

type SchemaConfig struct {
	CSVPath string
}

type RecordsConfig struct {
	Backend string
	Path    string
	DSN     string
	Prefix  string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("LLMSQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid LLMSQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "LLMSQL_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}

	if err := applyList(lookup, "LLMSQL_MODELS", &cfg.Models.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OLLAMA_BASE_URL", &cfg.Models.OllamaBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_GPT_MODEL", &cfg.Models.GPTModel); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_TINYLLAMA_MODEL", &cfg.Models.TinyLlamaModel); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "LLMSQL_MODEL_TEMPERATURE", &cfg.Models.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_MODEL_CONNECT_TIMEOUT", &cfg.Models.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_MODEL_TIMEOUT", &cfg.Models.GenerationTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LLMSQL_GENERATION_RETRIES", &cfg.Models.GenerationRetries); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_GENERATION_RETRY_BACKOFF", &cfg.Models.RetryBackoff); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "LLMSQL_OPENAI_ENABLED", &cfg.Models.OpenAI.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OPENAI_BASE_URL", &cfg.Models.OpenAI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OPENAI_API_KEY", &cfg.Models.OpenAI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OPENAI_MODEL", &cfg.Models.OpenAI.Model); err != nil {
		return Config{}, err
	}

	if err := applyList(lookup, "LLMSQL_DATABASES", &cfg.Databases.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_SQLITE_PATH", &cfg.Databases.SQLitePath); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_POSTGRES_DSN", &cfg.Databases.PostgresDSN); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_POSTGRES_HOST", &cfg.Databases.PostgresHost); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LLMSQL_POSTGRES_PORT", &cfg.Databases.PostgresPort); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_POSTGRES_USER", &cfg.Databases.PostgresUser); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_POSTGRES_PASSWORD", &cfg.Databases.PostgresPassword); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_POSTGRES_DB", &cfg.Databases.PostgresDB); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_DUCKDB_PATH", &cfg.Databases.DuckDBPath); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LLMSQL_DB_MAX_OPEN_CONNS", &cfg.Databases.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LLMSQL_DB_MAX_IDLE_CONNS", &cfg.Databases.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_DB_CONN_MAX_IDLE_TIME", &cfg.Databases.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_DB_CONN_MAX_LIFETIME", &cfg.Databases.ConnMaxLifetime); err != nil {
		return Config{}, err
	}

	if err := applyInt(lookup, "LLMSQL_EXEC_ROW_LIMIT", &cfg.Execution.RowLimit); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_EXEC_TIMEOUT", &cfg.Execution.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "LLMSQL_EXEC_ACQUIRE_TIMEOUT", &cfg.Execution.AcquireTimeout); err != nil {
		return Config{}, err
	}

	if err := applyInt(lookup, "LLMSQL_SANITIZER_MAX_JOINS", &cfg.Sanitizer.MaxJoins); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LLMSQL_SANITIZER_MAX_SUBQUERY_DEPTH", &cfg.Sanitizer.MaxSubqueryDepth); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "LLMSQL_SANITIZER_MAX_STATEMENT_BYTES", &cfg.Sanitizer.MaxStatementBytes); err != nil {
		return Config{}, err
	}

	if err := applyString(lookup, "LLMSQL_SCHEMA_CSV_PATH", &cfg.Schema.CSVPath); err != nil {
		return Config{}, err
	}

	if err := applyString(lookup, "LLMSQL_RECORDS_BACKEND", &cfg.Records.Backend); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_RECORDS_PATH", &cfg.Records.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_RECORDS_DSN", &cfg.Records.DSN); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_RECORDS_PREFIX", &cfg.Records.Prefix); err != nil {
		return Config{}, err
	}

	if err := applyString(lookup, "LLMSQL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "LLMSQL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "LLMSQL_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}

	if err := applyBool(lookup, "LLMSQL_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "LLMSQL_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "LLMSQL_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "LLMSQL_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PostgresConnString returns the explicit DSN when set, otherwise one built
// from the host/port/user/password/db parts.
func (c DatabasesConfig) PostgresConnString() string {
	if c.PostgresDSN != "" {
		return c.PostgresDSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c DatabasesConfig) IsEnabled(id string) bool {
	for _, enabled := range c.Enabled {
		if enabled == id {
			return true
		}
	}
	return false
}

func validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if len(cfg.Models.Enabled) == 0 && !cfg.Models.OpenAI.Enabled {
		return fmt.Errorf("at least one model must be enabled")
	}
	if len(cfg.Databases.Enabled) == 0 {
		return fmt.Errorf("at least one database must be enabled")
	}
	if cfg.Execution.RowLimit <= 0 {
		return fmt.Errorf("execution row limit must be > 0")
	}
	if cfg.Execution.Timeout <= 0 {
		return fmt.Errorf("execution timeout must be > 0")
	}
	if cfg.Models.GenerationTimeout <= 0 {
		return fmt.Errorf("model timeout must be > 0")
	}
	if cfg.Models.GenerationRetries < 0 {
		return fmt.Errorf("generation retries must be >= 0")
	}
	switch cfg.Records.Backend {
	case "jsonl", "postgres", "s3":
	default:
		return fmt.Errorf("invalid LLMSQL_RECORDS_BACKEND: %q", cfg.Records.Backend)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "llmsql-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Models: ModelsConfig{
			Enabled:           []string{"gpt", "tinyllama"},
			OllamaBaseURL:     "http://localhost:11434",
			GPTModel:          "gpt-oss",
			TinyLlamaModel:    "tinyllama",
			Temperature:       0.1,
			ConnectTimeout:    2 * time.Second,
			GenerationTimeout: 60 * time.Second,
			GenerationRetries: 1,
			RetryBackoff:      250 * time.Millisecond,
			OpenAI: OpenAIConfig{
				Enabled: false,
				BaseURL: "http://localhost:8000",
				Model:   "gpt-4o-mini",
			},
		},
		Databases: DatabasesConfig{
			Enabled:          []string{"sqlite", "postgres"},
			SQLitePath:       "./data/sqlite.db",
			PostgresHost:     "localhost",
			PostgresPort:     5432,
			PostgresUser:     "postgres",
			PostgresPassword: "postgres",
			PostgresDB:       "llmsql2_db",
			DuckDBPath:       "./data/duckdb.db",
			MaxOpenConns:     8,
			MaxIdleConns:     8,
			ConnMaxIdleTime:  5 * time.Minute,
			ConnMaxLifetime:  30 * time.Minute,
		},
		Execution: ExecutionConfig{
			RowLimit:       1000,
			Timeout:        10 * time.Second,
			AcquireTimeout: 2 * time.Second,
		},
		Sanitizer: SanitizerConfig{
			MaxJoins:          6,
			MaxSubqueryDepth:  3,
			MaxStatementBytes: 16 * 1024,
		},
		Records: RecordsConfig{
			Backend: "jsonl",
			Path:    "./data/records.jsonl",
			DSN:     "",
			Prefix:  "records",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "llmsql",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Models.GenerationRetries = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	items := make([]string, 0)
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			return fmt.Errorf("invalid %s: duplicate entry %q", key, part)
		}
		seen[part] = struct{}{}
		items = append(items, part)
	}
	*dst = items
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
