// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.querysmith/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: generation model and embedder (model, dimension)
//   - Retrieval: similarity thresholds and top-k for cache and knowledge
//   - Synthesis: agent iteration/time budgets and row caps
//   - Storage: PostgreSQL connection for the vector store (see storage.go)
//
// The loaded Config is immutable: it is constructed once at process start and
// passed by reference into every component constructor. Core logic never reads
// ambient process state.
//
// Security: sensitive values (password) are masked in MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
// Check with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidThreshold indicates a similarity threshold is out of [0,1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidMaxIterations indicates the agent iteration bound is invalid.
	ErrInvalidMaxIterations = errors.New("invalid max iterations")

	// ErrInvalidTimeout indicates a timeout value is non-positive.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidMaxRows indicates the row cap is out of range.
	ErrInvalidMaxRows = errors.New("invalid max return rows")

	// ErrInvalidEvaluator indicates an unknown evaluator strategy.
	ErrInvalidEvaluator = errors.New("invalid evaluator strategy")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation to 768 via OutputDimensionality; our pgvector schema uses
	// vector(768) columns, see db/migrations.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbeddingDimension matches the vector(768) schema columns.
	DefaultEmbeddingDimension = 768

	// DefaultCacheSimilarityThreshold is the minimum cosine similarity for a
	// semantic-cache hit. Tunable, validated empirically.
	DefaultCacheSimilarityThreshold = 0.90

	// DefaultRetrievalSimilarityThreshold is the minimum similarity for
	// learned instructions and published assets to be retrieved.
	DefaultRetrievalSimilarityThreshold = 0.75

	// DefaultRetrievalTopK caps retrieved knowledge records per request to
	// bound the prompt fed to the agent.
	DefaultRetrievalTopK = 4

	// DefaultMaxIterations bounds agent tool invocations per request.
	DefaultMaxIterations = 20

	// DefaultEngineTimeout bounds total wall-clock time per synthesis request.
	DefaultEngineTimeout = 150 * time.Second

	// DefaultSQLExecutionTimeout bounds a single SQL execution attempt.
	DefaultSQLExecutionTimeout = 60 * time.Second

	// DefaultMaxReturnRows caps rows returned to the caller regardless of the
	// generated query's own LIMIT.
	DefaultMaxReturnRows = 50

	// MaxAllowedReturnRows is the absolute row-cap ceiling to prevent OOM.
	MaxAllowedReturnRows = 10000
)

// Evaluator strategy identifiers used in Config.EvaluatorStrategy.
const (
	EvaluatorRules = "rules"
	EvaluatorModel = "model"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI model configuration
	ModelName          string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel      string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension" json:"embedding_dimension"`

	// Retrieval configuration
	CacheSimilarityThreshold     float64 `mapstructure:"cache_similarity_threshold" json:"cache_similarity_threshold"`
	RetrievalSimilarityThreshold float64 `mapstructure:"retrieval_similarity_threshold" json:"retrieval_similarity_threshold"`
	RetrievalTopK                int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Synthesis budgets
	MaxIterations       int           `mapstructure:"max_iterations" json:"max_iterations"`
	EngineTimeout       time.Duration `mapstructure:"engine_timeout" json:"engine_timeout"`
	SQLExecutionTimeout time.Duration `mapstructure:"sql_execution_timeout" json:"sql_execution_timeout"`
	MaxReturnRows       int           `mapstructure:"max_return_rows" json:"max_return_rows"`

	// Evaluator strategy: "rules" (default) or "model"
	EvaluatorStrategy string `mapstructure:"evaluator_strategy" json:"evaluator_strategy"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load reads configuration from file, environment, and defaults, then
// validates it. Fail-fast: an invalid configuration never leaves Load.
func Load() (*Config, error) {
	setDefaults()
	bindEnvVariables()

	configDir := defaultConfigDir()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// defaultConfigDir returns ~/.querysmith, falling back to the current
// directory when the home directory cannot be resolved.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".querysmith")
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding_dimension", DefaultEmbeddingDimension)

	viper.SetDefault("cache_similarity_threshold", DefaultCacheSimilarityThreshold)
	viper.SetDefault("retrieval_similarity_threshold", DefaultRetrievalSimilarityThreshold)
	viper.SetDefault("retrieval_top_k", DefaultRetrievalTopK)

	viper.SetDefault("max_iterations", DefaultMaxIterations)
	viper.SetDefault("engine_timeout", DefaultEngineTimeout)
	viper.SetDefault("sql_execution_timeout", DefaultSQLExecutionTimeout)
	viper.SetDefault("max_return_rows", DefaultMaxReturnRows)

	viper.SetDefault("evaluator_strategy", EvaluatorRules)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "querysmith")
	viper.SetDefault("postgres_password", "querysmith_dev_password")
	viper.SetDefault("postgres_db_name", "querysmith")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "QUERYSMITH_MODEL_NAME")
	mustBind("embedder_model", "QUERYSMITH_EMBEDDER_MODEL")
	mustBind("max_iterations", "QUERYSMITH_MAX_ITERATIONS")
	mustBind("engine_timeout", "QUERYSMITH_ENGINE_TIMEOUT")
	mustBind("sql_execution_timeout", "QUERYSMITH_SQL_EXECUTION_TIMEOUT")
	mustBind("max_return_rows", "QUERYSMITH_MAX_RETURN_ROWS")
	mustBind("evaluator_strategy", "QUERYSMITH_EVALUATOR_STRATEGY")
	mustBind("postgres_password", "QUERYSMITH_POSTGRES_PASSWORD")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// Validate() checks its presence.
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked to prevent substring matching; longer ones
// keep the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, mask them here.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal(masked)
}
