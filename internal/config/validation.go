package config

import (
	"fmt"
	"os"
)

// validSSLModes are the PostgreSQL sslmode values accepted by pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks all configuration values and returns the first violation.
// Errors wrap the package sentinels so callers can errors.Is() them.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbeddingDimension <= 0 || c.EmbeddingDimension > 4096 {
		return fmt.Errorf("%w: got %d, want 1-4096", ErrInvalidEmbeddingDim, c.EmbeddingDimension)
	}

	if c.CacheSimilarityThreshold < 0 || c.CacheSimilarityThreshold > 1 {
		return fmt.Errorf("%w: cache_similarity_threshold %v", ErrInvalidThreshold, c.CacheSimilarityThreshold)
	}
	if c.RetrievalSimilarityThreshold < 0 || c.RetrievalSimilarityThreshold > 1 {
		return fmt.Errorf("%w: retrieval_similarity_threshold %v", ErrInvalidThreshold, c.RetrievalSimilarityThreshold)
	}
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 50 {
		return fmt.Errorf("%w: got %d, want 1-50", ErrInvalidTopK, c.RetrievalTopK)
	}

	if c.MaxIterations < 1 || c.MaxIterations > 100 {
		return fmt.Errorf("%w: got %d, want 1-100", ErrInvalidMaxIterations, c.MaxIterations)
	}
	if c.EngineTimeout <= 0 {
		return fmt.Errorf("%w: engine_timeout %v", ErrInvalidTimeout, c.EngineTimeout)
	}
	if c.SQLExecutionTimeout <= 0 {
		return fmt.Errorf("%w: sql_execution_timeout %v", ErrInvalidTimeout, c.SQLExecutionTimeout)
	}
	if c.SQLExecutionTimeout > c.EngineTimeout {
		return fmt.Errorf("%w: sql_execution_timeout %v exceeds engine_timeout %v",
			ErrInvalidTimeout, c.SQLExecutionTimeout, c.EngineTimeout)
	}
	if c.MaxReturnRows < 1 || c.MaxReturnRows > MaxAllowedReturnRows {
		return fmt.Errorf("%w: got %d, want 1-%d", ErrInvalidMaxRows, c.MaxReturnRows, MaxAllowedReturnRows)
	}

	if c.EvaluatorStrategy != EvaluatorRules && c.EvaluatorStrategy != EvaluatorModel {
		return fmt.Errorf("%w: %q, must be %q or %q",
			ErrInvalidEvaluator, c.EvaluatorStrategy, EvaluatorRules, EvaluatorModel)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}

// ValidateAPIKey checks that the Gemini API key is present in the
// environment. Kept separate from Validate so offline commands (migrate,
// version) can load configuration without credentials.
func ValidateAPIKey() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
	}
	return nil
}
