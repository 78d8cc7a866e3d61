package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/querysmith/querysmith/internal/log"
)

// Generator abstracts LLM text generation so the loop can be exercised with
// scripted models in tests.
type Generator interface {
	Generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

// RetryConfig configures the retry behavior for LLM calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category, matched
// case-insensitively against err.Error().
//
// NOTE: string matching because Genkit and LLM provider SDKs do not expose
// typed errors for transient failures. Re-evaluate if Genkit adds
// structured error types in a future version.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, sub := range group {
			if strings.Contains(errStr, sub) {
				return true
			}
		}
	}
	return false
}

// GenkitGenerator is the production Generator: genkit model calls behind a
// proactive rate limiter and exponential-backoff retry.
type GenkitGenerator struct {
	genkit      *genkit.Genkit
	modelName   string
	retryConfig RetryConfig
	rateLimiter *rate.Limiter
	logger      log.Logger
}

// NewGenkitGenerator creates a generator for a provider-qualified model
// name (e.g. "googleai/gemini-2.5-flash"). A nil limiter disables proactive
// rate limiting; a zero retry config uses defaults.
func NewGenkitGenerator(g *genkit.Genkit, modelName string, retryConfig RetryConfig, limiter *rate.Limiter, logger log.Logger) *GenkitGenerator {
	if retryConfig == (RetryConfig{}) {
		retryConfig = DefaultRetryConfig()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &GenkitGenerator{
		genkit:      g,
		modelName:   modelName,
		retryConfig: retryConfig,
		rateLimiter: limiter,
		logger:      logger,
	}
}

// Generate executes one model call with backoff retry. Each attempt is rate
// limited individually so retries never burst past the provider quota.
func (g *GenkitGenerator) Generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := g.retryConfig.InitialInterval
	start := time.Now()

	callOpts := append([]ai.GenerateOption{ai.WithModelName(g.modelName)}, opts...)

	for attempt := 0; attempt <= g.retryConfig.MaxRetries; attempt++ {
		if g.rateLimiter != nil {
			if err := g.rateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, g.genkit, callOpts...)
		if err == nil {
			g.logger.Debug("model call succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return resp, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == g.retryConfig.MaxRetries {
			break
		}

		g.logger.Debug("retrying model call",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retryConfig.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		g.retryConfig.MaxRetries, time.Since(start), lastErr)
}
