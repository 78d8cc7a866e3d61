// Package synthesis orchestrates the full prompt-to-SQL pipeline: semantic
// cache lookup, knowledge retrieval, agent synthesis, advisory evaluation
// and cache population.
//
// The pipeline degrades rather than fails: a broken cache or retriever is
// logged and skipped, and an evaluator failure only costs the advisory
// score. Only agent failure (or an unresolvable connection) fails a request.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/querysmith/querysmith/internal/agent"
	"github.com/querysmith/querysmith/internal/cache"
	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/evaluator"
	"github.com/querysmith/querysmith/internal/knowledge"
	"github.com/querysmith/querysmith/internal/log"
)

// Result is the outcome of one synthesis request.
type Result struct {
	SQL        string
	Columns    []string
	Rows       [][]any
	RowCount   int
	Truncated  bool
	CacheHit   bool
	Iterations int
	Score      *evaluator.Score
	Elapsed    time.Duration
}

// Config contains the required dependencies for the synthesis service.
type Config struct {
	Cache     *cache.Cache
	Retriever *knowledge.Retriever
	Resolver  connection.Resolver
	Agent     *agent.Agent
	Evaluator evaluator.Evaluator

	// MaxReturnRows caps rows returned when re-executing cached SQL.
	MaxReturnRows int

	Logger log.Logger
}

func (cfg Config) validate() error {
	if cfg.Cache == nil {
		return errors.New("cache is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Resolver == nil {
		return errors.New("connection resolver is required")
	}
	if cfg.Agent == nil {
		return errors.New("agent is required")
	}
	if cfg.Evaluator == nil {
		return errors.New("evaluator is required")
	}
	if cfg.MaxReturnRows <= 0 {
		return errors.New("max return rows must be positive")
	}
	return nil
}

// Service runs the synthesis pipeline.
type Service struct {
	cache         *cache.Cache
	retriever     *knowledge.Retriever
	resolver      connection.Resolver
	agent         *agent.Agent
	evaluator     evaluator.Evaluator
	maxReturnRows int
	logger        log.Logger
}

// New creates a synthesis service from cfg.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid synthesis config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		cache:         cfg.Cache,
		retriever:     cfg.Retriever,
		resolver:      cfg.Resolver,
		agent:         cfg.Agent,
		evaluator:     cfg.Evaluator,
		maxReturnRows: cfg.MaxReturnRows,
		logger:        logger,
	}, nil
}

// Synthesize answers promptText against the named connection.
func (s *Service) Synthesize(ctx context.Context, connectionID, promptText string) (*Result, error) {
	start := time.Now()

	conn, err := s.resolver.Resolve(connectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}

	if result := s.tryCache(ctx, conn, promptText); result != nil {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	bundle := s.retrieve(ctx, connectionID, promptText)

	sqlResult, err := s.agent.Generate(ctx, promptText, conn, bundle)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if !sqlResult.Success {
		// Surface the last attempted SQL so a failed run is still debuggable.
		if sqlResult.SQL != "" {
			return nil, fmt.Errorf("%w: %s (last attempted sql: %s)",
				agent.ErrSynthesis, sqlResult.Error, sqlResult.SQL)
		}
		return nil, fmt.Errorf("%w: %s", agent.ErrSynthesis, sqlResult.Error)
	}

	result := &Result{
		SQL:        sqlResult.SQL,
		Columns:    sqlResult.Columns,
		Rows:       sqlResult.Rows,
		RowCount:   len(sqlResult.Rows),
		Truncated:  sqlResult.Truncated,
		Iterations: sqlResult.IterationsUsed,
	}

	result.Score = s.evaluate(ctx, promptText, result.SQL, result.RowCount)
	s.populateCache(ctx, connectionID, promptText, result.SQL)

	result.Elapsed = time.Since(start)
	s.logger.Info("synthesis complete",
		"connection_id", connectionID,
		"iterations", result.Iterations,
		"rows", result.RowCount,
		"elapsed", result.Elapsed)
	return result, nil
}

// tryCache looks for a near-identical prior prompt and re-executes its SQL.
// Any cache failure, including a stale query that no longer runs, falls
// through to full synthesis.
func (s *Service) tryCache(ctx context.Context, conn connection.Conn, promptText string) *Result {
	entry, err := s.cache.Lookup(ctx, conn.ID(), promptText)
	if err != nil {
		s.logger.Warn("cache lookup failed, bypassing cache", "error", err)
		return nil
	}
	if entry == nil {
		return nil
	}

	execResult, err := conn.Execute(ctx, entry.SQLText, s.maxReturnRows)
	if err != nil {
		s.logger.Warn("cached sql no longer executes, regenerating",
			"similarity", entry.Similarity,
			"error", err)
		return nil
	}

	s.logger.Info("cache hit",
		"connection_id", conn.ID(),
		"similarity", entry.Similarity)
	return &Result{
		SQL:       entry.SQLText,
		Columns:   execResult.Columns,
		Rows:      execResult.Rows,
		RowCount:  execResult.RowCount(),
		Truncated: execResult.Truncated,
		CacheHit:  true,
	}
}

// retrieve fetches the knowledge bundle, degrading to empty on failure.
func (s *Service) retrieve(ctx context.Context, connectionID, promptText string) *knowledge.Bundle {
	bundle, err := s.retriever.Retrieve(ctx, connectionID, promptText)
	if err != nil {
		s.logger.Warn("knowledge retrieval failed, proceeding without knowledge", "error", err)
		return &knowledge.Bundle{}
	}
	return bundle
}

// evaluate attaches an advisory score; failure costs only the score.
func (s *Service) evaluate(ctx context.Context, promptText, sql string, rowCount int) *evaluator.Score {
	score, err := s.evaluator.Evaluate(ctx, promptText, sql, rowCount)
	if err != nil {
		s.logger.Warn("evaluation failed, result carries no score", "error", err)
		return nil
	}
	return score
}

// populateCache stores a successful synthesis, best effort.
func (s *Service) populateCache(ctx context.Context, connectionID, promptText, sql string) {
	if _, err := s.cache.Store(ctx, connectionID, promptText, sql, nil); err != nil {
		s.logger.Warn("cache store failed", "error", err)
	}
}
