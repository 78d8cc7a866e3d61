package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/querysmith/querysmith/internal/agent"
	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/knowledge"
	"github.com/querysmith/querysmith/internal/log"
)

// KnowledgeRetriever is the slice of the knowledge layer the runner uses.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, connectionID, promptText string) (*knowledge.Bundle, error)
}

// Querier defines the persistence operations for suites, runs and results.
type Querier interface {
	InsertSuite(ctx context.Context, suite *Suite) (uuid.UUID, error)
	InsertCase(ctx context.Context, c *Case) (uuid.UUID, error)
	GetSuite(ctx context.Context, id uuid.UUID) (*Suite, error)
	GetSuiteByName(ctx context.Context, name string) (*Suite, error)
	ListSuites(ctx context.Context) ([]*Suite, error)

	InsertRun(ctx context.Context, run *Run) (uuid.UUID, time.Time, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, score float64) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	InsertResult(ctx context.Context, result *Result) error
	ListResults(ctx context.Context, runID uuid.UUID) ([]*Result, error)
}

// Config contains the required dependencies for the runner.
type Config struct {
	Queries   Querier
	Agent     *agent.Agent
	Retriever KnowledgeRetriever
	Resolver  connection.Resolver
	Logger    log.Logger
}

func (cfg Config) validate() error {
	if cfg.Queries == nil {
		return errors.New("queries are required")
	}
	if cfg.Agent == nil {
		return errors.New("agent is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Resolver == nil {
		return errors.New("connection resolver is required")
	}
	return nil
}

// Runner executes benchmark suites. Cases run sequentially in suite order;
// a case that fails or times out scores zero and the run continues.
type Runner struct {
	queries   Querier
	agent     *agent.Agent
	retriever KnowledgeRetriever
	resolver  connection.Resolver
	logger    log.Logger
}

// NewRunner creates a benchmark runner from cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Runner{
		queries:   cfg.Queries,
		agent:     cfg.Agent,
		retriever: cfg.Retriever,
		resolver:  cfg.Resolver,
		logger:    logger,
	}, nil
}

// Run executes a suite against a connection. assetIDs, when non-empty,
// restricts retrieved knowledge to those published assets, which makes runs
// comparable before and after publishing a new asset. The run is persisted
// up front and marked completed only after every case has a result.
func (r *Runner) Run(ctx context.Context, suiteID uuid.UUID, connectionID string, assetIDs []uuid.UUID) (*Scorecard, error) {
	suite, err := r.queries.GetSuite(ctx, suiteID)
	if err != nil {
		return nil, err
	}
	if len(suite.Cases) == 0 {
		return nil, fmt.Errorf("suite %q has no cases", suite.Name)
	}

	conn, err := r.resolver.Resolve(connectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}

	run := &Run{SuiteID: suiteID, ConnectionID: connectionID, AssetIDs: assetIDs, Status: StatusRunning}
	run.ID, run.StartedAt, err = r.queries.InsertRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	r.logger.Info("benchmark run started",
		"suite", suite.Name,
		"run_id", run.ID,
		"cases", len(suite.Cases),
		"scoped_assets", len(assetIDs))

	card := newScorecard(suite, run)
	for _, c := range suite.Cases {
		result := r.runCase(ctx, run, c, conn, assetIDs)
		if err := r.queries.InsertResult(ctx, result); err != nil {
			return nil, fmt.Errorf("persist result for case %q: %w", c.Name, err)
		}
		card.add(c, result)
	}

	if err := r.queries.CompleteRun(ctx, run.ID, card.Score); err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}

	r.logger.Info("benchmark run completed",
		"run_id", run.ID,
		"score", card.Score,
		"passed", card.Passed,
		"failed", card.Failed)
	return card, nil
}

// runCase synthesizes one case and applies its check. Synthesis failures
// and deadline hits become zero-score results, never runner errors.
func (r *Runner) runCase(ctx context.Context, run *Run, c *Case, conn connection.Conn, assetIDs []uuid.UUID) *Result {
	start := time.Now()
	result := &Result{RunID: run.ID, CaseID: c.ID}

	bundle := r.retrieveScoped(ctx, run.ConnectionID, c.Prompt, assetIDs)

	sqlResult, err := r.agent.Generate(ctx, c.Prompt, conn, bundle)
	result.Elapsed = time.Since(start)
	if err != nil {
		result.ErrorText = err.Error()
		return result
	}

	result.SQLText = sqlResult.SQL
	if !sqlResult.Success {
		result.ErrorText = sqlResult.Error
		return result
	}

	if c.evaluate(sqlResult.SQL, sqlResult.Columns, len(sqlResult.Rows), true) {
		result.Passed = true
		result.Score = 1
	}
	return result
}

// retrieveScoped fetches knowledge and, when scoping is requested, drops
// assets outside the scope. Retrieval failure degrades to an empty bundle
// like it does in live synthesis.
func (r *Runner) retrieveScoped(ctx context.Context, connectionID, prompt string, assetIDs []uuid.UUID) *knowledge.Bundle {
	bundle, err := r.retriever.Retrieve(ctx, connectionID, prompt)
	if err != nil {
		r.logger.Warn("benchmark retrieval failed, running without knowledge", "error", err)
		return &knowledge.Bundle{}
	}
	if len(assetIDs) == 0 {
		return bundle
	}

	allowed := make(map[uuid.UUID]bool, len(assetIDs))
	for _, id := range assetIDs {
		allowed[id] = true
	}
	scoped := make([]*knowledge.AssetHit, 0, len(bundle.Assets))
	for _, hit := range bundle.Assets {
		if allowed[hit.ID] {
			scoped = append(scoped, hit)
		}
	}
	bundle.Assets = scoped
	return bundle
}
