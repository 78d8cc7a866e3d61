package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"

	"github.com/querysmith/querysmith/db"
	"github.com/querysmith/querysmith/internal/agent"
	"github.com/querysmith/querysmith/internal/asset"
	"github.com/querysmith/querysmith/internal/benchmark"
	"github.com/querysmith/querysmith/internal/cache"
	"github.com/querysmith/querysmith/internal/config"
	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/embedding"
	"github.com/querysmith/querysmith/internal/evaluator"
	"github.com/querysmith/querysmith/internal/knowledge"
	"github.com/querysmith/querysmith/internal/log"
	"github.com/querysmith/querysmith/internal/store"
	"github.com/querysmith/querysmith/internal/synthesis"
)

// llmRequestsPerSecond is the proactive rate limit for model calls, kept
// under typical free-tier provider quotas.
const llmRequestsPerSecond = 2

// Setup creates and initializes the application. Returns an App with
// embedded cleanup; call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	a.Genkit = g

	provider, err := provideEmbedding(g, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Embedding = provider

	a.Cache, err = cache.New(cache.NewQueries(pool), provider, cfg.CacheSimilarityThreshold, logger)
	if err != nil {
		return nil, err
	}

	knowledgeQueries := knowledge.NewQueries(pool)
	a.Instruction = knowledge.NewStore(knowledgeQueries, provider, logger)
	a.Retriever = knowledge.NewRetriever(knowledgeQueries, provider,
		cfg.RetrievalSimilarityThreshold, cfg.RetrievalTopK, logger)

	a.Assets, err = asset.NewManager(asset.NewQueries(pool), provider, logger)
	if err != nil {
		return nil, err
	}

	a.Connections = connection.NewRegistry()
	a.Connections.Register(connection.NewPostgresConn(
		DefaultConnectionID, pool, cfg.SQLExecutionTimeout, logger))

	synthAgent, err := provideAgent(g, cfg, logger)
	if err != nil {
		return nil, err
	}

	eval, err := provideEvaluator(g, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Synthesis, err = synthesis.New(synthesis.Config{
		Cache:         a.Cache,
		Retriever:     a.Retriever,
		Resolver:      a.Connections,
		Agent:         synthAgent,
		Evaluator:     eval,
		MaxReturnRows: cfg.MaxReturnRows,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	a.Benchmarks, err = benchmark.NewRunner(benchmark.Config{
		Queries:   benchmark.NewQueries(pool),
		Agent:     synthAgent,
		Retriever: a.Retriever,
		Resolver:  a.Connections,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	a.bgCtx, a.cancel = context.WithCancel(ctx)

	// Opportunistic sweep: after an embedder model change, stale cache
	// vectors get refreshed without blocking startup. No-op when every
	// entry already matches the active model.
	a.Go(func(ctx context.Context) {
		_, err := a.Cache.MigrateEmbeddings(ctx, cache.DefaultMigrationBatchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("background cache embedding migration stopped", "error", err)
		}
	})

	return a, nil
}

func provideEmbedding(g *genkit.Genkit, cfg *config.Config, logger log.Logger) (*embedding.Provider, error) {
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	return embedding.New(embedder, cfg.EmbedderModel, cfg.EmbeddingDimension, logger)
}

func provideAgent(g *genkit.Genkit, cfg *config.Config, logger log.Logger) (*agent.Agent, error) {
	generator := agent.NewGenkitGenerator(g,
		"googleai/"+cfg.ModelName,
		agent.DefaultRetryConfig(),
		rate.NewLimiter(rate.Limit(llmRequestsPerSecond), 1),
		logger)

	return agent.New(agent.Config{
		Generator:     generator,
		MaxIterations: cfg.MaxIterations,
		EngineTimeout: cfg.EngineTimeout,
		MaxReturnRows: cfg.MaxReturnRows,
		Logger:        logger,
	})
}

func provideEvaluator(g *genkit.Genkit, cfg *config.Config, logger log.Logger) (evaluator.Evaluator, error) {
	var caller evaluator.ModelCaller
	if cfg.EvaluatorStrategy == config.EvaluatorModel {
		caller = agent.NewGenkitGenerator(g,
			"googleai/"+cfg.ModelName,
			agent.DefaultRetryConfig(),
			rate.NewLimiter(rate.Limit(llmRequestsPerSecond), 1),
			logger)
	}
	return evaluator.New(cfg.EvaluatorStrategy, caller)
}
