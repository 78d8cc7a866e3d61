// Package app provides application initialization and dependency wiring.
//
// App is the container that owns every long-lived component: the database
// pool, Genkit, the embedding provider, the semantic cache, the knowledge
// and asset stores, the synthesis service and the benchmark runner. Setup
// builds the whole graph; Close releases it in reverse order.
package app

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querysmith/querysmith/internal/asset"
	"github.com/querysmith/querysmith/internal/benchmark"
	"github.com/querysmith/querysmith/internal/cache"
	"github.com/querysmith/querysmith/internal/config"
	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/embedding"
	"github.com/querysmith/querysmith/internal/knowledge"
	"github.com/querysmith/querysmith/internal/log"
	"github.com/querysmith/querysmith/internal/synthesis"
)

// DefaultConnectionID is the logical ID under which the configured Postgres
// database is registered as a query target.
const DefaultConnectionID = "default"

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit    *genkit.Genkit
	Embedding *embedding.Provider
	DBPool    *pgxpool.Pool

	Cache       *cache.Cache
	Instruction *knowledge.Store
	Retriever   *knowledge.Retriever
	Assets      *asset.Manager
	Connections *connection.Registry
	Synthesis   *synthesis.Service
	Benchmarks  *benchmark.Runner

	// Background work runs under bgCtx and registers on wg so Close can
	// cancel it and wait for it.
	bgCtx  context.Context
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Close gracefully shuts down all resources. It waits for background work
// before closing the pool underneath it.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}

// Go runs fn on a tracked background goroutine under the app's background
// context. Close cancels that context and waits for fn to return.
func (a *App) Go(fn func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.bgCtx)
	}()
}
