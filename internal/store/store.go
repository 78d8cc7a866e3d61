// Package store manages the PostgreSQL + pgvector connection pool that backs
// every persistent record in the system (cache entries, instructions, context
// assets, benchmark data). No second persistent store exists.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querysmith/querysmith/internal/config"
)

// openTimeout bounds the initial connection attempt.
const openTimeout = 10 * time.Second

// Open creates a pgx connection pool for the vector store and verifies
// connectivity with a ping. The caller owns the pool and must Close it.
func Open(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(openCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(openCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
