package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querysmith/querysmith/internal/log"
)

// PostgresConn is a pgx-backed Conn. Queries run with a per-attempt timeout
// so a pathological generated query cannot hold the agent loop hostage.
type PostgresConn struct {
	id          string
	pool        *pgxpool.Pool
	execTimeout time.Duration
	logger      log.Logger
}

// NewPostgresConn wraps a pool as a resolvable connection.
func NewPostgresConn(id string, pool *pgxpool.Pool, execTimeout time.Duration, logger log.Logger) *PostgresConn {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PostgresConn{id: id, pool: pool, execTimeout: execTimeout, logger: logger}
}

func (c *PostgresConn) ID() string      { return c.id }
func (c *PostgresConn) Dialect() string { return "postgresql" }

// Execute runs a read-only query, capping the result at maxRows. Reading
// stops at maxRows+1 to detect truncation without draining the cursor.
func (c *PostgresConn) Execute(ctx context.Context, sql string, maxRows int) (*ResultSet, error) {
	if !readOnly(sql) {
		return nil, ErrNotReadOnly
	}

	ctx, cancel := context.WithTimeout(ctx, c.execTimeout)
	defer cancel()

	start := time.Now()
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := &ResultSet{Columns: columns}
	for rows.Next() {
		if len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("execute query: %w", err)
		}
	}

	c.logger.Debug("query executed",
		"connection_id", c.id,
		"rows", len(result.Rows),
		"truncated", result.Truncated,
		"elapsed", time.Since(start))
	return result, nil
}

// SchemaSnapshot reads the public-schema table layout from
// information_schema.
func (c *PostgresConn) SchemaSnapshot(ctx context.Context) (*Schema, error) {
	ctx, cancel := context.WithTimeout(ctx, c.execTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, `
		SELECT table_schema, table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	schema := &Schema{}
	for rows.Next() {
		var tableSchema, tableName, columnName, dataType, nullable string
		if err := rows.Scan(&tableSchema, &tableName, &columnName, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		last := len(schema.Tables) - 1
		if last < 0 || schema.Tables[last].Schema != tableSchema || schema.Tables[last].Name != tableName {
			schema.Tables = append(schema.Tables, Table{Schema: tableSchema, Name: tableName})
			last = len(schema.Tables) - 1
		}
		schema.Tables[last].Columns = append(schema.Tables[last].Columns, Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: nullable == "YES",
		})
	}
	return schema, rows.Err()
}
