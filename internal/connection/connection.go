// Package connection resolves logical database connection IDs to live
// database handles and provides the bounded, read-only execution surface the
// synthesis agent and benchmark runner use.
package connection

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound indicates no connection is registered under the given ID.
var ErrNotFound = errors.New("connection not found")

// ErrNotReadOnly indicates a statement other than a read query was submitted.
var ErrNotReadOnly = errors.New("statement is not a read-only query")

// ResultSet is the outcome of executing a query. Rows holds at most the
// requested cap; Truncated reports whether the query produced more.
type ResultSet struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// RowCount returns the number of returned rows.
func (r *ResultSet) RowCount() int {
	return len(r.Rows)
}

// Column is one column of a table schema snapshot.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// Table is one table of a schema snapshot.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// Schema is a point-in-time snapshot of the queryable tables of a
// connection.
type Schema struct {
	Tables []Table
}

// Conn is a resolved database connection. Execute enforces the row cap and
// the read-only guard; SchemaSnapshot describes the tables visible to SQL
// synthesis.
type Conn interface {
	// ID returns the logical connection ID.
	ID() string

	// Dialect returns the SQL dialect name, e.g. "postgresql".
	Dialect() string

	// Execute runs a read-only query and returns at most maxRows rows.
	// Non-SELECT statements fail with ErrNotReadOnly before reaching the
	// database.
	Execute(ctx context.Context, sql string, maxRows int) (*ResultSet, error)

	// SchemaSnapshot returns the current table layout of the connection.
	SchemaSnapshot(ctx context.Context) (*Schema, error)
}

// Resolver maps logical connection IDs to connections.
type Resolver interface {
	// Resolve returns the connection for id, or ErrNotFound.
	Resolve(id string) (Conn, error)
}

// readOnly reports whether sql is a plain read query. The guard is
// deliberately conservative: only SELECT and WITH heads pass, and WITH
// bodies containing data-modifying CTEs are rejected.
func readOnly(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	trimmed = strings.TrimSuffix(trimmed, ";")
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "SELECT"):
		return true
	case strings.HasPrefix(upper, "WITH"):
		for _, verb := range []string{"INSERT", "UPDATE", "DELETE", "MERGE"} {
			if containsWord(upper, verb) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// containsWord reports whether s contains w as a whole word.
func containsWord(s, w string) bool {
	for idx := strings.Index(s, w); idx >= 0; {
		before := idx == 0 || !isWordByte(s[idx-1])
		afterIdx := idx + len(w)
		after := afterIdx >= len(s) || !isWordByte(s[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], w)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
