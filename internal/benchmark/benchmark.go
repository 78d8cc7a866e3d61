// Package benchmark measures synthesis quality over fixed suites of
// prompt/expectation cases, with severity-weighted scoring.
package benchmark

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested suite or run does not exist.
	ErrNotFound = errors.New("benchmark not found")

	// ErrInvalidSeverity indicates an unrecognized severity label.
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrInvalidCheck indicates an unrecognized or malformed case check.
	ErrInvalidCheck = errors.New("invalid check")
)

// Severity classifies how much a case failure matters. The weight feeds the
// run score: failing a CRITICAL case costs four times a LOW one.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityWeights = map[Severity]float64{
	SeverityLow:      0.5,
	SeverityMedium:   1.0,
	SeverityHigh:     1.5,
	SeverityCritical: 2.0,
}

// Weight returns the scoring weight of the severity.
func (s Severity) Weight() float64 {
	return severityWeights[s]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityWeights[s]
	return ok
}

// CheckKind names the expectation a case carries.
type CheckKind string

const (
	// CheckRowCount expects an exact row count; the check value is the count.
	CheckRowCount CheckKind = "row_count"

	// CheckColumnPresent expects a named column in the result set.
	CheckColumnPresent CheckKind = "column_present"

	// CheckSQLContains expects a substring in the generated SQL,
	// case-insensitively.
	CheckSQLContains CheckKind = "sql_contains"

	// CheckNonEmpty expects at least one row.
	CheckNonEmpty CheckKind = "non_empty"
)

// Suite is a named collection of benchmark cases.
type Suite struct {
	ID          uuid.UUID
	Name        string
	Description string
	Cases       []*Case
	CreatedAt   time.Time
}

// TotalWeight sums the severity weights of every case.
func (s *Suite) TotalWeight() float64 {
	total := 0.0
	for _, c := range s.Cases {
		total += c.Severity.Weight()
	}
	return total
}

// Case is one prompt with an expectation about the synthesized answer.
type Case struct {
	ID         uuid.UUID
	SuiteID    uuid.UUID
	Position   int
	Name       string
	Prompt     string
	Severity   Severity
	CheckKind  CheckKind
	CheckValue string
	CreatedAt  time.Time
}

// Validate checks severity and check shape.
func (c *Case) Validate() error {
	if !c.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, c.Severity)
	}
	switch c.CheckKind {
	case CheckRowCount:
		if _, err := strconv.Atoi(c.CheckValue); err != nil {
			return fmt.Errorf("%w: row_count value %q is not an integer", ErrInvalidCheck, c.CheckValue)
		}
	case CheckColumnPresent, CheckSQLContains:
		if strings.TrimSpace(c.CheckValue) == "" {
			return fmt.Errorf("%w: %s requires a value", ErrInvalidCheck, c.CheckKind)
		}
	case CheckNonEmpty:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCheck, c.CheckKind)
	}
	return nil
}

// evaluate applies the case check to a synthesis outcome. A failed
// synthesis never passes any check.
func (c *Case) evaluate(sql string, columns []string, rowCount int, success bool) bool {
	if !success {
		return false
	}
	switch c.CheckKind {
	case CheckRowCount:
		want, _ := strconv.Atoi(c.CheckValue)
		return rowCount == want
	case CheckColumnPresent:
		for _, col := range columns {
			if strings.EqualFold(col, c.CheckValue) {
				return true
			}
		}
		return false
	case CheckSQLContains:
		return strings.Contains(strings.ToLower(sql), strings.ToLower(c.CheckValue))
	case CheckNonEmpty:
		return rowCount > 0
	default:
		return false
	}
}

// Run statuses. A run stays running until every case has a terminal result,
// then flips to completed with its final score.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Run is one execution of a suite against a connection.
type Run struct {
	ID           uuid.UUID
	SuiteID      uuid.UUID
	ConnectionID string
	AssetIDs     []uuid.UUID
	Status       string
	Score        *float64
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Result is the outcome of one case within a run.
type Result struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	CaseID    uuid.UUID
	Passed    bool
	Score     float64 // in [0, 1]; severity weighting is applied at aggregation
	SQLText   string
	ErrorText string
	Elapsed   time.Duration
	CreatedAt time.Time
}
