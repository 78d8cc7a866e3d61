package benchmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

func TestSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity Severity
		weight   float64
		valid    bool
	}{
		{SeverityLow, 0.5, true},
		{SeverityMedium, 1.0, true},
		{SeverityHigh, 1.5, true},
		{SeverityCritical, 2.0, true},
		{Severity("URGENT"), 0, false},
		{Severity("low"), 0, false},
		{Severity(""), 0, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.weight, tt.severity.Weight(), "weight of %q", tt.severity)
		assert.Equal(t, tt.valid, tt.severity.Valid(), "validity of %q", tt.severity)
	}
}

func TestCase_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		c       Case
		wantErr error
	}{
		{
			name: "valid row count",
			c:    Case{Severity: SeverityHigh, CheckKind: CheckRowCount, CheckValue: "3"},
		},
		{
			name:    "row count not an integer",
			c:       Case{Severity: SeverityHigh, CheckKind: CheckRowCount, CheckValue: "three"},
			wantErr: ErrInvalidCheck,
		},
		{
			name: "valid column check",
			c:    Case{Severity: SeverityLow, CheckKind: CheckColumnPresent, CheckValue: "total"},
		},
		{
			name:    "column check without value",
			c:       Case{Severity: SeverityLow, CheckKind: CheckColumnPresent, CheckValue: "  "},
			wantErr: ErrInvalidCheck,
		},
		{
			name: "non-empty needs no value",
			c:    Case{Severity: SeverityMedium, CheckKind: CheckNonEmpty},
		},
		{
			name:    "unknown check kind",
			c:       Case{Severity: SeverityMedium, CheckKind: CheckKind("exact_match")},
			wantErr: ErrInvalidCheck,
		},
		{
			name:    "invalid severity",
			c:       Case{Severity: Severity("SEVERE"), CheckKind: CheckNonEmpty},
			wantErr: ErrInvalidSeverity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.c.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCase_Evaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		c        Case
		sql      string
		columns  []string
		rowCount int
		success  bool
		want     bool
	}{
		{
			name:     "row count match",
			c:        Case{CheckKind: CheckRowCount, CheckValue: "3"},
			rowCount: 3, success: true, want: true,
		},
		{
			name:     "row count mismatch",
			c:        Case{CheckKind: CheckRowCount, CheckValue: "3"},
			rowCount: 4, success: true, want: false,
		},
		{
			name:    "column present case-insensitive",
			c:       Case{CheckKind: CheckColumnPresent, CheckValue: "Total"},
			columns: []string{"month", "total"}, success: true, want: true,
		},
		{
			name:    "column absent",
			c:       Case{CheckKind: CheckColumnPresent, CheckValue: "total"},
			columns: []string{"month", "sum"}, success: true, want: false,
		},
		{
			name:    "sql contains case-insensitive",
			c:       Case{CheckKind: CheckSQLContains, CheckValue: "group by"},
			sql:     "SELECT month, sum(x) FROM t GROUP BY month", success: true, want: true,
		},
		{
			name:     "non-empty passes with rows",
			c:        Case{CheckKind: CheckNonEmpty},
			rowCount: 1, success: true, want: true,
		},
		{
			name:     "non-empty fails with zero rows",
			c:        Case{CheckKind: CheckNonEmpty},
			rowCount: 0, success: true, want: false,
		},
		{
			name:     "failed synthesis never passes",
			c:        Case{CheckKind: CheckNonEmpty},
			rowCount: 5, success: false, want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.c.evaluate(tt.sql, tt.columns, tt.rowCount, tt.success))
		})
	}
}

func TestScorecard_WeightedScore(t *testing.T) {
	t.Parallel()

	suite := &Suite{
		Name: "sales",
		Cases: []*Case{
			{Name: "a", Severity: SeverityCritical}, // 2.0
			{Name: "b", Severity: SeverityHigh},     // 1.5
			{Name: "c", Severity: SeverityMedium},   // 1.0
			{Name: "d", Severity: SeverityLow},      // 0.5
		},
	}
	require.InDelta(t, 5.0, suite.TotalWeight(), 1e-9)

	card := newScorecard(suite, &Run{ID: uuid.New()})
	// CRITICAL and HIGH pass, MEDIUM and LOW fail: weighted 3.5 of 5.0.
	card.add(suite.Cases[0], &Result{Passed: true, Score: 1})
	card.add(suite.Cases[1], &Result{Passed: true, Score: 1})
	card.add(suite.Cases[2], &Result{Passed: false})
	card.add(suite.Cases[3], &Result{Passed: false, ErrorText: "synthesis deadline exceeded"})

	assert.InDelta(t, 70.0, card.Score, 1e-9)
	assert.Equal(t, 2, card.Passed)
	assert.Equal(t, 2, card.Failed)
	assert.InDelta(t, 3.5, card.Earned, 1e-9)

	report := card.String()
	assert.Contains(t, report, "70.0%")
	assert.Contains(t, report, "[PASS] CRITICAL a")
	assert.Contains(t, report, "synthesis deadline exceeded")
}
