package evaluator

import (
	"context"
	"strings"
)

// RuleBased is the baseline evaluator: cheap structural checks, no model
// call. The score starts at 1.0 and loses points per failed check.
type RuleBased struct{}

// Evaluate applies the structural rules. It never returns an error.
func (e *RuleBased) Evaluate(_ context.Context, promptText, sql string, rowCount int) (*Score, error) {
	score := 1.0
	var notes []string

	upper := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		score -= 0.5
		notes = append(notes, "query is not a plain SELECT")
	}
	if strings.Contains(upper, "SELECT *") {
		score -= 0.1
		notes = append(notes, "SELECT * instead of explicit columns")
	}
	if rowCount == 0 {
		score -= 0.2
		notes = append(notes, "query returned no rows")
	}
	if wantsAggregate(promptText) && !hasAggregate(upper) {
		score -= 0.2
		notes = append(notes, "prompt suggests aggregation but query has none")
	}

	if score < 0 {
		score = 0
	}
	rationale := "structural checks passed"
	if len(notes) > 0 {
		rationale = strings.Join(notes, "; ")
	}
	return &Score{Value: score, Rationale: rationale}, nil
}

var aggregatePromptHints = []string{
	"how many", "count", "total", "sum", "average", "avg", "maximum", "minimum",
}

var aggregateFunctions = []string{
	"COUNT(", "SUM(", "AVG(", "MAX(", "MIN(",
}

func wantsAggregate(promptText string) bool {
	lower := strings.ToLower(promptText)
	for _, hint := range aggregatePromptHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func hasAggregate(upperSQL string) bool {
	for _, fn := range aggregateFunctions {
		if strings.Contains(upperSQL, fn) {
			return true
		}
	}
	return false
}
