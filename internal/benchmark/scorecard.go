package benchmark

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CaseOutcome pairs a case with its result for reporting.
type CaseOutcome struct {
	Case   *Case
	Result *Result
}

// Scorecard summarizes one run: the weighted percentage score plus per-case
// outcomes.
type Scorecard struct {
	RunID       uuid.UUID
	SuiteName   string
	Score       float64 // weighted percentage in [0, 100]
	Passed      int
	Failed      int
	TotalWeight float64
	Earned      float64
	Outcomes    []CaseOutcome
}

func newScorecard(suite *Suite, run *Run) *Scorecard {
	return &Scorecard{
		RunID:       run.ID,
		SuiteName:   suite.Name,
		TotalWeight: suite.TotalWeight(),
	}
}

func (sc *Scorecard) add(c *Case, result *Result) {
	sc.Outcomes = append(sc.Outcomes, CaseOutcome{Case: c, Result: result})
	if result.Passed {
		sc.Passed++
		sc.Earned += result.Score * c.Severity.Weight()
	} else {
		sc.Failed++
	}
	if sc.TotalWeight > 0 {
		sc.Score = sc.Earned / sc.TotalWeight * 100
	}
}

// String renders the scorecard as a plain-text report.
func (sc *Scorecard) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Suite %q: %.1f%% (%d passed, %d failed)\n",
		sc.SuiteName, sc.Score, sc.Passed, sc.Failed)
	for _, o := range sc.Outcomes {
		mark := "PASS"
		if !o.Result.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&sb, "  [%s] %-8s %s", mark, o.Case.Severity, o.Case.Name)
		if o.Result.ErrorText != "" {
			fmt.Fprintf(&sb, " (%s)", o.Result.ErrorText)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
