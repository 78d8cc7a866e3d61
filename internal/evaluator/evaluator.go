// Package evaluator scores synthesized SQL for plausibility. Scores are
// advisory: they are attached to the synthesis result and logged, never used
// to block or rewrite a query.
package evaluator

import (
	"context"
	"errors"
	"fmt"
)

// Strategy names for configuration.
const (
	StrategyRules = "rules"
	StrategyModel = "model"
)

// ErrEvaluation indicates the evaluator could not produce a score. Callers
// log and continue; a missing score never fails synthesis.
var ErrEvaluation = errors.New("evaluation failed")

// Score is an advisory quality judgement in [0, 1].
type Score struct {
	Value     float64
	Rationale string
}

// Evaluator judges a synthesized query against the prompt that produced it.
type Evaluator interface {
	Evaluate(ctx context.Context, promptText, sql string, rowCount int) (*Score, error)
}

// New returns the evaluator for a configured strategy name.
func New(strategy string, model ModelCaller) (Evaluator, error) {
	switch strategy {
	case StrategyRules:
		return &RuleBased{}, nil
	case StrategyModel:
		if model == nil {
			return nil, fmt.Errorf("model evaluator requires a model caller")
		}
		return &Model{caller: model}, nil
	default:
		return nil, fmt.Errorf("unknown evaluator strategy %q", strategy)
	}
}
