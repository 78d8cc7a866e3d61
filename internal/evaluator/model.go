package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// ModelCaller is the slice of the LLM layer the model evaluator consumes.
type ModelCaller interface {
	Generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

const judgePrompt = `You judge whether a SQL query plausibly answers a question.
Question: %s
SQL: %s
Rows returned: %d

Respond with one JSON object: {"score": <0.0-1.0>, "rationale": "<one sentence>"}`

// Model asks an LLM to judge the query. A model evaluation failure wraps
// ErrEvaluation so callers can fall back to no score.
type Model struct {
	caller ModelCaller
}

func (e *Model) Evaluate(ctx context.Context, promptText, sql string, rowCount int) (*Score, error) {
	resp, err := e.caller.Generate(ctx,
		ai.WithPrompt(fmt.Sprintf(judgePrompt, promptText, sql, rowCount)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	var verdict struct {
		Score     float64 `json:"score"`
		Rationale string  `json:"rationale"`
	}
	text := resp.Text()
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON verdict in model output", ErrEvaluation)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil {
		return nil, fmt.Errorf("%w: invalid verdict: %v", ErrEvaluation, err)
	}

	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 1 {
		verdict.Score = 1
	}
	return &Score{Value: verdict.Score, Rationale: verdict.Rationale}, nil
}
