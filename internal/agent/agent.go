// Package agent implements the bounded, self-correcting SQL synthesis loop.
//
// The agent drives an LLM through a small state machine: it plans, proposes
// tool calls (execute SQL, inspect the schema, search knowledge), observes
// the results, and corrects its own SQL on execution failure. The loop is
// bounded twice over: a hard iteration cap and an outer wall-clock deadline.
// Whichever trips first ends the attempt with a failure result rather than
// an open-ended hang.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/knowledge"
	"github.com/querysmith/querysmith/internal/log"
)

// ErrSynthesis indicates SQL synthesis failed terminally (budget exhausted,
// deadline hit, or the model gave up).
var ErrSynthesis = errors.New("sql synthesis failed")

// state labels a phase of the synthesis loop. Transitions only move forward
// except for the executing/self-correcting cycle.
type state string

const (
	statePlanning       state = "planning"
	stateExecuting      state = "executing"
	stateSelfCorrecting state = "self_correcting"
	stateDone           state = "done"
	stateFailed         state = "failed"
)

// identicalFailureLimit aborts the loop once the same execution error has
// come back this many times in a row. The model is looping, not learning.
const identicalFailureLimit = 2

// SQLResult is the outcome of one synthesis attempt. Error is the final
// database or budget error when Success is false.
type SQLResult struct {
	SQL            string
	Columns        []string
	Rows           [][]any
	Truncated      bool
	Success        bool
	Error          string
	IterationsUsed int
}

// Config contains the required parameters for the synthesis agent.
type Config struct {
	Generator     Generator
	MaxIterations int
	EngineTimeout time.Duration
	MaxReturnRows int
	Logger        log.Logger
}

func (cfg Config) validate() error {
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.MaxIterations <= 0 {
		return errors.New("max iterations must be positive")
	}
	if cfg.EngineTimeout <= 0 {
		return errors.New("engine timeout must be positive")
	}
	if cfg.MaxReturnRows <= 0 {
		return errors.New("max return rows must be positive")
	}
	return nil
}

// Agent turns a natural-language prompt into executable SQL against a
// resolved connection. Agent is stateless; every call to Generate runs an
// independent loop, so one instance serves concurrent requests.
type Agent struct {
	generator     Generator
	maxIterations int
	engineTimeout time.Duration
	maxReturnRows int
	logger        log.Logger
}

// New creates a synthesis agent from cfg.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Agent{
		generator:     cfg.Generator,
		maxIterations: cfg.MaxIterations,
		engineTimeout: cfg.EngineTimeout,
		maxReturnRows: cfg.MaxReturnRows,
		logger:        logger,
	}, nil
}

// Generate synthesizes and executes SQL for promptText against conn, using
// the retrieved knowledge bundle. It always returns a usable SQLResult; the
// error return is reserved for context cancellation from the caller.
func (a *Agent) Generate(ctx context.Context, promptText string, conn connection.Conn, bundle *knowledge.Bundle) (*SQLResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.engineTimeout)
	defer cancel()

	loop := &loop{
		agent:  a,
		conn:   conn,
		prompt: promptText,
		bundle: bundle,
		conv:   newConversation(promptText, conn.Dialect(), bundle),
		state:  statePlanning,
	}
	return loop.run(ctx)
}

// loop holds the mutable state of one synthesis attempt.
type loop struct {
	agent  *Agent
	conn   connection.Conn
	prompt string
	bundle *knowledge.Bundle
	conv   *conversation
	state  state

	lastSQL       string
	lastError     string
	sameErrorRuns int
}

func (l *loop) run(ctx context.Context) (*SQLResult, error) {
	a := l.agent
	start := time.Now()

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return l.fail(iteration-1, "synthesis deadline exceeded"), nil
		}

		call, err := l.decide(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.fail(iteration, "synthesis deadline exceeded"), nil
			}
			return l.fail(iteration, err.Error()), nil
		}

		if call == nil {
			// Malformed model output; the correction was already fed
			// back, and the wasted turn still counts against the budget.
			continue
		}

		a.logger.Debug("agent step",
			"iteration", iteration,
			"state", l.state,
			"call", call.name())

		switch tc := call.(type) {
		case *FinishCall:
			if result := l.finish(ctx, iteration, tc); result != nil {
				a.logger.Info("synthesis finished",
					"iterations", iteration,
					"elapsed", time.Since(start),
					"success", result.Success)
				return result, nil
			}

		case *ExecuteSQLCall:
			if done := l.execute(ctx, tc.SQL); done {
				return l.fail(iteration, l.lastError), nil
			}

		case *SchemaCall:
			l.describeSchema(ctx)

		case *KnowledgeSearchCall:
			l.searchKnowledge(tc.Query)

		default:
			// Closed set: a new variant here is a programming error.
			return nil, fmt.Errorf("%w: unhandled tool call %T", ErrSynthesis, call)
		}
	}

	msg := fmt.Sprintf("iteration budget of %d exhausted", a.maxIterations)
	if l.lastError != "" {
		msg = fmt.Sprintf("%s; last error: %s", msg, l.lastError)
	}
	return l.fail(a.maxIterations, msg), nil
}

// decide asks the model for the next tool call given the conversation so
// far.
func (l *loop) decide(ctx context.Context) (ToolCall, error) {
	resp, err := l.agent.generator.Generate(ctx, l.conv.options()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	call, err := parseToolCall(resp.Text())
	if err != nil {
		// Malformed output is fed back like any other failure so the
		// model can re-emit a well-formed call.
		l.conv.addObservation(fmt.Sprintf("Your last response was not a valid tool call: %v. Respond with exactly one JSON tool call.", err))
		return nil, nil
	}
	l.conv.addAssistant(resp.Text())
	return call, nil
}

// execute runs candidate SQL. On failure the database error is fed back to
// the model verbatim and the loop enters self-correction. It reports true
// when the same error has repeated past the identical-failure limit.
func (l *loop) execute(ctx context.Context, sql string) bool {
	result, err := l.conn.Execute(ctx, sql, l.agent.maxReturnRows)
	if err != nil {
		errText := err.Error()
		if sql == l.lastSQL && errText == l.lastError {
			l.sameErrorRuns++
		} else {
			l.sameErrorRuns = 1
		}
		l.lastSQL = sql
		l.lastError = errText
		l.state = stateSelfCorrecting

		if l.sameErrorRuns >= identicalFailureLimit {
			l.agent.logger.Warn("aborting on repeated identical failure",
				"error", errText,
				"repeats", l.sameErrorRuns)
			return true
		}

		l.conv.addObservation(fmt.Sprintf("SQL execution failed: %s\nFix the query and try again.", errText))
		return false
	}

	l.lastSQL = sql
	l.lastError = ""
	l.sameErrorRuns = 0
	l.state = stateExecuting
	l.conv.addObservation(formatResultObservation(result))
	return false
}

// finish validates the model's final answer. The final SQL must be one the
// loop has seen succeed; otherwise it is executed now. Returns nil when the
// finish attempt failed and the loop should continue.
func (l *loop) finish(ctx context.Context, iteration int, call *FinishCall) *SQLResult {
	sql := call.SQL
	if sql == "" {
		sql = l.lastSQL
	}
	if sql == "" {
		l.conv.addObservation("You finished without any SQL. Produce and execute a query first.")
		return nil
	}

	result, err := l.conn.Execute(ctx, sql, l.agent.maxReturnRows)
	if err != nil {
		l.lastSQL = sql
		l.lastError = err.Error()
		l.state = stateSelfCorrecting
		l.conv.addObservation(fmt.Sprintf("Final SQL failed: %s\nFix the query before finishing.", err.Error()))
		return nil
	}

	l.state = stateDone
	return &SQLResult{
		SQL:            sql,
		Columns:        result.Columns,
		Rows:           result.Rows,
		Truncated:      result.Truncated,
		Success:        true,
		IterationsUsed: iteration,
	}
}

// describeSchema answers a schema tool call from a live snapshot.
func (l *loop) describeSchema(ctx context.Context) {
	schema, err := l.conn.SchemaSnapshot(ctx)
	if err != nil {
		l.conv.addObservation(fmt.Sprintf("Schema lookup failed: %v", err))
		return
	}
	l.conv.addObservation(formatSchema(schema))
}

// searchKnowledge answers a knowledge tool call from the already-retrieved
// bundle. Retrieval happened once before the loop started; the tool filters
// that bundle rather than re-embedding per iteration.
func (l *loop) searchKnowledge(query string) {
	l.conv.addObservation(formatKnowledge(l.bundle, query))
}

func (l *loop) fail(iterations int, message string) *SQLResult {
	l.state = stateFailed
	return &SQLResult{
		SQL:            l.lastSQL,
		Success:        false,
		Error:          message,
		IterationsUsed: iterations,
	}
}
