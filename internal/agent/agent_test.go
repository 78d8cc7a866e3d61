package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/knowledge"
	"github.com/querysmith/querysmith/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn scripts Execute outcomes per SQL text. Unknown SQL succeeds with
// a one-row result so happy paths need no setup.
type fakeConn struct {
	id       string
	failures map[string]error
	results  map[string]*connection.ResultSet
	schema   *connection.Schema

	executed []string
	execWait time.Duration
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		id:       "test",
		failures: make(map[string]error),
		results:  make(map[string]*connection.ResultSet),
		schema: &connection.Schema{Tables: []connection.Table{{
			Schema: "public",
			Name:   "users",
			Columns: []connection.Column{
				{Name: "id", DataType: "bigint"},
				{Name: "email", DataType: "text", Nullable: true},
			},
		}}},
	}
}

func (c *fakeConn) ID() string      { return c.id }
func (c *fakeConn) Dialect() string { return "postgresql" }

func (c *fakeConn) Execute(ctx context.Context, sql string, _ int) (*connection.ResultSet, error) {
	if c.execWait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.execWait):
		}
	}
	c.executed = append(c.executed, sql)
	if err, ok := c.failures[sql]; ok {
		return nil, err
	}
	if rs, ok := c.results[sql]; ok {
		return rs, nil
	}
	return &connection.ResultSet{
		Columns: []string{"count"},
		Rows:    [][]any{{int64(42)}},
	}, nil
}

func (c *fakeConn) SchemaSnapshot(context.Context) (*connection.Schema, error) {
	return c.schema, nil
}

func newTestAgent(t *testing.T, gen Generator) *Agent {
	t.Helper()
	a, err := New(Config{
		Generator:     gen,
		MaxIterations: 5,
		EngineTimeout: time.Minute,
		MaxReturnRows: 50,
		Logger:        testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	return a
}

func execCall(sql string) string {
	return testutil.ToolCallJSON("execute_sql", map[string]string{"sql": sql})
}

func finishCall(sql string) string {
	return testutil.ToolCallJSON("finish", map[string]string{"sql": sql})
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	gen := testutil.NewScriptedGenerator()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing generator", Config{MaxIterations: 5, EngineTimeout: time.Minute, MaxReturnRows: 10}},
		{"zero iterations", Config{Generator: gen, EngineTimeout: time.Minute, MaxReturnRows: 10}},
		{"zero timeout", Config{Generator: gen, MaxIterations: 5, MaxReturnRows: 10}},
		{"zero max rows", Config{Generator: gen, MaxIterations: 5, EngineTimeout: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestAgent_Generate_HappyPath(t *testing.T) {
	t.Parallel()

	const sql = "SELECT count(*) FROM users"
	gen := testutil.NewScriptedGenerator(
		testutil.ToolCallJSON("get_schema", nil),
		execCall(sql),
		finishCall(sql),
	)
	conn := newFakeConn()

	result, err := newTestAgent(t, gen).Generate(context.Background(), "how many users", conn, &knowledge.Bundle{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, sql, result.SQL)
	assert.Equal(t, []string{"count"}, result.Columns)
	assert.Equal(t, 3, result.IterationsUsed)
	// execute_sql once, then finish re-validates.
	assert.Equal(t, []string{sql, sql}, conn.executed)
}

func TestAgent_Generate_SelfCorrection(t *testing.T) {
	t.Parallel()

	const bad = "SELECT nmae FROM users"
	const good = "SELECT name FROM users"
	gen := testutil.NewScriptedGenerator(
		execCall(bad),
		execCall(good),
		finishCall(good),
	)
	conn := newFakeConn()
	conn.failures[bad] = errors.New(`column "nmae" does not exist`)

	result, err := newTestAgent(t, gen).Generate(context.Background(), "user names", conn, &knowledge.Bundle{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, good, result.SQL)
	assert.Equal(t, 3, result.IterationsUsed)
}

func TestAgent_Generate_IdenticalFailureAbort(t *testing.T) {
	t.Parallel()

	const bad = "SELECT * FROM nowhere"
	gen := testutil.NewScriptedGenerator(
		execCall(bad),
		execCall(bad),
		execCall(bad),
	)
	conn := newFakeConn()
	conn.failures[bad] = errors.New(`relation "nowhere" does not exist`)

	result, err := newTestAgent(t, gen).Generate(context.Background(), "q", conn, &knowledge.Bundle{})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "nowhere")
	// Aborted on the second identical failure, not the third attempt.
	assert.Equal(t, 2, result.IterationsUsed)
	assert.Len(t, conn.executed, 2)
}

func TestAgent_Generate_IterationBudget(t *testing.T) {
	t.Parallel()

	gen := testutil.NewScriptedGenerator()
	for range 5 {
		gen.AddResponse(testutil.ToolCallJSON("get_schema", nil))
	}

	result, err := newTestAgent(t, gen).Generate(context.Background(), "q", newFakeConn(), &knowledge.Bundle{})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "iteration budget of 5 exhausted")
	assert.Equal(t, 5, result.IterationsUsed)
}

func TestAgent_Generate_Deadline(t *testing.T) {
	t.Parallel()

	const sql = "SELECT pg_sleep(10)"
	gen := testutil.NewScriptedGenerator(execCall(sql), execCall(sql))
	conn := newFakeConn()
	conn.execWait = 200 * time.Millisecond

	a, err := New(Config{
		Generator:     gen,
		MaxIterations: 5,
		EngineTimeout: 50 * time.Millisecond,
		MaxReturnRows: 50,
		Logger:        testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	result, err := a.Generate(context.Background(), "q", conn, &knowledge.Bundle{})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "deadline")
}

func TestAgent_Generate_MalformedOutputRecovers(t *testing.T) {
	t.Parallel()

	const sql = "SELECT 1"
	gen := testutil.NewScriptedGenerator(
		"I think the answer is probably a count query.",
		execCall(sql),
		finishCall(sql),
	)

	result, err := newTestAgent(t, gen).Generate(context.Background(), "q", newFakeConn(), &knowledge.Bundle{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	// The malformed turn consumed an iteration.
	assert.Equal(t, 3, result.IterationsUsed)
}

func TestAgent_Generate_FinishWithoutSQL(t *testing.T) {
	t.Parallel()

	const sql = "SELECT 1"
	gen := testutil.NewScriptedGenerator(
		finishCall(""),
		execCall(sql),
		finishCall(""),
	)
	conn := newFakeConn()

	result, err := newTestAgent(t, gen).Generate(context.Background(), "q", conn, &knowledge.Bundle{})
	require.NoError(t, err)

	// The second finish falls back to the last executed SQL.
	assert.True(t, result.Success)
	assert.Equal(t, sql, result.SQL)
}

func TestAgent_Generate_FinishWithFailingSQL(t *testing.T) {
	t.Parallel()

	const bad = "SELECT oops"
	const good = "SELECT 1"
	gen := testutil.NewScriptedGenerator(
		finishCall(bad),
		finishCall(good),
	)
	conn := newFakeConn()
	conn.failures[bad] = errors.New("syntax error")

	result, err := newTestAgent(t, gen).Generate(context.Background(), "q", conn, &knowledge.Bundle{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, good, result.SQL)
	assert.Equal(t, 2, result.IterationsUsed)
}

func TestAgent_Generate_GeneratorError(t *testing.T) {
	t.Parallel()

	gen := testutil.NewScriptedGenerator()
	gen.AddError(errors.New("model unavailable"))

	result, err := newTestAgent(t, gen).Generate(context.Background(), "q", newFakeConn(), &knowledge.Bundle{})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "model unavailable")
}

func TestAgent_Generate_KnowledgeSearch(t *testing.T) {
	t.Parallel()

	const sql = "SELECT count(*) FROM users WHERE active"
	bundle := &knowledge.Bundle{
		Assets: []*knowledge.AssetHit{{
			Type:         "glossary",
			CanonicalKey: "term:active_user",
			Name:         "Active User",
			ContentText:  "a user with a login in the last 30 days",
		}},
	}
	gen := testutil.NewScriptedGenerator(
		testutil.ToolCallJSON("search_knowledge", map[string]string{"query": "active user"}),
		execCall(sql),
		finishCall(sql),
	)

	result, err := newTestAgent(t, gen).Generate(context.Background(), "how many active users", newFakeConn(), bundle)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.IterationsUsed)
}
