package benchmark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysmith/querysmith/internal/agent"
	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/knowledge"
	"github.com/querysmith/querysmith/internal/testutil"
)

// memQuerier is an in-memory benchmark store.
type memQuerier struct {
	mu      sync.Mutex
	suites  map[uuid.UUID]*Suite
	runs    map[uuid.UUID]*Run
	results map[uuid.UUID][]*Result
}

func newMemQuerier() *memQuerier {
	return &memQuerier{
		suites:  make(map[uuid.UUID]*Suite),
		runs:    make(map[uuid.UUID]*Run),
		results: make(map[uuid.UUID][]*Result),
	}
}

func (m *memQuerier) InsertSuite(_ context.Context, suite *Suite) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	suite.ID = uuid.New()
	suite.CreatedAt = time.Now()
	m.suites[suite.ID] = suite
	return suite.ID, nil
}

func (m *memQuerier) InsertCase(_ context.Context, c *Case) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := c.Validate(); err != nil {
		return uuid.Nil, err
	}
	suite, ok := m.suites[c.SuiteID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	c.ID = uuid.New()
	suite.Cases = append(suite.Cases, c)
	return c.ID, nil
}

func (m *memQuerier) GetSuite(_ context.Context, id uuid.UUID) (*Suite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	suite, ok := m.suites[id]
	if !ok {
		return nil, ErrNotFound
	}
	return suite, nil
}

func (m *memQuerier) GetSuiteByName(_ context.Context, name string) (*Suite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, suite := range m.suites {
		if suite.Name == name {
			return suite, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memQuerier) ListSuites(context.Context) ([]*Suite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Suite
	for _, suite := range m.suites {
		out = append(out, suite)
	}
	return out, nil
}

func (m *memQuerier) InsertRun(_ context.Context, run *Run) (uuid.UUID, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = uuid.New()
	run.StartedAt = time.Now()
	m.runs[run.ID] = run
	return run.ID, run.StartedAt, nil
}

func (m *memQuerier) CompleteRun(_ context.Context, runID uuid.UUID, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	run.Status = StatusCompleted
	run.Score = &score
	run.CompletedAt = &now
	return nil
}

func (m *memQuerier) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run, nil
}

func (m *memQuerier) InsertResult(_ context.Context, result *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	result.ID = uuid.New()
	result.CreatedAt = time.Now()
	m.results[result.RunID] = append(m.results[result.RunID], result)
	return nil
}

func (m *memQuerier) ListResults(_ context.Context, runID uuid.UUID) ([]*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[runID], nil
}

// stubRetriever returns a fixed bundle, recording the prompts it saw.
type stubRetriever struct {
	bundle  *knowledge.Bundle
	err     error
	prompts []string
}

func (r *stubRetriever) Retrieve(_ context.Context, _, promptText string) (*knowledge.Bundle, error) {
	r.prompts = append(r.prompts, promptText)
	if r.err != nil {
		return nil, r.err
	}
	if r.bundle == nil {
		return &knowledge.Bundle{}, nil
	}
	// Copy so scoping does not mutate the stub's bundle between cases.
	cp := *r.bundle
	cp.Assets = append([]*knowledge.AssetHit(nil), r.bundle.Assets...)
	return &cp, nil
}

// fakeConn scripts Execute outcomes per SQL text.
type fakeConn struct {
	id       string
	failures map[string]error
	results  map[string]*connection.ResultSet
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, failures: make(map[string]error), results: make(map[string]*connection.ResultSet)}
}

func (c *fakeConn) ID() string      { return c.id }
func (c *fakeConn) Dialect() string { return "postgresql" }

func (c *fakeConn) Execute(_ context.Context, sql string, _ int) (*connection.ResultSet, error) {
	if err, ok := c.failures[sql]; ok {
		return nil, err
	}
	if rs, ok := c.results[sql]; ok {
		return rs, nil
	}
	return &connection.ResultSet{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil
}

func (c *fakeConn) SchemaSnapshot(context.Context) (*connection.Schema, error) {
	return &connection.Schema{}, nil
}

type runnerFixture struct {
	runner    *Runner
	queries   *memQuerier
	retriever *stubRetriever
	conn      *fakeConn
	generator *testutil.ScriptedGenerator
	suiteID   uuid.UUID
}

func newRunnerFixture(t *testing.T, cases ...*Case) *runnerFixture {
	t.Helper()
	ctx := context.Background()

	queries := newMemQuerier()
	suite := &Suite{Name: "sales"}
	_, err := queries.InsertSuite(ctx, suite)
	require.NoError(t, err)
	for i, c := range cases {
		c.SuiteID = suite.ID
		c.Position = i + 1
		_, err := queries.InsertCase(ctx, c)
		require.NoError(t, err)
	}

	generator := testutil.NewScriptedGenerator()
	a, err := agent.New(agent.Config{
		Generator:     generator,
		MaxIterations: 5,
		EngineTimeout: time.Minute,
		MaxReturnRows: 50,
		Logger:        testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	conn := newFakeConn("default")
	registry := connection.NewRegistry()
	registry.Register(conn)

	retriever := &stubRetriever{}
	runner, err := NewRunner(Config{
		Queries:   queries,
		Agent:     a,
		Retriever: retriever,
		Resolver:  registry,
		Logger:    testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	return &runnerFixture{
		runner:    runner,
		queries:   queries,
		retriever: retriever,
		conn:      conn,
		generator: generator,
		suiteID:   suite.ID,
	}
}

func scriptAnswer(g *testutil.ScriptedGenerator, sql string) {
	g.AddResponse(testutil.ToolCallJSON("execute_sql", map[string]string{"sql": sql}))
	g.AddResponse(testutil.ToolCallJSON("finish", map[string]string{"sql": sql}))
}

func TestRunner_Run(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("all cases pass", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t,
			&Case{Name: "count", Prompt: "how many orders", Severity: SeverityHigh, CheckKind: CheckNonEmpty},
			&Case{Name: "grouping", Prompt: "orders per month", Severity: SeverityMedium, CheckKind: CheckSQLContains, CheckValue: "group by"},
		)
		scriptAnswer(f.generator, "SELECT count(*) FROM orders")
		scriptAnswer(f.generator, "SELECT month, count(*) FROM orders GROUP BY month")

		card, err := f.runner.Run(ctx, f.suiteID, "default", nil)
		require.NoError(t, err)

		assert.InDelta(t, 100.0, card.Score, 1e-9)
		assert.Equal(t, 2, card.Passed)
		assert.Zero(t, card.Failed)

		run, err := f.queries.GetRun(ctx, card.RunID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, run.Status)
		require.NotNil(t, run.Score)
		assert.InDelta(t, 100.0, *run.Score, 1e-9)
		assert.NotNil(t, run.CompletedAt)

		// Per-case scores stay in [0, 1]; weighting happens at aggregation.
		results, err := f.queries.ListResults(ctx, card.RunID)
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, res := range results {
			assert.InDelta(t, 1.0, res.Score, 1e-9)
		}
	})

	t.Run("failed case scores zero but run completes", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t,
			&Case{Name: "good", Prompt: "how many orders", Severity: SeverityHigh, CheckKind: CheckNonEmpty},
			&Case{Name: "doomed", Prompt: "impossible question", Severity: SeverityHigh, CheckKind: CheckNonEmpty},
		)
		scriptAnswer(f.generator, "SELECT count(*) FROM orders")
		// Second case: the model loops on the same broken SQL until the
		// identical-failure guard aborts.
		const bad = "SELECT * FROM missing"
		f.conn.failures[bad] = errors.New(`relation "missing" does not exist`)
		f.generator.AddResponse(testutil.ToolCallJSON("execute_sql", map[string]string{"sql": bad}))
		f.generator.AddResponse(testutil.ToolCallJSON("execute_sql", map[string]string{"sql": bad}))

		card, err := f.runner.Run(ctx, f.suiteID, "default", nil)
		require.NoError(t, err)

		assert.InDelta(t, 50.0, card.Score, 1e-9)
		assert.Equal(t, 1, card.Passed)
		assert.Equal(t, 1, card.Failed)

		results, err := f.queries.ListResults(ctx, card.RunID)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[0].Passed)
		assert.False(t, results[1].Passed)
		assert.Contains(t, results[1].ErrorText, "missing")
	})

	t.Run("asset scoping filters the bundle", func(t *testing.T) {
		t.Parallel()
		inScope := uuid.New()
		outOfScope := uuid.New()
		f := newRunnerFixture(t,
			&Case{Name: "count", Prompt: "how many active users", Severity: SeverityMedium, CheckKind: CheckNonEmpty},
		)
		f.retriever.bundle = &knowledge.Bundle{Assets: []*knowledge.AssetHit{
			{ID: inScope, Name: "Active User", ContentText: "active def"},
			{ID: outOfScope, Name: "Churn", ContentText: "churn def"},
		}}
		scriptAnswer(f.generator, "SELECT count(*) FROM users")

		card, err := f.runner.Run(ctx, f.suiteID, "default", []uuid.UUID{inScope})
		require.NoError(t, err)
		assert.Equal(t, 1, card.Passed)

		run, err := f.queries.GetRun(ctx, card.RunID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{inScope}, run.AssetIDs)
	})

	t.Run("retrieval failure degrades to empty bundle", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t,
			&Case{Name: "count", Prompt: "how many orders", Severity: SeverityLow, CheckKind: CheckNonEmpty},
		)
		f.retriever.err = errors.New("db down")
		scriptAnswer(f.generator, "SELECT count(*) FROM orders")

		card, err := f.runner.Run(ctx, f.suiteID, "default", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, card.Passed)
	})

	t.Run("empty suite is an error", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t)
		_, err := f.runner.Run(ctx, f.suiteID, "default", nil)
		assert.ErrorContains(t, err, "no cases")
	})

	t.Run("unknown suite", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, &Case{Name: "c", Prompt: "p", Severity: SeverityLow, CheckKind: CheckNonEmpty})
		_, err := f.runner.Run(ctx, uuid.New(), "default", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown connection", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, &Case{Name: "c", Prompt: "p", Severity: SeverityLow, CheckKind: CheckNonEmpty})
		_, err := f.runner.Run(ctx, f.suiteID, "elsewhere", nil)
		assert.ErrorIs(t, err, connection.ErrNotFound)
	})
}
