package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/types"
	"github.com/melkeydev/dbbroker/internal/validator"
)

type stubAdapter struct {
	id     string
	calls  int64
	delay  time.Duration
	err    error
	result *types.QueryResult
}

func (s *stubAdapter) Type() types.DatabaseType { return types.MySQL }
func (s *stubAdapter) ID() string {
	if s.id != "" {
		return s.id
	}
	return "stub"
}
func (s *stubAdapter) Connect(ctx context.Context) error    { return nil }
func (s *stubAdapter) Disconnect(ctx context.Context) error { return nil }
func (s *stubAdapter) Query(ctx context.Context, sql string, params ...any) (*types.QueryResult, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result.Clone(), nil
	}
	return &types.QueryResult{Rows: []types.Row{{"id": int64(1)}}, RowCount: 1}, nil
}
func (s *stubAdapter) Transaction(ctx context.Context, stmts []adapter.StatementItem) ([]*types.QueryResult, error) {
	return nil, nil
}
func (s *stubAdapter) GetConnectionStatus() types.ConnectionStatus { return types.ConnectionStatus{} }
func (s *stubAdapter) HealthCheck(ctx context.Context) types.HealthStatus {
	return types.HealthStatus{IsHealthy: true}
}
func (s *stubAdapter) GetSchemaAnalyzer() adapter.SchemaAnalyzer { return nil }
func (s *stubAdapter) GetDataProfiler() adapter.DataProfiler    { return nil }
func (s *stubAdapter) GetMetrics() types.AdapterMetrics         { return types.AdapterMetrics{} }
func (s *stubAdapter) ResetMetrics()                            {}
func (s *stubAdapter) GetConnectionInfo() types.ConnectionInfo  { return types.ConnectionInfo{} }
func (s *stubAdapter) Events() <-chan adapter.Event             { return nil }

func newExecutor() *Executor {
	return New(DefaultSecurityConfig(), validator.New(validator.DefaultConfig()), 100, zap.NewNop())
}

func TestExecuteQueryRejectsInvalidSQL(t *testing.T) {
	e := newExecutor()
	_, err := e.ExecuteQuery(context.Background(), &stubAdapter{}, "DROP TABLE users", nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestExecuteQuerySucceedsAndAudits(t *testing.T) {
	e := newExecutor()
	a := &stubAdapter{}
	result, err := e.ExecuteQuery(context.Background(), a, "SELECT id FROM users", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, 1, e.Audit().Len())
}

func TestExecuteQueryTimesOut(t *testing.T) {
	e := newExecutor()
	a := &stubAdapter{delay: 100 * time.Millisecond}
	_, err := e.ExecuteQuery(context.Background(), a, "SELECT 1", nil, Options{Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestExecuteQueryTruncatesOverMaxRows(t *testing.T) {
	e := newExecutor()
	rows := make([]types.Row, 5)
	for i := range rows {
		rows[i] = types.Row{"id": i}
	}
	a := &stubAdapter{result: &types.QueryResult{Rows: rows, RowCount: 5}}

	result, err := e.ExecuteQuery(context.Background(), a, "SELECT id FROM users", nil, Options{MaxRows: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Truncated)
	require.NotNil(t, result.TotalRows)
	assert.Equal(t, 5, *result.TotalRows)
}

func TestExecuteQueryDryRunNeverCallsAdapter(t *testing.T) {
	e := newExecutor()
	a := &stubAdapter{}
	result, err := e.ExecuteQuery(context.Background(), a, "SELECT id FROM users", nil, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.NotNil(t, result.Analysis)
	assert.Equal(t, int64(0), atomic.LoadInt64(&a.calls))
}

func TestExecuteQueryCachesRepeatedSelect(t *testing.T) {
	e := newExecutor()
	a := &stubAdapter{result: &types.QueryResult{Rows: []types.Row{{"id": 1}}, RowCount: 1}}

	first, err := e.ExecuteQuery(context.Background(), a, "SELECT id FROM users", nil, Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.ExecuteQuery(context.Background(), a, "SELECT id FROM users", nil, Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int64(1), atomic.LoadInt64(&a.calls), "second call should be served from cache, not hit the adapter")
}

func TestExecuteQueryCacheIsScopedPerAdapter(t *testing.T) {
	e := newExecutor()
	poolA := &stubAdapter{id: "pool-a", result: &types.QueryResult{Rows: []types.Row{{"id": 1}}, RowCount: 1}}
	poolB := &stubAdapter{id: "pool-b", result: &types.QueryResult{Rows: []types.Row{{"id": 2}}, RowCount: 1}}

	first, err := e.ExecuteQuery(context.Background(), poolA, "SELECT id FROM users", nil, Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.ExecuteQuery(context.Background(), poolB, "SELECT id FROM users", nil, Options{})
	require.NoError(t, err)
	assert.False(t, second.Cached, "identical SQL against a different pool must not hit pool-a's cache entry")
	assert.Equal(t, int64(1), atomic.LoadInt64(&poolB.calls))
	assert.Equal(t, poolB.result.Rows, second.Rows)
}

func TestExecuteQueryDoesNotCacheNonDeterministicSelect(t *testing.T) {
	e := newExecutor()
	a := &stubAdapter{}

	_, err := e.ExecuteQuery(context.Background(), a, "SELECT NOW()", nil, Options{})
	require.NoError(t, err)
	_, err = e.ExecuteQuery(context.Background(), a, "SELECT NOW()", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&a.calls), "non-deterministic selects must never be served from cache")
}

func TestExecuteQueryAuditsFailure(t *testing.T) {
	e := newExecutor()
	a := &stubAdapter{err: errors.New("access denied for user")}

	_, err := e.ExecuteQuery(context.Background(), a, "SELECT id FROM users", nil, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, e.Audit().Len())
	recent := e.Audit().Recent(1)
	assert.False(t, recent[0].Success)
}

func TestExplainQueryDisablesAudit(t *testing.T) {
	e := newExecutor()
	a := &stubAdapter{}
	_, err := e.ExplainQuery(context.Background(), a, "SELECT id FROM users", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Audit().Len(), "explain should not add an audit entry")
}

func TestAnalyzeQueryNeverTouchesAdapter(t *testing.T) {
	e := newExecutor()
	validation, analysis := e.AnalyzeQuery("SELECT id FROM users JOIN orders ON 1=1")
	assert.True(t, validation.IsValid)
	assert.True(t, analysis.HasJoins)
}
