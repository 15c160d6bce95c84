package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/manager"
	"github.com/melkeydev/dbbroker/internal/types"
	"github.com/melkeydev/dbbroker/internal/validator"
)

type fakeAdapter struct {
	rowCount int
}

func (f *fakeAdapter) Type() types.DatabaseType { return types.MySQL }
func (f *fakeAdapter) ID() string               { return "fake" }
func (f *fakeAdapter) Connect(ctx context.Context) error    { return nil }
func (f *fakeAdapter) Disconnect(ctx context.Context) error { return nil }
func (f *fakeAdapter) Query(ctx context.Context, sql string, params ...any) (*types.QueryResult, error) {
	rows := make([]types.Row, f.rowCount)
	for i := range rows {
		rows[i] = types.Row{"n": i}
	}
	return &types.QueryResult{Rows: rows, RowCount: f.rowCount}, nil
}
func (f *fakeAdapter) Transaction(ctx context.Context, stmts []adapter.StatementItem) ([]*types.QueryResult, error) {
	return nil, nil
}
func (f *fakeAdapter) GetConnectionStatus() types.ConnectionStatus { return types.ConnectionStatus{} }
func (f *fakeAdapter) HealthCheck(ctx context.Context) types.HealthStatus {
	return types.HealthStatus{IsHealthy: true}
}
func (f *fakeAdapter) GetSchemaAnalyzer() adapter.SchemaAnalyzer { return nil }
func (f *fakeAdapter) GetDataProfiler() adapter.DataProfiler    { return nil }
func (f *fakeAdapter) GetMetrics() types.AdapterMetrics         { return types.AdapterMetrics{} }
func (f *fakeAdapter) ResetMetrics()                            {}
func (f *fakeAdapter) GetConnectionInfo() types.ConnectionInfo  { return types.ConnectionInfo{} }
func (f *fakeAdapter) Events() <-chan adapter.Event             { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mgr := manager.New(zap.NewNop())
	mgr.Register(types.ConnectionConfig{Name: "alpha"}, &fakeAdapter{rowCount: 2})
	mgr.Register(types.ConnectionConfig{Name: "beta"}, &fakeAdapter{rowCount: 3})
	val := validator.New(validator.DefaultConfig())
	return New(mgr, val, zap.NewNop())
}

func TestCrossQueryPreservesInputOrder(t *testing.T) {
	d := newTestDispatcher(t)
	items := []types.CrossQueryItem{
		{Pool: "alpha", SQL: "SELECT 1", Alias: "first"},
		{Pool: "beta", SQL: "SELECT 2", Alias: "second"},
		{Pool: "alpha", SQL: "SELECT 3", Alias: "third"},
	}

	result := d.CrossQuery(context.Background(), items)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "first", result.Results[0].Alias)
	assert.Equal(t, "second", result.Results[1].Alias)
	assert.Equal(t, "third", result.Results[2].Alias)
}

func TestCrossQueryIsolatesUnknownPoolError(t *testing.T) {
	d := newTestDispatcher(t)
	items := []types.CrossQueryItem{
		{Pool: "alpha", SQL: "SELECT 1"},
		{Pool: "nonexistent", SQL: "SELECT 1"},
	}

	result := d.CrossQuery(context.Background(), items)
	require.Len(t, result.Results, 2)
	assert.Empty(t, result.Results[0].Error)
	assert.NotEmpty(t, result.Results[1].Error)
}

func TestCrossQueryRejectsNonReadOnlySQL(t *testing.T) {
	d := newTestDispatcher(t)
	items := []types.CrossQueryItem{
		{Pool: "alpha", SQL: "DELETE FROM users"},
	}

	result := d.CrossQuery(context.Background(), items)
	require.Len(t, result.Results, 1)
	assert.NotEmpty(t, result.Results[0].Error)
}

func TestCrossQuerySummaryAggregatesRowsAcrossPools(t *testing.T) {
	d := newTestDispatcher(t)
	items := []types.CrossQueryItem{
		{Pool: "alpha", SQL: "SELECT 1"},
		{Pool: "beta", SQL: "SELECT 2"},
	}
	result := d.CrossQuery(context.Background(), items)
	assert.Equal(t, 2, result.Summary.TotalQueries)
	assert.Equal(t, 5, result.Summary.TotalRows) // alpha=2 + beta=3
}
