package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/types"
)

// fakeAdapter is a minimal adapter.Adapter test double; it never talks to a
// real driver.
type fakeAdapter struct {
	name        string
	connectErr  error
	healthy     bool
	dbType      types.DatabaseType
	connectedAt bool
	events      chan adapter.Event
}

func newFakeAdapter(name string, dbType types.DatabaseType) *fakeAdapter {
	return &fakeAdapter{name: name, healthy: true, dbType: dbType, events: make(chan adapter.Event, 8)}
}

func (f *fakeAdapter) Type() types.DatabaseType { return f.dbType }
func (f *fakeAdapter) ID() string               { return f.name }
func (f *fakeAdapter) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connectedAt = true
	return nil
}
func (f *fakeAdapter) Disconnect(ctx context.Context) error { f.connectedAt = false; return nil }
func (f *fakeAdapter) Query(ctx context.Context, sql string, params ...any) (*types.QueryResult, error) {
	return &types.QueryResult{}, nil
}
func (f *fakeAdapter) Transaction(ctx context.Context, stmts []adapter.StatementItem) ([]*types.QueryResult, error) {
	return nil, nil
}
func (f *fakeAdapter) GetConnectionStatus() types.ConnectionStatus {
	return types.ConnectionStatus{IsConnected: f.connectedAt, DatabaseType: f.dbType}
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) types.HealthStatus {
	if !f.healthy {
		return types.HealthStatus{IsHealthy: false, Error: "forced unhealthy"}
	}
	return types.HealthStatus{IsHealthy: true, ResponseTime: time.Millisecond}
}
func (f *fakeAdapter) GetSchemaAnalyzer() adapter.SchemaAnalyzer { return nil }
func (f *fakeAdapter) GetDataProfiler() adapter.DataProfiler    { return nil }
func (f *fakeAdapter) GetMetrics() types.AdapterMetrics         { return types.AdapterMetrics{} }
func (f *fakeAdapter) ResetMetrics()                            {}
func (f *fakeAdapter) GetConnectionInfo() types.ConnectionInfo {
	return types.ConnectionInfo{Name: f.name, Type: f.dbType}
}
func (f *fakeAdapter) Events() <-chan adapter.Event { return f.events }

func TestConnectAllSucceedsForAllPools(t *testing.T) {
	mgr := New(zap.NewNop())
	a1 := newFakeAdapter("poolA", types.MySQL)
	a2 := newFakeAdapter("poolB", types.PostgreSQL)
	mgr.Register(types.ConnectionConfig{Name: "poolA"}, a1)
	mgr.Register(types.ConnectionConfig{Name: "poolB"}, a2)

	err := mgr.ConnectAll(context.Background())
	require.NoError(t, err)
	assert.True(t, a1.connectedAt)
	assert.True(t, a2.connectedAt)
}

func TestConnectAllReportsOffendingPoolOnPartialFailure(t *testing.T) {
	mgr := New(zap.NewNop())
	good := newFakeAdapter("good", types.MySQL)
	bad := newFakeAdapter("bad", types.MySQL)
	bad.connectErr = errors.New("connection refused")
	mgr.Register(types.ConnectionConfig{Name: "good"}, good)
	mgr.Register(types.ConnectionConfig{Name: "bad"}, bad)

	err := mgr.ConnectAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetConnectionResolvesDefaultWhenNameEmpty(t *testing.T) {
	mgr := New(zap.NewNop())
	a := newFakeAdapter("primary", types.MySQL)
	mgr.Register(types.ConnectionConfig{Name: "primary"}, a)
	require.NoError(t, mgr.SetDefaultConnection("primary"))

	got, err := mgr.GetConnection("")
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestGetConnectionErrorsWithoutNameOrDefault(t *testing.T) {
	mgr := New(zap.NewNop())
	mgr.Register(types.ConnectionConfig{Name: "primary"}, newFakeAdapter("primary", types.MySQL))

	_, err := mgr.GetConnection("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default connection")
}

func TestGetConnectionErrorsOnUnknownNameListsAvailable(t *testing.T) {
	mgr := New(zap.NewNop())
	mgr.Register(types.ConnectionConfig{Name: "alpha"}, newFakeAdapter("alpha", types.MySQL))
	mgr.Register(types.ConnectionConfig{Name: "beta"}, newFakeAdapter("beta", types.MySQL))

	_, err := mgr.GetConnection("gamma")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
	assert.Contains(t, err.Error(), "beta")
}

func TestSetDefaultConnectionRejectsUnknownName(t *testing.T) {
	mgr := New(zap.NewNop())
	mgr.Register(types.ConnectionConfig{Name: "alpha"}, newFakeAdapter("alpha", types.MySQL))
	err := mgr.SetDefaultConnection("nope")
	assert.Error(t, err)
}

func TestHealthCheckAllAggregatesPerPoolStatus(t *testing.T) {
	mgr := New(zap.NewNop())
	healthy := newFakeAdapter("healthy", types.MySQL)
	unhealthy := newFakeAdapter("unhealthy", types.MySQL)
	unhealthy.healthy = false
	mgr.Register(types.ConnectionConfig{Name: "healthy"}, healthy)
	mgr.Register(types.ConnectionConfig{Name: "unhealthy"}, unhealthy)

	results := mgr.HealthCheckAll(context.Background())
	require.Len(t, results, 2)
	assert.True(t, results["healthy"].IsHealthy)
	assert.False(t, results["unhealthy"].IsHealthy)
}

func TestHealthCheckAllRecoversFromPanickingAdapter(t *testing.T) {
	mgr := New(zap.NewNop())
	a := &panickingAdapter{fakeAdapter: *newFakeAdapter("flaky", types.MySQL)}
	mgr.Register(types.ConnectionConfig{Name: "flaky"}, a)

	results := mgr.HealthCheckAll(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results["flaky"].IsHealthy)
	assert.Contains(t, results["flaky"].Error, "panic")
}

func TestHealthCheckAllSummaryComputesAverageOverAllSamples(t *testing.T) {
	mgr := New(zap.NewNop())
	healthy := newFakeAdapter("healthy", types.MySQL)
	unhealthy := newFakeAdapter("unhealthy", types.MySQL)
	unhealthy.healthy = false
	mgr.Register(types.ConnectionConfig{Name: "healthy"}, healthy)
	mgr.Register(types.ConnectionConfig{Name: "unhealthy"}, unhealthy)

	summary := mgr.HealthCheckAllSummary(context.Background())
	require.Len(t, summary.Pools, 2)
	assert.Equal(t, 1, summary.HealthyDatabases)
	assert.Equal(t, time.Millisecond/2, summary.AverageResponseTime)
}

type panickingAdapter struct {
	fakeAdapter
}

func (p *panickingAdapter) HealthCheck(ctx context.Context) types.HealthStatus {
	panic("driver exploded")
}

func TestDisconnectAllClearsRegistry(t *testing.T) {
	mgr := New(zap.NewNop())
	mgr.Register(types.ConnectionConfig{Name: "alpha"}, newFakeAdapter("alpha", types.MySQL))
	mgr.DisconnectAll(context.Background())
	assert.Empty(t, mgr.GetConnectionNames())
}

func TestStatisticsCountsByTypeAndTag(t *testing.T) {
	mgr := New(zap.NewNop())
	mgr.Register(types.ConnectionConfig{Name: "a", Tags: []string{"prod"}}, newFakeAdapter("a", types.MySQL))
	mgr.Register(types.ConnectionConfig{Name: "b", Tags: []string{"prod", "reporting"}}, newFakeAdapter("b", types.PostgreSQL))

	stats := mgr.Statistics()
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 1, stats.ByType[types.MySQL])
	assert.Equal(t, 1, stats.ByType[types.PostgreSQL])
	assert.Equal(t, 2, stats.ByTag["prod"])
	assert.Equal(t, 1, stats.ByTag["reporting"])
}
