// Package adapter defines the uniform contract every database engine
// implements (spec.md §4.1, component C1) plus the small event bus adapters
// use to announce lifecycle and query outcomes. Concrete engines live in
// the mysql and postgres subpackages; nothing here talks to a driver.
package adapter

import (
	"context"
	"time"

	"github.com/melkeydev/dbbroker/internal/types"
)

// EventKind enumerates the fixed vocabulary of adapter events from
// spec.md §4.1.
type EventKind string

const (
	EventConnected          EventKind = "connected"
	EventDisconnected       EventKind = "disconnected"
	EventQueryExecuted      EventKind = "query_executed"
	EventQueryFailed        EventKind = "query_failed"
	EventHealthCheckPassed  EventKind = "health_check_passed"
	EventHealthCheckFailed  EventKind = "health_check_failed"
	EventMetricsCollected   EventKind = "metrics_collected"
)

// Event is a single typed record delivered on an adapter's event channel.
// Consumers are optional; the channel is buffered and sends are
// non-blocking (spec.md §9 "the core must not block on emission").
type Event struct {
	ID        string
	Kind      EventKind
	Pool      string
	Timestamp time.Time
	Detail    string
}

// StatementItem is one statement in a Transaction call.
type StatementItem struct {
	SQL    string
	Params []any
}

// SchemaAnalyzer is the per-adapter introspection contract (component C9).
type SchemaAnalyzer interface {
	GetSchema(ctx context.Context) (*types.SchemaInfo, error)
	GetTables(ctx context.Context) ([]types.TableInfo, error)
	GetTable(ctx context.Context, name string) (*types.TableInfo, error)
	GetViews(ctx context.Context) ([]types.ViewInfo, error)
	GetProcedures(ctx context.Context) ([]types.ProcedureInfo, error)
	GetRelationships(ctx context.Context) (*types.RelationshipMap, error)
	GetDBInfo(ctx context.Context) (*types.DBInfo, error)
}

// DataProfiler is the per-adapter data-quality contract (component C10).
type DataProfiler interface {
	ProfileTable(ctx context.Context, table string, sampleSize int) (*types.TableProfile, error)
}

// Adapter is the capability set the factory hands back (spec.md §9 "avoid
// class hierarchies; model adapters as values implementing the capability
// set"). MySQL and PostgreSQL each provide one concrete implementation.
type Adapter interface {
	Type() types.DatabaseType
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Query(ctx context.Context, sql string, params ...any) (*types.QueryResult, error)
	Transaction(ctx context.Context, stmts []StatementItem) ([]*types.QueryResult, error)
	GetConnectionStatus() types.ConnectionStatus
	HealthCheck(ctx context.Context) types.HealthStatus
	GetSchemaAnalyzer() SchemaAnalyzer
	GetDataProfiler() DataProfiler
	GetMetrics() types.AdapterMetrics
	ResetMetrics()
	GetConnectionInfo() types.ConnectionInfo
	Events() <-chan Event
}

// IsAvailable is implemented by each engine package's registration hook
// (spec.md §4.4's "availability probe"): it reports whether the driver the
// package depends on can actually be used in this process (import present,
// no init-time failure), independent of whether any specific host is
// reachable.
type IsAvailable func() bool
