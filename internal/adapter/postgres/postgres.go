// Package postgres implements the adapter.Adapter contract (spec.md
// component C3) over github.com/jackc/pgx/v4 and its pgxpool, the same
// driver family the teacher repo used (there via pgx/v4/stdlib +
// jmoiron/sqlx). dbbroker talks to pgxpool directly so the pool's
// min/max/idle-timeout/statement-timeout knobs from spec.md §4.3 have a
// real home instead of being approximated through database/sql.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/types"
)

const eventBufferSize = 256

type Adapter struct {
	cfg    types.ConnectionConfig
	id     string
	logger *zap.Logger

	pool *pgxpool.Pool
	sem  *semaphore.Weighted

	mu       sync.RWMutex
	status   types.ConnectionStatus
	metrics  types.AdapterMetrics
	shutdown bool
	started  time.Time

	activeQueries int64
	events        chan adapter.Event

	analyzer *schemaAnalyzer
	profiler *dataProfiler

	schemas []string // schemas to include in scans; defaults to {"public"}
}

// IsAvailable satisfies adapter.IsAvailable.
func IsAvailable() bool { return true }

// New constructs an unconnected PostgreSQL adapter.
func New(cfg types.ConnectionConfig, schemas []string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}
	id := fmt.Sprintf("postgresql-%s-%d-%s", cfg.Host, cfg.Port, cfg.Database)

	limit := cfg.ConnectionLimit
	if limit <= 0 {
		limit = 10
	}
	queue := cfg.QueueLimit
	if queue <= 0 {
		queue = limit
	}

	a := &Adapter{
		cfg:     cfg,
		id:      id,
		logger:  logger.With(zap.String("pool", cfg.Name), zap.String("adapter", "postgresql")),
		sem:     semaphore.NewWeighted(int64(limit + queue)),
		status:  types.ConnectionStatus{DatabaseType: types.PostgreSQL},
		metrics: types.AdapterMetrics{LastMetricsReset: time.Now()},
		events:  make(chan adapter.Event, eventBufferSize),
		schemas: schemas,
	}
	a.analyzer = &schemaAnalyzer{a: a}
	a.profiler = &dataProfiler{a: a}
	return a, nil
}

func (a *Adapter) Type() types.DatabaseType { return types.PostgreSQL }
func (a *Adapter) ID() string               { return a.id }

func (a *Adapter) poolConfig() (*pgxpool.Config, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		a.cfg.Host, a.cfg.Port, a.cfg.User, a.cfg.Password, a.cfg.Database)

	switch {
	case a.cfg.SSL == nil:
		dsn += " sslmode=disable"
	case a.cfg.SSL.Mode == types.SSLRequired:
		dsn += " sslmode=require"
	case a.cfg.SSL.Mode == types.SSLPreferred:
		dsn += " sslmode=prefer"
	default:
		dsn += " sslmode=disable"
	}
	if a.cfg.SSL != nil && a.cfg.SSL.CA != "" {
		dsn += fmt.Sprintf(" sslrootcert=%s", a.cfg.SSL.CA)
	}
	if a.cfg.SSL != nil && a.cfg.SSL.Cert != "" && a.cfg.SSL.Key != "" {
		dsn += fmt.Sprintf(" sslcert=%s sslkey=%s", a.cfg.SSL.Cert, a.cfg.SSL.Key)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.PreferSimpleProtocol = true

	limit := a.cfg.ConnectionLimit
	if limit <= 0 {
		limit = 10
	}
	cfg.MaxConns = int32(limit)
	cfg.MinConns = 2
	if a.cfg.IdleTimeout > 0 {
		cfg.MaxConnIdleTime = a.cfg.IdleTimeout
	} else {
		cfg.MaxConnIdleTime = 300 * time.Second
	}
	acquireTimeout := a.cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 60 * time.Second
	}
	cfg.HealthCheckPeriod = 30 * time.Second

	if a.cfg.Timeout > 0 {
		ms := fmt.Sprintf("%d", a.cfg.Timeout.Milliseconds())
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = ms
		cfg.ConnConfig.RuntimeParams["query_timeout"] = ms
	}

	cfg.ConnConfig.ConnectTimeout = acquireTimeout
	return cfg, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status.IsConnected {
		a.mu.Unlock()
		a.logger.Warn("connect called while already connected")
		return nil
	}
	a.mu.Unlock()

	cfg, err := a.poolConfig()
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("connection failed: %w", err)
	}

	a.mu.Lock()
	a.pool = pool
	a.shutdown = false
	a.started = time.Now()
	a.status = types.ConnectionStatus{
		IsConnected:     true,
		ConnectionCount: int(cfg.MaxConns),
		LastConnection:  a.started,
		DatabaseType:    types.PostgreSQL,
	}
	a.mu.Unlock()

	a.emit(adapter.EventConnected, "connected")
	go a.watchPoolErrors(pool)
	return nil
}

// watchPoolErrors polls pool stats; pgxpool has no error-event hook like
// node-postgres, so a lightweight health poll stands in for the teacher's
// "pool 'error' events: log, emit query_failed" behavior (spec.md §4.3).
func (a *Adapter) watchPoolErrors(pool *pgxpool.Pool) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		a.mu.RLock()
		current := a.pool
		shuttingDown := a.shutdown
		a.mu.RUnlock()
		if current != pool || shuttingDown {
			return
		}
		if err := pool.Ping(context.Background()); err != nil {
			a.logger.Warn("pool health poll failed", zap.Error(err))
			a.emit(adapter.EventQueryFailed, err.Error())
		}
	}
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.shutdown = true
	pool := a.pool
	a.status.IsConnected = false
	a.mu.Unlock()

	if pool != nil {
		pool.Close()
	}
	a.emit(adapter.EventDisconnected, "disconnected")
	return nil
}

func (a *Adapter) isShuttingDown() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.shutdown
}

func (a *Adapter) Query(ctx context.Context, query string, params ...any) (*types.QueryResult, error) {
	if a.isShuttingDown() {
		return nil, errors.New("adapter is shutting down")
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer a.sem.Release(1)

	atomic.AddInt64(&a.activeQueries, 1)
	defer atomic.AddInt64(&a.activeQueries, -1)

	start := time.Now()
	rows, err := a.pool.Query(ctx, query, params...)
	if err != nil {
		a.recordFailure()
		a.emit(adapter.EventQueryFailed, err.Error())
		return nil, fmt.Errorf("unable to query db: %w", err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		a.recordFailure()
		return nil, err
	}
	elapsed := time.Since(start)
	result.ExecutionTime = elapsed

	a.recordSuccess(elapsed)
	a.emit(adapter.EventQueryExecuted, query)
	return result, nil
}

func scanRows(rows pgx.Rows) (*types.QueryResult, error) {
	fieldDescs := rows.FieldDescriptions()
	fields := make([]types.FieldInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		fields[i] = types.FieldInfo{Name: string(fd.Name), Type: NormalizeOID(fd.DataTypeOID)}
	}

	var out []types.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("unable to scan row: %w", err)
		}
		row := make(types.Row, len(fields))
		for i, f := range fields {
			if i < len(vals) {
				row[f.Name] = vals[i]
				if vals[i] == nil {
					fields[i].Nullable = true
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return &types.QueryResult{Rows: out, Fields: fields, RowCount: len(out)}, nil
}

// Transaction acquires one dedicated connection, BEGINs, executes each
// statement in submission order, COMMITs on success and ROLLBACKs on any
// failure.
func (a *Adapter) Transaction(ctx context.Context, stmts []adapter.StatementItem) ([]*types.QueryResult, error) {
	if a.isShuttingDown() {
		return nil, errors.New("adapter is shutting down")
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer a.sem.Release(1)

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	results := make([]*types.QueryResult, 0, len(stmts))
	for _, stmt := range stmts {
		start := time.Now()
		rows, err := tx.Query(ctx, stmt.SQL, stmt.Params...)
		if err != nil {
			_ = tx.Rollback(ctx)
			a.recordFailure()
			return nil, fmt.Errorf("transaction statement failed: %w", err)
		}
		res, err := scanRows(rows)
		rows.Close()
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		res.ExecutionTime = time.Since(start)
		results = append(results, res)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("transaction commit failed: %w", err)
	}
	a.recordSuccess(0)
	return results, nil
}

func (a *Adapter) GetConnectionStatus() types.ConnectionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.status
	s.ActiveQueries = atomic.LoadInt64(&a.activeQueries)
	if s.IsConnected {
		s.Uptime = time.Since(a.started)
	}
	return s
}

func (a *Adapter) HealthCheck(ctx context.Context) types.HealthStatus {
	start := time.Now()
	a.mu.RLock()
	pool := a.pool
	a.mu.RUnlock()
	if pool == nil {
		a.emit(adapter.EventHealthCheckFailed, "not connected")
		return types.HealthStatus{IsHealthy: false, Error: "not connected"}
	}
	if err := pool.Ping(ctx); err != nil {
		a.emit(adapter.EventHealthCheckFailed, err.Error())
		return types.HealthStatus{IsHealthy: false, ResponseTime: time.Since(start), Error: err.Error()}
	}
	a.emit(adapter.EventHealthCheckPassed, "ok")
	return types.HealthStatus{IsHealthy: true, ResponseTime: time.Since(start)}
}

func (a *Adapter) GetSchemaAnalyzer() adapter.SchemaAnalyzer { return a.analyzer }
func (a *Adapter) GetDataProfiler() adapter.DataProfiler     { return a.profiler }

func (a *Adapter) GetMetrics() types.AdapterMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metrics
}

func (a *Adapter) ResetMetrics() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = types.AdapterMetrics{LastMetricsReset: time.Now()}
}

func (a *Adapter) GetConnectionInfo() types.ConnectionInfo {
	return types.ConnectionInfo{
		Name:        a.cfg.Name,
		ID:          a.id,
		Type:        types.PostgreSQL,
		Host:        a.cfg.Host,
		Port:        a.cfg.Port,
		Database:    a.cfg.Database,
		Description: a.cfg.Description,
		Tags:        a.cfg.Tags,
	}
}

func (a *Adapter) Events() <-chan adapter.Event { return a.events }

func (a *Adapter) emit(kind adapter.EventKind, detail string) {
	ev := adapter.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Pool:      a.cfg.Name,
		Timestamp: time.Now(),
		Detail:    detail,
	}
	select {
	case a.events <- ev:
	default:
	}
}

func (a *Adapter) recordSuccess(elapsed time.Duration) {
	a.mu.Lock()
	a.metrics.QueriesExecuted++
	a.metrics.TotalExecutionTime += elapsed
	if a.metrics.QueriesExecuted > 0 {
		a.metrics.AverageExecutionTime = a.metrics.TotalExecutionTime / time.Duration(a.metrics.QueriesExecuted)
		a.metrics.SuccessRate = float64(a.metrics.QueriesExecuted-a.metrics.ErrorCount) / float64(a.metrics.QueriesExecuted) * 100
	}
	executed := a.metrics.QueriesExecuted
	a.mu.Unlock()

	if executed%100 == 0 {
		a.emit(adapter.EventMetricsCollected, "checkpoint")
	}
}

func (a *Adapter) recordFailure() {
	a.mu.Lock()
	a.metrics.QueriesExecuted++
	a.metrics.ErrorCount++
	if a.metrics.QueriesExecuted > 0 {
		a.metrics.SuccessRate = float64(a.metrics.QueriesExecuted-a.metrics.ErrorCount) / float64(a.metrics.QueriesExecuted) * 100
	}
	a.mu.Unlock()
}
