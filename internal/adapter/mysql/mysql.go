// Package mysql implements the adapter.Adapter contract (spec.md component
// C2) over github.com/go-sql-driver/mysql and github.com/jmoiron/sqlx, the
// same pairing the teacher repo used for its MySQL connector.
package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/types"
)

const eventBufferSize = 256

// tlsConfigCounter gives every adapter instance a unique registered TLS
// config name; go-sql-driver/mysql's RegisterTLSConfig is a package-level
// registry keyed by string.
var tlsConfigCounter int64

// Adapter is the MySQL implementation of adapter.Adapter.
type Adapter struct {
	cfg    types.ConnectionConfig
	id     string
	logger *zap.Logger

	db  *sqlx.DB
	sem *semaphore.Weighted

	mu       sync.RWMutex
	status   types.ConnectionStatus
	metrics  types.AdapterMetrics
	shutdown bool
	started  time.Time

	activeQueries int64
	events        chan adapter.Event

	analyzer *schemaAnalyzer
	profiler *dataProfiler
}

// IsAvailable satisfies adapter.IsAvailable: the driver package imported
// fine, so MySQL is always available in this binary.
func IsAvailable() bool { return true }

// New constructs an unconnected MySQL adapter. Connect must be called
// before Query/Transaction will succeed.
func New(cfg types.ConnectionConfig, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := fmt.Sprintf("mysql-%s-%d-%s", cfg.Host, cfg.Port, cfg.Database)

	limit := cfg.ConnectionLimit
	if limit <= 0 {
		limit = 10
	}
	queue := cfg.QueueLimit
	if queue <= 0 {
		queue = limit
	}

	a := &Adapter{
		cfg:    cfg,
		id:     id,
		logger: logger.With(zap.String("pool", cfg.Name), zap.String("adapter", "mysql")),
		sem:    semaphore.NewWeighted(int64(limit + queue)),
		status: types.ConnectionStatus{DatabaseType: types.MySQL},
		metrics: types.AdapterMetrics{
			LastMetricsReset: time.Now(),
		},
		events: make(chan adapter.Event, eventBufferSize),
	}
	a.analyzer = &schemaAnalyzer{a: a}
	a.profiler = &dataProfiler{a: a}
	return a, nil
}

func (a *Adapter) Type() types.DatabaseType { return types.MySQL }
func (a *Adapter) ID() string               { return a.id }

func (a *Adapter) dsn() (string, error) {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	mc.User = a.cfg.User
	mc.Passwd = a.cfg.Password
	mc.DBName = a.cfg.Database
	mc.ParseTime = true
	mc.MultiStatements = false
	if a.cfg.ConnectionTimeout > 0 {
		mc.Timeout = a.cfg.ConnectionTimeout
	}
	if a.cfg.Timeout > 0 {
		mc.ReadTimeout = a.cfg.Timeout
		mc.WriteTimeout = a.cfg.Timeout
	}

	if a.cfg.SSL != nil {
		tlsName := fmt.Sprintf("dbbroker-%s-%d", a.cfg.Name, atomic.AddInt64(&tlsConfigCounter, 1))
		tlsCfg := &tls.Config{
			InsecureSkipVerify: a.cfg.SSL.Mode != types.SSLRequired,
		}
		if a.cfg.SSL.CA != "" {
			pool := x509.NewCertPool()
			pem, err := os.ReadFile(a.cfg.SSL.CA)
			if err != nil {
				return "", errors.Wrap(err, "read CA file")
			}
			if !pool.AppendCertsFromPEM(pem) {
				return "", errors.New("failed to parse CA certificate")
			}
			tlsCfg.RootCAs = pool
		}
		if a.cfg.SSL.Cert != "" && a.cfg.SSL.Key != "" {
			cert, err := tls.LoadX509KeyPair(a.cfg.SSL.Cert, a.cfg.SSL.Key)
			if err != nil {
				return "", errors.Wrap(err, "load client certificate")
			}
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
		if err := mysql.RegisterTLSConfig(tlsName, tlsCfg); err != nil {
			return "", errors.Wrap(err, "register TLS config")
		}
		mc.TLSConfig = tlsName
	}

	return mc.FormatDSN(), nil
}

// Connect is idempotent: calling it while already connected logs a warning
// and no-ops (spec.md §4.1).
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status.IsConnected {
		a.mu.Unlock()
		a.logger.Warn("connect called while already connected")
		return nil
	}
	a.mu.Unlock()

	dsn, err := a.dsn()
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	limit := a.cfg.ConnectionLimit
	if limit <= 0 {
		limit = 10
	}
	db.SetMaxOpenConns(limit)
	db.SetMaxIdleConns(2)
	if a.cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(a.cfg.IdleTimeout)
	} else {
		db.SetConnMaxIdleTime(300 * time.Second)
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("connection failed: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return fmt.Errorf("connection failed: %w", err)
	}
	conn.Close()

	a.mu.Lock()
	a.db = db
	a.shutdown = false
	a.started = time.Now()
	a.status = types.ConnectionStatus{
		IsConnected:     true,
		ConnectionCount: limit,
		LastConnection:  a.started,
		DatabaseType:    types.MySQL,
	}
	a.mu.Unlock()

	a.emit(adapter.EventConnected, "connected")
	return nil
}

// Disconnect sets the shutdown flag so in-flight and future calls fail fast
// with "adapter is shutting down", then closes the pool.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.shutdown = true
	db := a.db
	a.status.IsConnected = false
	a.mu.Unlock()

	if db != nil {
		if err := db.Close(); err != nil {
			return err
		}
	}
	a.emit(adapter.EventDisconnected, "disconnected")
	return nil
}

func (a *Adapter) isShuttingDown() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.shutdown
}

// Query performs a single parameterized statement. It never interprets the
// SQL; read-only enforcement is the validator's job upstream.
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
	rows, err := a.db.QueryxContext(ctx, query, params...)
	if err != nil {
		a.recordFailure()
		a.emit(adapter.EventQueryFailed, err.Error())
		return nil, fmt.Errorf("unable to query db: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		a.recordFailure()
		return nil, fmt.Errorf("unable to read columns: %w", err)
	}
	colTypes, _ := rows.ColumnTypes()

	var out []types.Row
	for rows.Next() {
		row := make(types.Row, len(cols))
		if err := rows.MapScan(row); err != nil {
			a.recordFailure()
			return nil, fmt.Errorf("unable to scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		a.recordFailure()
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	elapsed := time.Since(start)
	fields := fieldsFromColumns(cols, colTypes, out)

	a.recordSuccess(elapsed)
	a.emit(adapter.EventQueryExecuted, query)

	return &types.QueryResult{
		Rows:          out,
		Fields:        fields,
		RowCount:      len(out),
		ExecutionTime: elapsed,
	}, nil
}

// Transaction acquires one dedicated connection, BEGINs, executes each
// statement in submission order, COMMITs on success and ROLLBACKs on any
// failure. The connection is always returned to the pool.
func (a *Adapter) Transaction(ctx context.Context, stmts []adapter.StatementItem) ([]*types.QueryResult, error) {
	if a.isShuttingDown() {
		return nil, errors.New("adapter is shutting down")
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer a.sem.Release(1)

	tx, err := a.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	results := make([]*types.QueryResult, 0, len(stmts))
	for _, stmt := range stmts {
		start := time.Now()
		rows, err := tx.QueryxContext(ctx, stmt.SQL, stmt.Params...)
		if err != nil {
			_ = tx.Rollback()
			a.recordFailure()
			return nil, fmt.Errorf("transaction statement failed: %w", err)
		}
		cols, _ := rows.Columns()
		colTypes, _ := rows.ColumnTypes()
		var out []types.Row
		for rows.Next() {
			row := make(types.Row, len(cols))
			if err := rows.MapScan(row); err != nil {
				rows.Close()
				_ = tx.Rollback()
				return nil, fmt.Errorf("transaction scan failed: %w", err)
			}
			out = append(out, row)
		}
		rows.Close()
		results = append(results, &types.QueryResult{
			Rows:          out,
			Fields:        fieldsFromColumns(cols, colTypes, out),
			RowCount:      len(out),
			ExecutionTime: time.Since(start),
		})
	}

	if err := tx.Commit(); err != nil {
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
	db := a.db
	a.mu.RUnlock()
	if db == nil {
		a.emit(adapter.EventHealthCheckFailed, "not connected")
		return types.HealthStatus{IsHealthy: false, ResponseTime: 0, Error: "not connected"}
	}
	if err := db.PingContext(ctx); err != nil {
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
		Name:     a.cfg.Name,
		ID:       a.id,
		Type:     types.MySQL,
		Host:     a.cfg.Host,
		Port:     a.cfg.Port,
		Database: a.cfg.Database,
		Description: a.cfg.Description,
		Tags:     a.cfg.Tags,
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
		// event channel full: never block the query path on emission.
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

func fieldsFromColumns(cols []string, colTypes []*sql.ColumnType, rows []types.Row) []types.FieldInfo {
	fields := make([]types.FieldInfo, len(cols))
	for i, c := range cols {
		nullable := false
		if len(rows) > 0 {
			nullable = rows[0][c] == nil
		}
		nativeType := ""
		if i < len(colTypes) && colTypes[i] != nil {
			nativeType = colTypes[i].DatabaseTypeName()
		}
		fields[i] = types.FieldInfo{
			Name:     c,
			Type:     NormalizeType(nativeType),
			Nullable: nullable,
		}
	}
	return fields
}
