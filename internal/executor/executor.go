// Package executor implements the timeout-bounded, row-capped, audited
// single-query execution path (spec.md component C7).
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/audit"
	"github.com/melkeydev/dbbroker/internal/types"
	"github.com/melkeydev/dbbroker/internal/validator"
)

// SecurityConfig holds the executor-wide defaults spec.md §4.7 references.
type SecurityConfig struct {
	MaxExecutionTime time.Duration
	MaxResultRows    int
}

func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{MaxExecutionTime: 30 * time.Second, MaxResultRows: 1000}
}

// Options mirrors executeQuery's options bag from spec.md §4.7.
type Options struct {
	Timeout     time.Duration
	MaxRows     int
	EnableAudit bool
	DryRun      bool
	// enableAuditSet lets zero-value Options default EnableAudit to true
	// without callers having to spell it out.
	enableAuditSet bool
}

// WithAudit lets callers explicitly disable auditing (explainQuery does).
func (o Options) WithAudit(enabled bool) Options {
	o.EnableAudit = enabled
	o.enableAuditSet = true
	return o
}

type cachedResult struct {
	result    *types.QueryResult
	timestamp time.Time
	ttl       time.Duration
}

// Executor validates, caches, timeout-bounds and audits a single execution
// against one adapter.
type Executor struct {
	security  SecurityConfig
	validator *validator.Validator
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*cachedResult

	audit *audit.Ring
}

func New(security SecurityConfig, v *validator.Validator, auditCapacity int, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if v == nil {
		v = validator.New(validator.DefaultConfig())
	}
	return &Executor{
		security:  security,
		validator: v,
		logger:    logger,
		cache:     make(map[string]*cachedResult),
		audit:     audit.NewRing(auditCapacity),
	}
}

var nonDeterministicCall = regexp.MustCompile(`(?i)\b(NOW|RAND|UUID|CONNECTION_ID)\s*\(`)

// ExecuteQuery is the public C7 operation.
func (e *Executor) ExecuteQuery(ctx context.Context, a adapter.Adapter, sql string, params []any, opts Options) (*types.QueryResult, error) {
	if !opts.enableAuditSet {
		opts.EnableAudit = true
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.security.MaxExecutionTime
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = e.security.MaxResultRows
	}

	validation := e.validator.Validate(sql)
	if !validation.IsValid {
		return nil, fmt.Errorf("Query validation failed: %s", strings.Join(validation.Errors, "; "))
	}
	for _, w := range validation.Warnings {
		e.logger.Warn("query validation warning", zap.String("warning", w))
	}

	cacheKey := ""
	if !opts.DryRun {
		cacheKey = e.cacheKey(a.ID(), validation.SanitizedQuery, params)
		if cached, ok := e.getCached(cacheKey); ok {
			return cached, nil
		}
	}

	if opts.DryRun {
		analysis := validator.Analyze(validation.SanitizedQuery)
		return &types.QueryResult{
			Rows:     []types.Row{},
			Fields:   []types.FieldInfo{},
			RowCount: 0,
			Analysis: &analysis,
			Cached:   false,
			DryRun:   true,
		}, nil
	}

	start := time.Now()
	result, err := e.raceExecute(ctx, a, validation.SanitizedQuery, params, timeout)
	elapsed := time.Since(start)

	if err != nil {
		if opts.EnableAudit {
			e.audit.Append(types.AuditEntry{
				Timestamp:     start,
				Query:         truncateQuery(sql, 1000),
				ExecutionTime: elapsed,
				RowCount:      0,
				Success:       false,
				ErrorMessage:  err.Error(),
			})
		}
		e.maybeEmitSuspiciousError(sql, err)
		return nil, err
	}

	total := len(result.Rows)
	if total > maxRows {
		result.Rows = result.Rows[:maxRows]
		result.Truncated = true
		tr := total
		result.TotalRows = &tr
	}
	result.ExecutionTime = elapsed

	if e.cacheable(validation.SanitizedQuery, result) {
		e.setCached(cacheKey, result)
	}

	if opts.EnableAudit {
		e.audit.Append(types.AuditEntry{
			Timestamp:     start,
			Query:         truncateQuery(sql, 1000),
			ExecutionTime: elapsed,
			RowCount:      result.RowCount,
			Success:       true,
		})
	}

	return result.Clone(), nil
}

// ExplainQuery is executeQuery("EXPLAIN "+sql, params, {enableAudit:false}).
func (e *Executor) ExplainQuery(ctx context.Context, a adapter.Adapter, sql string, params []any) (*types.QueryResult, error) {
	return e.ExecuteQuery(ctx, a, "EXPLAIN "+sql, params, Options{}.WithAudit(false))
}

// AnalyzeQuery returns validation + analysis without touching the database.
func (e *Executor) AnalyzeQuery(sql string) (types.ValidationResult, types.QueryAnalysis) {
	v := e.validator.Validate(sql)
	return v, validator.Analyze(v.SanitizedQuery)
}

// Audit exposes the bounded execution ring for the clear_schema_cache-style
// admin surface / tests.
func (e *Executor) Audit() *audit.Ring { return e.audit }

func (e *Executor) raceExecute(ctx context.Context, a adapter.Adapter, sql string, params []any, timeout time.Duration) (*types.QueryResult, error) {
	resultCh := make(chan *types.QueryResult, 1)
	errCh := make(chan error, 1)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		res, err := a.Query(timeoutCtx, sql, params...)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		if ctx.Err() == nil && timeoutCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("Query timeout after %dms", timeout.Milliseconds())
		}
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("Query timeout after %dms", timeout.Milliseconds())
	}
}

func (e *Executor) cacheKey(poolID, sql string, params []any) string {
	b, _ := json.Marshal(params)
	return poolID + ":" + sql + ":" + string(b)
}

func (e *Executor) getCached(key string) (*types.QueryResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cache[key]
	if !ok {
		return nil, false
	}
	age := time.Since(c.timestamp)
	if age > c.ttl {
		delete(e.cache, key)
		return nil, false
	}
	out := c.result.Clone()
	out.Cached = true
	out.CacheAge = age
	return out, true
}

func (e *Executor) setCached(key string, result *types.QueryResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.cache) > 100 {
		now := time.Now()
		for k, v := range e.cache {
			if now.Sub(v.timestamp) > v.ttl {
				delete(e.cache, k)
			}
		}
	}
	e.cache[key] = &cachedResult{result: result.Clone(), timestamp: time.Now(), ttl: 5 * time.Second}
}

func (e *Executor) cacheable(sql string, result *types.QueryResult) bool {
	upper := strings.ToUpper(sql)
	if !strings.HasPrefix(strings.TrimSpace(upper), "SELECT") {
		return false
	}
	if nonDeterministicCall.MatchString(sql) {
		return false
	}
	if result.RowCount > 1000 {
		return false
	}
	if len(result.Metadata) > 0 {
		return false
	}
	return true
}

var suspiciousErrorPattern = regexp.MustCompile(`(?i)access denied|permission denied|table .* doesn't exist|column .* doesn't exist|syntax error`)

func (e *Executor) maybeEmitSuspiciousError(sql string, err error) {
	if suspiciousErrorPattern.MatchString(err.Error()) {
		e.logger.Warn("suspicious_query_error",
			zap.String("sql", truncateQuery(sql, 200)),
			zap.Error(err))
	}
}

func truncateQuery(sql string, max int) string {
	if len(sql) <= max {
		return sql
	}
	return sql[:max]
}
