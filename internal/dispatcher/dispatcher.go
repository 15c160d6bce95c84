// Package dispatcher implements the cross-database fan-out (spec.md
// component C11): each item runs against its own pool concurrently, in
// isolation, with no cache interaction. Dispatch goes straight through the
// per-adapter Query method — it never touches the executor's result cache
// or its audit ring.
package dispatcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/manager"
	"github.com/melkeydev/dbbroker/internal/types"
	"github.com/melkeydev/dbbroker/internal/validator"
)

// Dispatcher fans a batch of (pool, sql) items out concurrently and
// collects results in the caller's original order.
type Dispatcher struct {
	mgr *manager.Manager
	val *validator.Validator
	log *zap.Logger
}

func New(mgr *manager.Manager, val *validator.Validator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if val == nil {
		val = validator.New(validator.DefaultConfig())
	}
	return &Dispatcher{mgr: mgr, val: val, log: logger}
}

// CrossQuery runs every item against its named pool concurrently. A
// per-item failure (unknown pool, validation error, execution error) is
// isolated into that item's Error field; it never aborts the batch.
// Every item still passes the read-only admission filter (component C6)
// before it reaches a pool, but results bypass the executor's own result
// cache entirely — each cross-database run is treated as fresh (spec.md
// §4.10/§4.11).
func (d *Dispatcher) CrossQuery(ctx context.Context, items []types.CrossQueryItem) types.CrossQueryResult {
	results := make([]types.CrossQueryResultItem, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item types.CrossQueryItem) {
			defer wg.Done()
			results[i] = d.runOne(ctx, item)
		}(i, item)
	}
	wg.Wait()

	summary := types.CrossQuerySummary{TotalQueries: len(items)}
	for _, r := range results {
		summary.TotalRows += r.RowCount
		summary.TotalExecutionTime += r.ExecutionTime
	}

	return types.CrossQueryResult{Summary: summary, Results: results}
}

func (d *Dispatcher) runOne(ctx context.Context, item types.CrossQueryItem) types.CrossQueryResultItem {
	out := types.CrossQueryResultItem{
		Pool:       item.Pool,
		Alias:      item.Alias,
		SQLExcerpt: excerpt(item.SQL, 200),
	}

	conn, err := d.mgr.GetConnection(item.Pool)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	validation := d.val.Validate(item.SQL)
	if !validation.IsValid {
		out.Error = strings.Join(validation.Errors, "; ")
		return out
	}

	start := time.Now()
	res, err := conn.Query(ctx, validation.SanitizedQuery)
	out.ExecutionTime = time.Since(start)
	if err != nil {
		d.log.Warn("cross-database item failed", zap.String("pool", item.Pool), zap.Error(err))
		out.Error = err.Error()
		return out
	}

	out.RowCount = res.RowCount
	out.Rows = res.Rows
	out.Fields = res.Fields
	out.ExecutionTime = res.ExecutionTime
	return out
}

func excerpt(sql string, max int) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) <= max {
		return trimmed
	}
	return trimmed[:max] + "..."
}
