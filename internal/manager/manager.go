// Package manager implements the named connection registry (spec.md
// component C5): connect-all/disconnect-all, default selection, tag/type
// filters, and aggregate statistics.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/types"
)

// Manager owns a mapping from pool name to adapter. It is read-mostly after
// ConnectAll; mutated only by SetDefaultConnection or lifecycle calls
// (spec.md §5 "Shared-resource policy").
type Manager struct {
	logger *zap.Logger

	mu         sync.RWMutex
	adapters   map[string]adapter.Adapter
	configs    map[string]types.ConnectionConfig
	defaultCon string
}

func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		adapters: make(map[string]adapter.Adapter),
		configs:  make(map[string]types.ConnectionConfig),
	}
}

// Register adds a constructed-but-not-yet-connected adapter to the
// registry under its configured name.
func (m *Manager) Register(cfg types.ConnectionConfig, a adapter.Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[cfg.Name] = a
	m.configs[cfg.Name] = cfg
}

// SetDefaultConnection rejects unknown names.
func (m *Manager) SetDefaultConnection(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adapters[name]; !ok {
		return fmt.Errorf("Database connection '%s' not found. Available: %s", name, m.namesLocked())
	}
	m.defaultCon = name
	return nil
}

// ConnectAll connects every registered adapter concurrently. If any one
// fails, the overall call fails naming the offending pool; already-connected
// adapters are left connected — the caller owns cleanup via DisconnectAll
// (spec.md §4.5).
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make(map[string]adapter.Adapter, len(m.adapters))
	for name, a := range m.adapters {
		snapshot[name] = a
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for name, a := range snapshot {
		name, a := name, a
		g.Go(func() error {
			if err := a.Connect(gctx); err != nil {
				return errors.Wrapf(err, "pool %q", name)
			}
			return nil
		})
	}
	return g.Wait()
}

// DisconnectAll disconnects every adapter concurrently. Individual failures
// are logged but never abort the sweep; the registry is cleared only after
// the sweep completes.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.RLock()
	snapshot := make(map[string]adapter.Adapter, len(m.adapters))
	for name, a := range m.adapters {
		snapshot[name] = a
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for name, a := range snapshot {
		wg.Add(1)
		go func(name string, a adapter.Adapter) {
			defer wg.Done()
			if err := a.Disconnect(ctx); err != nil {
				m.logger.Warn("disconnect failed", zap.String("pool", name), zap.Error(err))
			}
		}(name, a)
	}
	wg.Wait()

	m.mu.Lock()
	m.adapters = make(map[string]adapter.Adapter)
	m.configs = make(map[string]types.ConnectionConfig)
	m.mu.Unlock()
}

// GetConnection resolves name (or the configured default) to an adapter.
func (m *Manager) GetConnection(name string) (adapter.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resolved := name
	if resolved == "" {
		resolved = m.defaultCon
	}
	if resolved == "" {
		return nil, errors.New("No connection name specified and no default connection configured")
	}
	a, ok := m.adapters[resolved]
	if !ok {
		return nil, fmt.Errorf("Database connection '%s' not found. Available: %s", resolved, m.namesLocked())
	}
	return a, nil
}

func (m *Manager) namesLocked() string {
	names := make([]string, 0, len(m.adapters))
	for n := range m.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// GetConnectionNames returns every registered pool name.
func (m *Manager) GetConnectionNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.adapters))
	for n := range m.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll runs every adapter's HealthCheck in parallel, converting a
// panicking HealthCheck into an unhealthy entry so one bad pool never hides
// the others. No timeout is applied beyond ctx.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]types.HealthStatus {
	m.mu.RLock()
	snapshot := make(map[string]adapter.Adapter, len(m.adapters))
	for name, a := range m.adapters {
		snapshot[name] = a
	}
	m.mu.RUnlock()

	results := make(map[string]types.HealthStatus, len(snapshot))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, a := range snapshot {
		wg.Add(1)
		go func(name string, a adapter.Adapter) {
			defer wg.Done()
			status := func() (s types.HealthStatus) {
				defer func() {
					if r := recover(); r != nil {
						s = types.HealthStatus{IsHealthy: false, ResponseTime: 0, Error: fmt.Sprintf("panic: %v", r)}
					}
				}()
				return a.HealthCheck(ctx)
			}()
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, a)
	}
	wg.Wait()
	return results
}

// AggregateHealth is the database_health_check tool's no-pool-specified
// response: the per-pool detail plus a roll-up across every sampled pool.
type AggregateHealth struct {
	Pools               map[string]types.HealthStatus `json:"pools"`
	HealthyDatabases    int                            `json:"healthyDatabases"`
	AverageResponseTime time.Duration                  `json:"averageResponseTime"`
}

// HealthCheckAllSummary wraps HealthCheckAll with the aggregate numbers
// spec.md §8's health-check scenario expects: a healthy-pool count and an
// average response time across every sample, with a failing pool
// contributing 0ms to the average rather than being excluded from it.
func (m *Manager) HealthCheckAllSummary(ctx context.Context) AggregateHealth {
	pools := m.HealthCheckAll(ctx)

	summary := AggregateHealth{Pools: pools}
	if len(pools) == 0 {
		return summary
	}

	var total time.Duration
	for _, status := range pools {
		if status.IsHealthy {
			summary.HealthyDatabases++
			total += status.ResponseTime
		}
	}
	summary.AverageResponseTime = total / time.Duration(len(pools))
	return summary
}

// GetConnectionsByTag returns pools whose configured tags include tag.
func (m *Manager) GetConnectionsByTag(tag string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, cfg := range m.configs {
		for _, t := range cfg.Tags {
			if t == tag {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// GetConnectionsByType returns connected pools of the given type.
func (m *Manager) GetConnectionsByType(t types.DatabaseType) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, a := range m.adapters {
		if a.Type() == t && a.GetConnectionStatus().IsConnected {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Statistics aggregates counts by type and by tag. HealthyConnections is
// optimistic — the number of pools currently registered — precise liveness
// is available via HealthCheckAll (spec.md §4.5).
type Statistics struct {
	TotalConnections   int                          `json:"totalConnections"`
	HealthyConnections int                           `json:"healthyConnections"`
	ByType             map[types.DatabaseType]int    `json:"byType"`
	ByTag              map[string]int                `json:"byTag"`
	DefaultConnection  string                        `json:"defaultConnection,omitempty"`
}

func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		TotalConnections:   len(m.adapters),
		HealthyConnections: len(m.adapters),
		ByType:             map[types.DatabaseType]int{},
		ByTag:              map[string]int{},
		DefaultConnection:  m.defaultCon,
	}
	for name, a := range m.adapters {
		stats.ByType[a.Type()]++
		for _, t := range m.configs[name].Tags {
			stats.ByTag[t]++
		}
	}
	return stats
}

// ConnectionInfos returns getConnectionInfo() for every registered pool,
// used by the database://connections resource and list_databases tool.
func (m *Manager) ConnectionInfos() []types.ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ConnectionInfo, 0, len(m.adapters))
	names := make([]string, 0, len(m.adapters))
	for n := range m.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, m.adapters[n].GetConnectionInfo())
	}
	return out
}
