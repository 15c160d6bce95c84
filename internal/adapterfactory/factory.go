// Package adapterfactory resolves a connection config to a concrete engine
// and constructs it. It is the only package that imports both the adapter
// interface and its concrete mysql/postgres implementations — keeping that
// knowledge out of internal/adapter itself avoids an import cycle (mysql and
// postgres both import internal/adapter for adapter.Event/StatementItem/
// SchemaAnalyzer, so internal/adapter cannot import them back).
package adapterfactory

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/adapter/mysql"
	"github.com/melkeydev/dbbroker/internal/adapter/postgres"
	"github.com/melkeydev/dbbroker/internal/types"
)

// registeredDrivers is the factory's availability registry (spec.md §4.4).
// Each entry's probe reports whether the driver package it wraps can be
// used in this process at all, independent of whether any given host is
// reachable.
var registeredDrivers = map[types.DatabaseType]adapter.IsAvailable{
	types.MySQL:      mysql.IsAvailable,
	types.PostgreSQL: postgres.IsAvailable,
}

// PoolOptions carries the resolved pool/retry/metrics defaults from
// spec.md §4.4. Retry is surfaced but intentionally left unengaged (spec.md
// §7 "Retries").
type PoolOptions struct {
	MinConns              int
	MaxConns              int
	IdleTimeoutMillis     int
	AcquireTimeoutMillis  int
	RetryAttempts         int
	RetryMinTimeoutMillis int
	RetryMaxTimeoutMillis int
	MetricsEnabled        bool
	// PostgresSchemas restricts which schemas a postgres adapter scans;
	// defaults to {"public"} when empty.
	PostgresSchemas []string
}

// ResolveType implements the precedence from spec.md §4.4: explicit type,
// then well-known port, then host substring, then default mysql.
func ResolveType(cfg types.ConnectionConfig) types.DatabaseType {
	if cfg.Type != "" {
		return cfg.Type
	}
	switch cfg.Port {
	case 3306:
		return types.MySQL
	case 5432:
		return types.PostgreSQL
	}
	host := strings.ToLower(cfg.Host)
	if strings.Contains(host, "mysql") {
		return types.MySQL
	}
	if strings.Contains(host, "postgres") {
		return types.PostgreSQL
	}
	return types.MySQL
}

// ResolveOptions fills in spec.md §4.4's pool/retry/metrics defaults from a
// raw connection config.
func ResolveOptions(cfg types.ConnectionConfig) PoolOptions {
	opts := PoolOptions{
		MinConns:              2,
		MaxConns:              10,
		IdleTimeoutMillis:     300_000,
		AcquireTimeoutMillis:  60_000,
		RetryAttempts:         3,
		RetryMinTimeoutMillis: 1_000,
		RetryMaxTimeoutMillis: 5_000,
		MetricsEnabled:        true,
	}
	if cfg.ConnectionLimit > 0 {
		opts.MaxConns = cfg.ConnectionLimit
	}
	if cfg.IdleTimeout > 0 {
		opts.IdleTimeoutMillis = int(cfg.IdleTimeout.Milliseconds())
	}
	if cfg.AcquireTimeout > 0 {
		opts.AcquireTimeoutMillis = int(cfg.AcquireTimeout.Milliseconds())
	}
	return opts
}

// New resolves the engine type, probes availability, and constructs the
// concrete adapter. This is the only place that knows about both concrete
// engine packages; everything downstream sees the Adapter capability set.
func New(cfg types.ConnectionConfig, logger *zap.Logger, opts PoolOptions) (adapter.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dbType := ResolveType(cfg)
	cfg.Type = dbType

	probe, registered := registeredDrivers[dbType]
	if !registered {
		return nil, fmt.Errorf("Unsupported database type: %s", dbType)
	}
	if !probe() {
		return nil, fmt.Errorf("Database driver for %s is not available", dbType)
	}

	switch dbType {
	case types.MySQL:
		a, err := mysql.New(cfg, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "construct mysql adapter %q", cfg.Name)
		}
		return a, nil
	case types.PostgreSQL:
		a, err := postgres.New(cfg, opts.PostgresSchemas, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "construct postgresql adapter %q", cfg.Name)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("Unsupported database type: %s", dbType)
	}
}
