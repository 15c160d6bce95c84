package adapterfactory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/melkeydev/dbbroker/internal/types"
)

func TestResolveTypeExplicitTypeWins(t *testing.T) {
	got := ResolveType(types.ConnectionConfig{Type: types.PostgreSQL, Port: 3306, Host: "mysql-primary"})
	assert.Equal(t, types.PostgreSQL, got)
}

func TestResolveTypeFallsBackToWellKnownPort(t *testing.T) {
	assert.Equal(t, types.MySQL, ResolveType(types.ConnectionConfig{Port: 3306}))
	assert.Equal(t, types.PostgreSQL, ResolveType(types.ConnectionConfig{Port: 5432}))
}

func TestResolveTypeFallsBackToHostSubstringWhenPortUnrecognized(t *testing.T) {
	got := ResolveType(types.ConnectionConfig{Port: 9999, Host: "reporting-postgres.internal"})
	assert.Equal(t, types.PostgreSQL, got)
}

func TestResolveTypePortTakesPrecedenceOverHostSubstring(t *testing.T) {
	// A host that merely mentions "postgres" in its name but is actually
	// reachable on the MySQL well-known port should resolve as MySQL: port
	// precedence is checked before the host substring per spec.md scenario 5.
	got := ResolveType(types.ConnectionConfig{Port: 3306, Host: "legacy-postgres-migration-box"})
	assert.Equal(t, types.MySQL, got)
}

func TestResolveTypeDefaultsToMySQLWhenNothingMatches(t *testing.T) {
	got := ResolveType(types.ConnectionConfig{Host: "db.internal", Port: 0})
	assert.Equal(t, types.MySQL, got)
}

func TestResolveOptionsAppliesConfigOverridesOverDefaults(t *testing.T) {
	cfg := types.ConnectionConfig{
		ConnectionLimit: 25,
		IdleTimeout:     10 * time.Minute,
		AcquireTimeout:  90 * time.Second,
	}
	opts := ResolveOptions(cfg)
	assert.Equal(t, 25, opts.MaxConns)
	assert.Equal(t, 600_000, opts.IdleTimeoutMillis)
	assert.Equal(t, 90_000, opts.AcquireTimeoutMillis)
	// Untouched defaults survive.
	assert.Equal(t, 2, opts.MinConns)
	assert.Equal(t, 3, opts.RetryAttempts)
}

func TestResolveOptionsDefaultsWhenConfigZeroValued(t *testing.T) {
	opts := ResolveOptions(types.ConnectionConfig{})
	assert.Equal(t, 10, opts.MaxConns)
	assert.Equal(t, 300_000, opts.IdleTimeoutMillis)
	assert.Equal(t, 60_000, opts.AcquireTimeoutMillis)
}

func TestNewRejectsUnsupportedType(t *testing.T) {
	_, err := New(types.ConnectionConfig{Type: types.DatabaseType("oracle"), Name: "x"}, nil, ResolveOptions(types.ConnectionConfig{}))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported database type")
}
