// Package config loads and resolves connection configuration (spec.md
// §4.2/§4.3): a multi-pool YAML document layered under viper, with
// per-connection environment overrides and a single-pool legacy mode for
// deployments that only ever talk to one database.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/melkeydev/dbbroker/internal/types"
)

func getenv(key string) string { return os.Getenv(key) }
func environ() []string          { return os.Environ() }

// rawConnection mirrors the YAML/env shape of one entry under
// `connections:` before it's resolved into a types.ConnectionConfig.
type rawConnection struct {
	Type              string   `mapstructure:"type"`
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	User              string   `mapstructure:"user"`
	Password          string   `mapstructure:"password"`
	Database          string   `mapstructure:"database"`
	Description       string   `mapstructure:"description"`
	Tags              []string `mapstructure:"tags"`
	SSLMode           string   `mapstructure:"sslMode"`
	SSLCA             string   `mapstructure:"sslCA"`
	ConnectionTimeout int      `mapstructure:"connectionTimeoutMs"`
	AcquireTimeout    int      `mapstructure:"acquireTimeoutMs"`
	Timeout           int      `mapstructure:"timeoutMs"`
	ConnectionLimit   int      `mapstructure:"connectionLimit"`
	QueueLimit        int      `mapstructure:"queueLimit"`
	IdleTimeout       int      `mapstructure:"idleTimeoutMs"`
}

type rawDocument struct {
	DefaultConnection string                   `mapstructure:"defaultConnection"`
	Connections       map[string]rawConnection `mapstructure:"connections"`
}

// Result is what Load returns to main: the resolved pools plus which one
// (if any) should be registered as default.
type Result struct {
	Connections       []types.ConnectionConfig
	DefaultConnection string
}

// Load resolves configuration in the precedence spec.md §4.2 lays out: a
// YAML file named by DB_CONFIG_FILE (or ./dbbroker.yaml if present) seeded
// first, then legacy single-pool MYSQL_*/POSTGRES_* env vars if no
// `connections:` block was found, then per-connection DB_<NAME>_<PROPERTY>
// overrides applied on top of whatever the file defined.
func Load() (*Result, error) {
	v := viper.New()
	v.SetConfigName("dbbroker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if file := getenv("DB_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, errors.Wrap(err, "reading configuration file")
		}
	}

	var doc rawDocument
	if err := v.Unmarshal(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}

	if len(doc.Connections) == 0 {
		legacy, ok := legacySinglePool()
		if ok {
			doc.Connections = map[string]rawConnection{"default": legacy}
			if doc.DefaultConnection == "" {
				doc.DefaultConnection = "default"
			}
		}
	}

	applyEnvOverrides(doc.Connections)

	if def := getenv("DB_DEFAULT_CONNECTION"); def != "" {
		doc.DefaultConnection = def
	}

	if len(doc.Connections) == 0 {
		return nil, errors.New("no database connections configured: set connections in dbbroker.yaml or DB_<NAME>_* / legacy MYSQL_*/POSTGRES_* environment variables")
	}

	result := &Result{DefaultConnection: doc.DefaultConnection}
	for name, raw := range doc.Connections {
		cfg, err := resolve(name, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "connection %q", name)
		}
		result.Connections = append(result.Connections, cfg)
	}
	return result, nil
}

func resolve(name string, raw rawConnection) (types.ConnectionConfig, error) {
	cfg := types.ConnectionConfig{
		Name:              name,
		Host:              raw.Host,
		Port:              raw.Port,
		User:              raw.User,
		Password:          raw.Password,
		Database:          raw.Database,
		Description:       raw.Description,
		Tags:              raw.Tags,
		ConnectionTimeout: durationMs(raw.ConnectionTimeout, 10*time.Second),
		AcquireTimeout:    durationMs(raw.AcquireTimeout, 60*time.Second),
		Timeout:           durationMs(raw.Timeout, 30*time.Second),
		ConnectionLimit:   raw.ConnectionLimit,
		QueueLimit:        raw.QueueLimit,
		IdleTimeout:       durationMs(raw.IdleTimeout, 5*time.Minute),
	}

	switch strings.ToLower(raw.Type) {
	case "mysql":
		cfg.Type = types.MySQL
	case "postgresql", "postgres":
		cfg.Type = types.PostgreSQL
	case "":
		// left unresolved; the factory's ResolveType infers it from
		// host/port when the document doesn't say.
	default:
		return cfg, fmt.Errorf("unknown database type %q", raw.Type)
	}

	if raw.SSLMode != "" {
		mode := types.SSLMode(strings.ToUpper(raw.SSLMode))
		switch mode {
		case types.SSLRequired, types.SSLPreferred, types.SSLDisabled:
		default:
			return cfg, fmt.Errorf("unknown sslMode %q", raw.SSLMode)
		}
		cfg.SSL = &types.SSLConfig{Mode: mode, CA: raw.SSLCA}
	}

	return cfg, nil
}

func durationMs(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// legacySinglePool builds one rawConnection from whichever of
// MYSQL_HOST/POSTGRES_HOST is set, for deployments predating multi-pool
// configuration.
func legacySinglePool() (rawConnection, bool) {
	for _, prefix := range []string{"MYSQL", "POSTGRES"} {
		if host := getenv(prefix + "_HOST"); host != "" {
			raw := rawConnection{
				Host:     host,
				User:     getenv(prefix + "_USER"),
				Password: getenv(prefix + "_PASSWORD"),
				Database: firstNonEmpty(getenv(prefix+"_DATABASE"), getenv(prefix+"_DB")),
			}
			if prefix == "MYSQL" {
				raw.Type = "mysql"
			} else {
				raw.Type = "postgresql"
			}
			if p := getenv(prefix + "_PORT"); p != "" {
				if n, err := strconv.Atoi(p); err == nil {
					raw.Port = n
				}
			}
			return raw, true
		}
	}
	return rawConnection{}, false
}

// envOverridable enumerates the DB_<NAME>_<PROPERTY> suffixes spec.md §4.2
// maps onto rawConnection fields.
var envOverridable = []string{
	"HOST", "PORT", "USER", "PASSWORD", "DATABASE", "DB", "TYPE",
	"DESCRIPTION", "TAGS", "SSL_MODE", "SSL_CA", "CONNECTION_TIMEOUT",
	"CONNECTION_LIMIT", "QUEUE_LIMIT", "IDLE_TIMEOUT", "ACQUIRE_TIMEOUT",
}

// applyEnvOverrides mutates connections in place with DB_<NAME>_<PROPERTY>
// values, upper-casing NAME to match the env var and creating the pool
// entry if it doesn't already exist in the file.
func applyEnvOverrides(connections map[string]rawConnection) {
	for name := range connections {
		raw := connections[name]
		envName := strings.ToUpper(name)
		applyOne(&raw, envName)
		connections[name] = raw
	}
	for _, candidate := range discoverEnvPoolNames() {
		if _, exists := connections[strings.ToLower(candidate)]; exists {
			continue
		}
		raw := rawConnection{}
		applyOne(&raw, candidate)
		if raw.Host != "" {
			connections[strings.ToLower(candidate)] = raw
		}
	}
}

func applyOne(raw *rawConnection, envName string) {
	for _, prop := range envOverridable {
		val := getenv(fmt.Sprintf("DB_%s_%s", envName, prop))
		if val == "" {
			continue
		}
		switch prop {
		case "HOST":
			raw.Host = val
		case "PORT":
			if n, err := strconv.Atoi(val); err == nil {
				raw.Port = n
			}
		case "USER":
			raw.User = val
		case "PASSWORD":
			raw.Password = val
		case "DATABASE", "DB":
			raw.Database = val
		case "TYPE":
			raw.Type = val
		case "DESCRIPTION":
			raw.Description = val
		case "TAGS":
			raw.Tags = strings.Split(val, ",")
		case "SSL_MODE":
			raw.SSLMode = val
		case "SSL_CA":
			raw.SSLCA = val
		case "CONNECTION_TIMEOUT":
			if n, err := strconv.Atoi(val); err == nil {
				raw.ConnectionTimeout = n
			}
		case "ACQUIRE_TIMEOUT":
			if n, err := strconv.Atoi(val); err == nil {
				raw.AcquireTimeout = n
			}
		case "CONNECTION_LIMIT":
			if n, err := strconv.Atoi(val); err == nil {
				raw.ConnectionLimit = n
			}
		case "QUEUE_LIMIT":
			if n, err := strconv.Atoi(val); err == nil {
				raw.QueueLimit = n
			}
		case "IDLE_TIMEOUT":
			if n, err := strconv.Atoi(val); err == nil {
				raw.IdleTimeout = n
			}
		}
	}
}

// discoverEnvPoolNames scans the process environment for DB_<NAME>_HOST
// vars so a pool defined purely through the environment (no YAML entry at
// all) is still picked up.
func discoverEnvPoolNames() []string {
	var names []string
	for _, kv := range environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.HasPrefix(parts[0], "DB_") && strings.HasSuffix(parts[0], "_HOST") {
			name := strings.TrimSuffix(strings.TrimPrefix(parts[0], "DB_"), "_HOST")
			if name == "DEFAULT_CONNECTION" || name == "CONFIG_FILE" {
				continue
			}
			names = append(names, name)
		}
	}
	return names
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
