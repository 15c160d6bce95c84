// Package telemetry wires the single zap logger threaded through the
// broker. Adapters, the manager, the executor and the cache all accept a
// *zap.Logger at construction time rather than reaching for a package-level
// global, so tests can pass zap.NewNop() and production wires a real sink.
package telemetry

import "go.uber.org/zap"

// New builds a production JSON logger, or a development console logger when
// dev is true.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Nop returns a logger that discards everything, used as the default for
// library-style construction and in tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
