// Package logging provides a minimal logging interface and adapters for meshcoord.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the stores, the resolver and the coordinator use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - CoordLogger with component scoping and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	coord, err := meshcoord.New(func(o *meshcoord.Options) { o.Logger = logger })
package logging
