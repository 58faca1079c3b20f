package websocket

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultLogger is the lazily-initialized process-wide logger used by any
// Conn or Server that isn't given one explicitly via WithConnLogger,
// WithClientLogger or WithServerLogger. The core
// protocol engine otherwise carries no global mutable state; this mirrors
// the teacher's own logging module (a process-wide handler and level, see
// spec.md §9's Design Note on "Global mutable state"), expressed here as an
// explicit, swappable zerolog.Logger instead of the standard library's
// package-level *log.Logger.
var (
	defaultLoggerOnce sync.Once
	defaultLogger     zerolog.Logger
)

// DefaultLogger returns the process-wide fallback logger, initializing it
// on first use.
func DefaultLogger() zerolog.Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Str("component", "websocket").Logger()
	})
	return defaultLogger
}

// SetDefaultLogger overrides the process-wide fallback logger. Intended to
// be called once at process startup (e.g. from cmd/wsecho) before any Conn
// or Server is constructed.
func SetDefaultLogger(l zerolog.Logger) {
	defaultLoggerOnce.Do(func() {}) // Ensure the lazy singleton won't clobber this later.
	defaultLogger = l
}
