// Package log centralizes zerolog setup for the sync core. Components derive
// tagged sub loggers from a base logger so tests and embedders can redirect
// or silence output.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the base logger for a process: timestamped, level filtered and
// optionally console pretty printed. A nil writer defaults to stderr.
func New(w io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component tags a sub logger with the component name, e.g. "client" or
// "server".
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Player tags a sub logger with a player slot.
func Player(logger zerolog.Logger, id uint8) zerolog.Logger {
	return logger.With().Uint8("player", id).Logger()
}

// Nop returns a logger that discards everything. Used as the default in tests
// and by components constructed without an explicit logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
