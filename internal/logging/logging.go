// Package logging builds ringbus's structured zerolog loggers.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the minimum level and output encoding for a logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// New builds a zerolog.Logger with a timestamp, caller info, and a
// "service" field set to "ringbus"; callers add their own context with
// .With().Str(...).
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "ringbus").
		Logger()
}

// RecoverPanic logs a recovered panic without re-raising it. Every
// goroutine ringbus spawns that must not bring down the process defers
// this first.
func RecoverPanic(logger zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutine).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("recovered goroutine panic")
	}
}
