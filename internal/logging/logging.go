// Package logging wraps zerolog construction so every subsystem gets a
// consistently configured, constructor-injected logger instead of a
// package-global.
package logging

import (
	"io"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Options configures logger construction.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "console" or "json"
}

// New builds a zerolog.Logger per opts, defaulting to info/console.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var writer io.Writer = os.Stdout
	if opts.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// LogError logs err at error level with a named context field.
func LogError(log zerolog.Logger, context string, err error) {
	log.Error().Str("context", context).Err(err).Msg("error")
}

// LogErrorWithStack is LogError plus a captured stack trace, for errors
// severe enough that the call site alone won't explain them.
func LogErrorWithStack(log zerolog.Logger, context string, err error) {
	log.Error().
		Str("context", context).
		Err(err).
		Str("stack", string(debug.Stack())).
		Msg("error with stack")
}

// LogPanic recovers r (the value returned by recover()) and logs it at
// panic-equivalent severity, including a stack trace. It does not
// re-panic: callers decide whether to continue or exit.
func LogPanic(log zerolog.Logger, context string, r any) {
	log.Error().
		Str("context", context).
		Interface("panic", r).
		Str("stack", string(debug.Stack())).
		Msg("recovered panic")
}
