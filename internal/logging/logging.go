// Package logging configures the engine's single structured logger. zerolog
// is the teacher's actual logging dependency in real business-logic code
// (factory.go, the OpenAI/HTTP node executors), unlike the teacher's other
// two logging packages (slog-based internal/infrastructure/logger, and
// plain log.Printf in internal/infrastructure/monitoring) which this module
// does not carry forward — see DESIGN.md.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Setup builds a zerolog.Logger writing to stderr at level, console-pretty
// when level is "debug" (matching the teacher's dev-vs-prod log shape).
func Setup(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer = os.Stderr
	if lvl == zerolog.DebugLevel {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer}).With().Timestamp().Logger()
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}
