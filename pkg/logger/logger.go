// Package logger provides the application's structured logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string // zerolog level name; unknown values fall back to info
	Pretty bool   // Human-readable console output instead of JSON
}

// New creates the application logger. The level is set on the returned
// logger rather than globally, so tests and sub-components can hold loggers
// at different levels.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// SetGlobalLogger routes zerolog's package-level logger through l.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
