// Package logger constructs the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger with the given level ("trace".."fatal"),
// format ("console" or "json"), and optional sampling for chatty paths.
// An unknown level falls back to info.
func New(level, format string, sampled bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer io.Writer = os.Stdout
	if format != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log := zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if sampled {
		log = log.Sample(&zerolog.BasicSampler{N: 5})
	}
	return log
}
