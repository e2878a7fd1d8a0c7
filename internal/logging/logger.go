package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger. Development gets a human-readable console writer,
// every other environment gets JSON lines on stdout.
func New(level, environment string) zerolog.Logger {
	return NewWithWriter(level, environment, os.Stdout)
}

// NewWithWriter is New writing to out.
func NewWithWriter(level, environment string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	w := out
	if environment == "development" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "invoice-recon").
		Logger()
}
