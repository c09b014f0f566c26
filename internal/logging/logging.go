// Package logging configures zerolog for the CLI and server.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mossgov/internal/config"
)

// Setup builds a logger from cfg, writing to w (stderr when nil), and installs it
// as the global zerolog logger.
func Setup(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := w
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "mossgov").Logger()
	log.Logger = logger
	return logger
}
