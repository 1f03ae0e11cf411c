// Package logging builds the service logger. There is no package-level
// global: the root logger is constructed once in main and handed down,
// and request-scoped children (request id, tenant) travel through
// context via zerolog's own WithContext/Ctx plumbing — see the HTTP
// transport's Observe middleware.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Service string
	Env     string
	Level   string // zerolog level name; unknown values fall back to info
	Format  string // "json" or "console"
}

// New builds the root logger. A bad level falls back to info rather than
// failing startup: losing debug output is recoverable, a crashed booking
// service is not.
func New(w io.Writer, opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	if opts.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).With().Timestamp()
	if opts.Service != "" {
		logger = logger.Str("service", opts.Service)
	}
	if opts.Env != "" {
		logger = logger.Str("env", opts.Env)
	}
	return logger.Logger().Level(level)
}
