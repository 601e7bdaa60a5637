// Package logging wraps zerolog with the call shape the rest of this
// codebase uses (L() and Component(name), then zerolog's
// Info()/Error()...Msg chain), rebuilt as a thin wrapper rather
// than a direct passthrough so every caller shares one process-wide
// logger.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// configure builds the process-wide logger. Human console output unless
// QUANTENGINE_ENV=prod, in which case structured JSON is emitted.
func configure() zerolog.Logger {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("QUANTENGINE_LOG_LEVEL")); err == nil {
		level = lvl
	}

	if os.Getenv("QUANTENGINE_ENV") == "prod" {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// L returns the process-wide logger, lazily initialized exactly once.
func L() *zerolog.Logger {
	once.Do(func() { logger = configure() })
	return &logger
}

// Component returns a child logger tagged with a component name, the
// shape every Error in engineerr also carries.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}

// SetForTest installs a silent logger; call from TestMain in packages that
// log heavily during table-driven tests.
func SetForTest() {
	once.Do(func() {}) // keep a later first L() call from replacing the Nop logger
	logger = zerolog.Nop()
}
