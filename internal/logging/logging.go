// Package logging configures the process-wide zerolog logger, the
// structured-logging replacement for original_source's oc_error/oc_warn
// macros (see original_source/_INDEX.md's openclaw.h usages).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs a console-writer logger at Info level, or Debug when
// verbose is set, matching the --verbose flag in config.Config.
func Init(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(writer).With().Timestamp().Caller().Logger()
}
