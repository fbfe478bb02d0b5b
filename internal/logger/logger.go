package logger

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// EnvLevel names the variable that overrides the log level.
const EnvLevel = "SNAPMIR_LOG"

// Init installs the default logger. Warnings and errors are shown unless
// debug is set or SNAPMIR_LOG asks for another level.
func Init(debug, noColor bool) {
	InitWriter(os.Stderr, debug, noColor)
}

// InitWriter is Init with a custom destination.
func InitWriter(w io.Writer, debug, noColor bool) {
	log.SetDefault(log.NewWithOptions(w,
		log.Options{
			ReportCaller:    true,
			ReportTimestamp: false,
			TimeFormat:      time.RFC3339,
			Prefix:          "SNAPMIR",
		}))

	level := log.WarnLevel
	if debug {
		level = log.DebugLevel
	}
	if env := os.Getenv(EnvLevel); env != "" {
		if l, err := log.ParseLevel(env); err == nil {
			level = l
		} else {
			log.Warn("ignoring invalid log level", "env", EnvLevel, "value", env)
		}
	}
	log.SetLevel(level)

	log.SetColorProfile(termenv.ANSI256)
	if noColor {
		log.SetColorProfile(termenv.Ascii)
	}
}
