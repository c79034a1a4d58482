// Package logging builds a configured, explicitly-injected logger. The
// analyzer never reaches for a package-level global logger.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger writing to w with the given level and
// format ("text" or "json"). Supported levels: debug, info, warn, error.
func New(level, format string, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(parseLevel(level))

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// Nop returns a logger that discards all output, for tests and library
// callers that don't want analyzer diagnostics.
func Nop() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
