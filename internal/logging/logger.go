package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide logger. Production environments get
// JSON output for log shipping; everything else gets the readable text
// formatter with timestamps.
func NewLogger(level, environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(ParseLevel(level))

	if strings.ToLower(environment) == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

// ParseLevel converts a string level to a logrus.Level, defaulting to info.
func ParseLevel(level string) logrus.Level {
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
