// Package logutil configures logrus for the daemon process and for tests,
// adapted from the teacher's CLI logging initializer down to the two
// purposes this daemon actually has: interactive/headless daemon output and
// deterministic test output.
package logutil

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// Purpose selects the formatter InitLogger configures; the level is passed
// separately.
type Purpose int

const (
	// ForDaemon formats human-readable text to stderr, used when kerminald
	// runs attached to a terminal or under a process supervisor that
	// captures stderr as text.
	ForDaemon Purpose = iota
	// ForHeadless formats structured JSON to stderr, used when kerminald
	// runs under a log collector that parses JSON lines.
	ForHeadless
)

// InitLogger configures the standard logger for purpose at level.
func InitLogger(purpose Purpose, level logrus.Level) {
	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	switch purpose {
	case ForHeadless:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// NewLoggerForTests returns a logger that is silent unless `go test -v` was
// passed, mirroring the teacher's NewLoggerForTests.
func NewLoggerForTests() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	if testing.Verbose() {
		logger.SetOutput(os.Stderr)
		return logger
	}
	logger.SetOutput(io.Discard)
	return logger
}
