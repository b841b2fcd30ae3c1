// Package logging provides watchcore's package-wide structured
// logger: always compiled in, cheap when disabled, and leveled via
// github.com/sirupsen/logrus so that the error classes the engine
// distinguishes (Debug for expected ENOENT-class errors, Warn for
// permission errors, Error for a poisoned root) are actual log levels
// rather than string-matched noise.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// base is the process-wide logger instance. Callers never construct
// their own logrus.Logger; they get a *logrus.Entry scoped to their
// root/component via For.
var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("WATCHCORE_DEBUG") != "" {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// SetLevel overrides the process-wide log level, used by cmd/watchcored
// to wire a --log-level flag through.
func SetLevel(level logrus.Level) { base.SetLevel(level) }

// For returns a logger scoped to a single watched root, with "root"
// already set as a structured field.
func For(root string) *logrus.Entry {
	return base.WithField("root", root)
}

// Component returns a logger scoped to a subsystem name (e.g.
// "ioengine", "subscription") without a root, used by code that runs
// before or across roots (rootcore's global map, config loading).
func Component(name string) *logrus.Entry {
	return base.WithField("component", name)
}
