package fs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// SetLogLevel adjusts the verbosity of the process-wide logger.
func SetLogLevel(level logrus.Level) {
	logger.SetLevel(level)
}

// Logger returns the underlying logger so the daemon front-end can
// attach hooks or change the formatter.
func Logger() *logrus.Logger {
	return logger
}

func entry(o interface{}) *logrus.Entry {
	if o == nil {
		return logrus.NewEntry(logger)
	}
	return logger.WithField("object", fmt.Sprintf("%v", o))
}

// Debugf writes debug level output for the object passed in.
func Debugf(o interface{}, format string, args ...interface{}) {
	entry(o).Debugf(format, args...)
}

// Infof writes info level output for the object passed in.
func Infof(o interface{}, format string, args ...interface{}) {
	entry(o).Infof(format, args...)
}

// Logf writes notice level output for the object passed in. logrus has
// no notice level, so it is logged at warning level.
func Logf(o interface{}, format string, args ...interface{}) {
	entry(o).Warnf(format, args...)
}

// Errorf writes error level output for the object passed in.
func Errorf(o interface{}, format string, args ...interface{}) {
	entry(o).Errorf(format, args...)
}
