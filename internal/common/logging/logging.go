package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Configure sets up the standard logrus logger with the given level, e.g., "info" or "debug".
func Configure(level string) error {
	return configure(logrus.StandardLogger(), level, os.Stdout)
}

func configure(logger *logrus.Logger, level string, out io.Writer) error {
	logger.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	logger.SetOutput(out)
	if level == "" {
		return nil
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.WithStack(err)
	}
	logger.SetLevel(parsed)
	return nil
}

// NewComponentLogger returns an entry of the standard logger tagged with the given component.
func NewComponentLogger(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
