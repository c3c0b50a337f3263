// Package logging wraps logrus behind app.Logger.
package logging

import (
	log "github.com/sirupsen/logrus"

	"moshtun/app"
)

// LogrusLogger adapts the package-level logrus logger to app.Logger.
type LogrusLogger struct{}

// NewLogrusLogger returns an app.Logger backed by logrus.
func NewLogrusLogger() app.Logger {
	return LogrusLogger{}
}

func (LogrusLogger) Printf(format string, v ...any) {
	log.Infof(format, v...)
}
