// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import "github.com/sirupsen/logrus"

// Logger is the narrow structured-logging surface the server core depends
// on, so it never imports logrus directly — the same indirection
// nabbar-golib/logger/logger.go uses to keep its callers decoupled from the
// concrete backend.
type Logger interface {
	WithFields(fields map[string]any) Logger
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)
}

// NewLogrusLogger adapts a *logrus.Logger (nil means logrus.StandardLogger)
// to the Logger interface.
func NewLogrusLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return logrusLogger{entry: logrus.NewEntry(l)}
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l logrusLogger) WithFields(fields map[string]any) Logger {
	return logrusLogger{entry: l.entry.WithFields(fields)}
}

func (l logrusLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l logrusLogger) Info(msg string)  { l.entry.Info(msg) }
func (l logrusLogger) Warn(msg string)  { l.entry.Warn(msg) }
func (l logrusLogger) Error(msg string, err error) {
	if err != nil {
		l.entry.WithError(err).Error(msg)
		return
	}
	l.entry.Error(msg)
}

// nopLogger discards everything; used when Config.Logger is nil.
type nopLogger struct{}

func (nopLogger) WithFields(map[string]any) Logger { return nopLogger{} }
func (nopLogger) Debug(string)                     {}
func (nopLogger) Info(string)                      {}
func (nopLogger) Warn(string)                      {}
func (nopLogger) Error(string, error)               {}
