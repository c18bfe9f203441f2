package logx

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusAdapter adapts a logrus entry to the Logger interface.
type LogrusAdapter struct {
	e *logrus.Entry
}

// NewLogrus builds a JSON logrus logger writing to w at the given level.
// An unknown level falls back to info.
func NewLogrus(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &LogrusAdapter{e: logrus.NewEntry(l)}
}

// NewLogrusAdapter wraps an existing logrus logger.
func NewLogrusAdapter(l *logrus.Logger) Logger {
	return &LogrusAdapter{e: logrus.NewEntry(l)}
}

func (a *LogrusAdapter) Debug(msg string, fields ...Field) { a.e.WithFields(toLogrus(fields)).Debug(msg) }
func (a *LogrusAdapter) Info(msg string, fields ...Field)  { a.e.WithFields(toLogrus(fields)).Info(msg) }
func (a *LogrusAdapter) Warn(msg string, fields ...Field)  { a.e.WithFields(toLogrus(fields)).Warn(msg) }
func (a *LogrusAdapter) Error(msg string, fields ...Field) { a.e.WithFields(toLogrus(fields)).Error(msg) }

// With returns a logger that attaches fields to every entry.
func (a *LogrusAdapter) With(fields ...Field) Logger {
	return &LogrusAdapter{e: a.e.WithFields(toLogrus(fields))}
}

// Sync is a no-op; logrus writes synchronously.
func (a *LogrusAdapter) Sync() error { return nil }

func toLogrus(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}
