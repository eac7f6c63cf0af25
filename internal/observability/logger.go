package observability

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	base *logrus.Logger
}

func NewLogger() *Logger {
	return NewLoggerWithOutput(os.Stdout, "info")
}

func NewLoggerWithOutput(output io.Writer, level string) *Logger {
	base := logrus.New()
	base.SetOutput(output)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	return &Logger{base: base}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.entry(fields).Debug(message)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.entry(fields).Info(message)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.entry(fields).Warn(message)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.entry(fields).Error(message)
}

func (l *Logger) entry(fields map[string]any) *logrus.Entry {
	return l.base.WithFields(logrus.Fields(fields))
}

// Discard returns a logger that drops everything. Used by tests and by components
// constructed without a logger.
func Discard() *Logger {
	return NewLoggerWithOutput(io.Discard, "panic")
}
