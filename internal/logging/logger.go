// logger.go - Structured logging for the wallet service and validators.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger with an optional file sink and a separate
// audit trail for security relevant events.
type Logger struct {
	zerolog.Logger
	file  *os.File
	audit *zerolog.Logger
	afile *os.File
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger writing to the console and, if given, to logFile.
// Audit events go to auditFile only.
func New(level, logFile, auditFile string) (*Logger, error) {
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	l := &Logger{}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		l.file = f
		w = zerolog.MultiLevelWriter(w, f)
	}
	l.Logger = zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()

	if auditFile != "" {
		f, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			l.Close()
			return nil, errors.Wrap(err, "open audit file")
		}
		l.afile = f
		a := zerolog.New(f).With().Timestamp().Str("stream", "audit").Logger()
		l.audit = &a
	}
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Audit records an audit event. Callers never pass secret material.
func (l *Logger) Audit(event string, fields map[string]interface{}) {
	if l.audit == nil {
		return
	}
	l.audit.Info().Fields(fields).Msg(event)
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close closes any files the logger opened.
func (l *Logger) Close() error {
	var first error
	for _, f := range []*os.File{l.file, l.afile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
