// Package logger configures the process-wide logrus logger used by the relay
// and its commands.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels accepted by Init and New.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// Output formats accepted by Init and New.
const (
	TextFormat = "text"
	JSONFormat = "json"
)

// New builds a logger writing to out with the given level and format.
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(formatter(format))
	return l, nil
}

// FileOptions describes a size-rotated log file. An empty Path means stdout
// only.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Output returns the writer for opts: stdout, plus the rotated file when a
// path is set.
func Output(opts FileOptions) io.Writer {
	if opts.Path == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	})
}

// Init configures the standard logrus logger. Unknown levels fall back to info.
func Init(level, format string, file FileOptions) {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetOutput(Output(file))
	logrus.SetLevel(lvl)
	logrus.SetFormatter(formatter(format))
}

// Get returns the standard logger.
func Get() *logrus.Logger {
	return logrus.StandardLogger()
}

// Component returns an entry tagged with the component name.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	if l == nil {
		l = Get()
	}
	return l.WithField("component", name)
}

// ParseLevel maps debug|info|warn|error to a logrus level.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case DebugLevel:
		return logrus.DebugLevel, nil
	case "", InfoLevel:
		return logrus.InfoLevel, nil
	case WarnLevel, "warning":
		return logrus.WarnLevel, nil
	case ErrorLevel:
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, JSONFormat) {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}
