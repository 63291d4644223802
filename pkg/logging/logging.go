package logging

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var (
	logger *slog.Logger

	programLevel = new(slog.LevelVar) // Info by default

	loggingDebug = flag.Bool("logging.debug", false, "Enable debug logging")
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))
}

// Logger wraps a slog.Logger with printf style helpers.
type Logger struct {
	l *slog.Logger
}

// NewDefaultLogger returns a Logger writing to stderr at the program level.
// The -logging.debug flag is honoured once flags have been parsed.
func NewDefaultLogger() Logger {
	if *loggingDebug {
		programLevel.Set(slog.LevelDebug)
	}
	return Logger{l: logger}
}

// NewLogger returns a Logger writing text records to w.
func NewLogger(w io.Writer, level slog.Level) Logger {
	return Logger{l: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// Discard returns a Logger that drops every record.
func Discard() Logger {
	return NewLogger(io.Discard, slog.LevelError+1)
}

func (lg Logger) base() *slog.Logger {
	if lg.l == nil {
		return logger
	}
	return lg.l
}

// With returns a Logger that adds the key/value pairs to every record.
func (lg Logger) With(args ...any) Logger {
	return Logger{l: lg.base().With(args...)}
}

func (lg Logger) Info(a ...any) {
	lg.base().Info(fmt.Sprint(a...))
}

func (lg Logger) Infof(format string, v ...any) {
	lg.base().Info(fmt.Sprintf(format, v...))
}

func (lg Logger) Warnf(format string, v ...any) {
	lg.base().Warn(fmt.Sprintf(format, v...))
}

func (lg Logger) Errorf(format string, v ...any) {
	lg.base().Error(fmt.Sprintf(format, v...))
}

func (lg Logger) Debugf(format string, v ...any) {
	lg.base().Debug(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level and exits the process.
func (lg Logger) Fatalf(format string, v ...any) {
	lg.base().Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}
