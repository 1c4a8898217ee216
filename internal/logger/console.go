package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger logs daemon activity to a writer with timestamps and
// thread safety. Output is prefixed with "[HH:MM:SS] [LEVEL]" and color is
// enabled automatically when writing to a TTY.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger writing to w at the given level.
// If w is nil, messages are silently discarded. logLevel defaults to "info"
// when empty or invalid.
func NewConsoleLogger(w io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      w,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(w),
	}
}

// isTerminal reports whether w is a TTY-backed os.Stdout/os.Stderr.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if w == os.Stdout {
		return isatty.IsTerminal(os.Stdout.Fd())
	}
	if w == os.Stderr {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	return false
}

func (cl *ConsoleLogger) shouldLog(level string) bool {
	return logLevelToInt(level) >= logLevelToInt(cl.logLevel)
}

func levelColor(level string) *color.Color {
	switch level {
	case "trace", "debug":
		return color.New(color.FgHiBlack)
	case "warn":
		return color.New(color.FgYellow)
	case "error":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.writer == nil {
		return
	}

	ts := time.Now().Format("15:04:05")
	tag := fmt.Sprintf("[%s]", strings.ToUpper(level))
	if cl.colorOutput {
		tag = levelColor(level).Sprint(tag)
	}
	fmt.Fprintf(cl.writer, "[%s] %s %s\n", ts, tag, message)
}

// Tracef logs a trace-level message.
func (cl *ConsoleLogger) Tracef(format string, args ...interface{}) {
	cl.logWithLevel("trace", fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("debug", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("info", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("warn", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("error", fmt.Sprintf(format, args...))
}
