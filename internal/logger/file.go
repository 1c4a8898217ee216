package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger logs daemon activity to timestamped files under a log
// directory, maintaining a "latest.log" symlink to the current run's file.
// It is safe for concurrent use and supports level filtering.
type FileLogger struct {
	logDir   string
	runFile  string
	file     *os.File
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger writing into logDir, creating the
// directory if necessary and pointing "latest.log" at the new run file.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("prefetchd-%s.log", timestamp))

	f, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			f.Close()
			return nil, fmt.Errorf("remove old latest.log symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		f.Close()
		return nil, fmt.Errorf("create latest.log symlink: %w", err)
	}

	return &FileLogger{
		logDir:   logDir,
		runFile:  runFile,
		file:     f,
		logLevel: normalizeLogLevel(logLevel),
	}, nil
}

// Close closes the underlying log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.file != nil {
		return fl.file.Close()
	}
	return nil
}

func (fl *FileLogger) shouldLog(level string) bool {
	return logLevelToInt(level) >= logLevelToInt(fl.logLevel)
}

func (fl *FileLogger) logWithLevel(level, message string) {
	if !fl.shouldLog(level) {
		return
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return
	}

	ts := time.Now().Format(time.RFC3339)
	fmt.Fprintf(fl.file, "%s [%s] %s\n", ts, level, message)
}

// Tracef logs a trace-level message.
func (fl *FileLogger) Tracef(format string, args ...interface{}) {
	fl.logWithLevel("trace", fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.logWithLevel("debug", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("info", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("warn", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...interface{}) {
	fl.logWithLevel("error", fmt.Sprintf(format, args...))
}
