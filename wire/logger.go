package wire

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger interface for protocol logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// FileLogger writes logs to a file
type FileLogger struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileLogger creates a logger that writes to a file
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: file}, nil
}

func (l *FileLogger) log(level, format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s: %s\n", timestamp, level, msg)
}

func (l *FileLogger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *FileLogger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *FileLogger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *FileLogger) Close() error {
	if l != nil && l.file != nil {
		return l.file.Close()
	}
	return nil
}

// NoopLogger does nothing
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// LoggingTransport wraps a Transport and logs traffic through it.
// Useful when debugging a flaky link: every read and write is visible
// with its size and a truncated hex preview.
type LoggingTransport struct {
	inner  Transport
	logger Logger
	name   string
}

func NewLoggingTransport(inner Transport, logger Logger, name string) *LoggingTransport {
	return &LoggingTransport{inner: inner, logger: logger, name: name}
}

func (lt *LoggingTransport) Read(p []byte, timeout time.Duration) (int, error) {
	n, err := lt.inner.Read(p, timeout)
	if lt.logger != nil && n > 0 {
		lt.logger.Debug("%s: read %d bytes: % x", lt.name, n, preview(p[:n]))
	}
	if err != nil && lt.logger != nil {
		lt.logger.Error("%s: read error: %v", lt.name, err)
	}
	return n, err
}

func (lt *LoggingTransport) Write(p []byte) (int, error) {
	n, err := lt.inner.Write(p)
	if lt.logger != nil && n > 0 {
		lt.logger.Debug("%s: wrote %d bytes: % x", lt.name, n, preview(p[:n]))
	}
	if err != nil && lt.logger != nil {
		lt.logger.Error("%s: write error: %v", lt.name, err)
	}
	return n, err
}

func (lt *LoggingTransport) Flush() error { return lt.inner.Flush() }

func (lt *LoggingTransport) Available() int { return lt.inner.Available() }

func (lt *LoggingTransport) Close() error { return lt.inner.Close() }

func preview(p []byte) []byte {
	const max = 48
	if len(p) > max {
		return p[:max]
	}
	return p
}
