// Package logger provides the FileLogger used by packiod (the example
// daemon in internal/daemon): a small leveled Logger interface backed by a
// rotated log file and a bounded in-memory ring, so the daemon's "logs"
// procedure can return recent history without re-reading the file. It
// satisfies rpcsession.Logger directly.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel orders log severities from most to least important.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelInfo
	LevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// LogEntry is a single line retained in the in-memory ring.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// Logger is the leveled logging contract used by packiod; its
// Error/Info/Debug subset is rpcsession.Logger.
type Logger interface {
	Error(format string, args ...any)
	Info(format string, args ...any)
	Debug(format string, args ...any)
	GetLogs(minLevel LogLevel) string
}

// FileLogger writes every entry at or below fileLevel to a log file and
// keeps the last maxMemory entries of any level in memory for GetLogs.
type FileLogger struct {
	file      *os.File
	fileLevel LogLevel
	mu        sync.Mutex
	filePath  string

	memoryLogs []LogEntry
	maxMemory  int
}

// NewFileLogger opens (creating and rotating as needed) the log file at
// logPath, writing entries at or below fileLevel to it.
func NewFileLogger(logPath string, fileLevel LogLevel) (*FileLogger, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	const maxSize = 1024 * 1024
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxSize {
		os.Remove(logPath)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &FileLogger{
		file:       file,
		fileLevel:  fileLevel,
		filePath:   logPath,
		memoryLogs: make([]LogEntry, 0, 10000),
		maxMemory:  10000,
	}, nil
}

func (l *FileLogger) log(level LogLevel, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{Timestamp: time.Now(), Level: level, Message: fmt.Sprintf(format, args...)}

	if len(l.memoryLogs) >= l.maxMemory {
		l.memoryLogs = l.memoryLogs[1:]
	}
	l.memoryLogs = append(l.memoryLogs, entry)

	if level <= l.fileLevel {
		formatted := fmt.Sprintf("[%s] [%s] %s\n", entry.Timestamp.Format("2006-01-02 15:04:05.000"), level, entry.Message)
		l.file.WriteString(formatted)
	}
}

func (l *FileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *FileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Close closes the underlying log file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// GetLogs returns every in-memory entry at or below minLevel, oldest first.
func (l *FileLogger) GetLogs(minLevel LogLevel) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lines []string
	for _, entry := range l.memoryLogs {
		if entry.Level <= minLevel {
			lines = append(lines, fmt.Sprintf("[%s] [%s] %s", entry.Timestamp.Format("2006-01-02 15:04:05.000"), entry.Level, entry.Message))
		}
	}
	return strings.Join(lines, "\n")
}

// NullLogger discards everything. Useful for tests that don't want log
// file side effects.
type NullLogger struct{}

func (NullLogger) Error(string, ...any)         {}
func (NullLogger) Info(string, ...any)          {}
func (NullLogger) Debug(string, ...any)         {}
func (NullLogger) GetLogs(LogLevel) string      { return "" }
