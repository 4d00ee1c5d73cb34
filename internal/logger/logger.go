// Package logger provides a leveled process-wide logger with optional rotating file output.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	CRITICAL
)

var levelNames = map[LogLevel]string{
	DEBUG:    "DEBUG",
	INFO:     "INFO",
	WARNING:  "WARNING",
	ERROR:    "ERROR",
	CRITICAL: "CRITICAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

type Logger struct {
	level LogLevel
	out   *log.Logger
	file  *lumberjack.Logger
	mu    sync.RWMutex
}

var (
	instance *Logger
	once     sync.Once
)

// GetInstance returns the process-wide logger. Until Initialize is called it writes
// INFO and above to stderr.
func GetInstance() *Logger {
	once.Do(func() {
		instance = New(os.Stderr, INFO)
	})
	return instance
}

// New creates a standalone logger writing to w.
func New(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		level: level,
		out:   log.New(w, "", log.LstdFlags),
	}
}

// Initialize sets the level and, when logDir is non-empty, tees output into a
// rotating app.log inside logDir.
func (l *Logger) Initialize(logDir string, level LogLevel) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = level
	if logDir == "" {
		l.out = log.New(os.Stdout, "", log.LstdFlags)
		return nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	l.file = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "app.log"),
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	l.out = log.New(io.MultiWriter(os.Stdout, l.file), "", log.LstdFlags)
	return nil
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) log(level LogLevel, msg string) {
	l.mu.RLock()
	currentLevel := l.level
	out := l.out
	l.mu.RUnlock()

	if level < currentLevel {
		return
	}

	out.Printf("[%s] %s", level, msg)
}

func (l *Logger) Debug(msg string)    { l.log(DEBUG, msg) }
func (l *Logger) Info(msg string)     { l.log(INFO, msg) }
func (l *Logger) Warn(msg string)     { l.log(WARNING, msg) }
func (l *Logger) Error(msg string)    { l.log(ERROR, msg) }
func (l *Logger) Critical(msg string) { l.log(CRITICAL, msg) }

func (l *Logger) Debugf(format string, args ...any) {
	l.log(DEBUG, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(WARNING, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(ERROR, fmt.Sprintf(format, args...))
}
