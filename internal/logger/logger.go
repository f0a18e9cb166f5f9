// Package logger provides leveled logging. The package-level functions write
// through the default logger; engine components take the *Logger returned by
// Default so that diagnostics are routed through an injected value.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides leveled logging.
type Logger struct {
	level  Level
	logger *log.Logger
}

var defaultLogger *Logger

// ParseLevel maps a level name to a Level. Unknown names map to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// New creates a Logger writing to w.
func New(w io.Writer, level string, format string) *Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	return &Logger{
		level:  ParseLevel(level),
		logger: log.New(w, "", flags),
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	defaultLogger = New(os.Stderr, level, format)
}

// Default returns the logger configured by Init, or a discarding logger
// when Init has not been called.
func Default() *Logger {
	if defaultLogger == nil {
		return Discard()
	}
	return defaultLogger
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{level: ErrorLevel + 1, logger: log.New(io.Discard, "", 0)}
}

func (l *Logger) output(level Level, tag, format string, args ...interface{}) {
	if l == nil || l.level > level {
		return
	}
	_ = l.logger.Output(3, fmt.Sprintf(tag+format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.output(DebugLevel, "[DEBUG] ", format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.output(InfoLevel, "[INFO] ", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.output(WarnLevel, "[WARN] ", format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.output(ErrorLevel, "[ERROR] ", format, args...)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.output(DebugLevel, "[DEBUG] ", format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.output(InfoLevel, "[INFO] ", format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.output(WarnLevel, "[WARN] ", format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.output(ErrorLevel, "[ERROR] ", format, args...)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	if defaultLogger != nil {
		_ = defaultLogger.logger.Output(2, msg)
	} else {
		log.Print(msg)
	}
	os.Exit(1)
}
