package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel converts a level name into a Level
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level: %s", name)
}

var componentColors = map[string]color.Attribute{
	"relay":   color.FgHiGreen,
	"ledger":  color.FgHiBlue,
	"replay":  color.FgMagenta,
	"server":  color.FgYellow,
	"breaker": color.FgCyan,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})

	// Named returns a logger that prefixes every message with the component name.
	Named(component string) Logger
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{}) {}
func (l *EmptyLogger) Named(_ string) Logger             { return l }

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	component      string
	mu             *sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		mu:             &sync.Mutex{},
	}
}

// Named shares the output lock with its parent so lines from different components never interleave.
func (l *StdLogger) Named(component string) Logger {
	return &StdLogger{
		enableColoring: l.enableColoring,
		level:          l.level,
		component:      component,
		mu:             l.mu,
	}
}

// formatMessage formats the log message with the appropriate log level, component prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, format string) string {
	prefix := ""
	if l.component != "" {
		prefix = fmt.Sprintf("%-10s", "["+strings.ToUpper(l.component)+"]")
		if l.enableColoring {
			attr, ok := componentColors[l.component]
			if !ok {
				attr = color.FgWhite
			}
			prefix = color.New(attr).Sprint(prefix)
		}
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
		if l.enableColoring {
			levelStr = color.New(color.FgRed).Sprint(levelStr)
		}
	}

	return levelStr + prefix + format
}

func (l *StdLogger) logf(level Level, format string, args ...interface{}) {
	if l.level > level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	log.Printf(l.formatMessage(level, format), args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, format, args...)
}
