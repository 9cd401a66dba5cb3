// Package logging provides categorized file-based logging for archagent.
// Each category writes to its own file under the configured logs directory.
// Logging is a no-op unless debug mode is enabled, so production runs leave
// no log files behind.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and validation
	CategoryServer   Category = "server"   // HTTP front end
	CategoryAgent    Category = "agent"    // Agent query processing
	CategoryMCP      Category = "mcp"      // MCP transports and tool calls
	CategoryDiagrams Category = "diagrams" // Diagram scanning and retention
	CategoryConfig   Category = "config"   // Configuration loading
	CategoryStore    Category = "store"    // Query history persistence
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options configures the logging system. Values come from the loaded
// application config; this package never reads config files itself.
type Options struct {
	Dir     string // Logs directory
	Enabled bool   // Debug mode; when false all loggers are silent
	Level   string // debug, info, warn, error
}

// Logger writes leveled messages for one category.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	mu      sync.RWMutex
	loggers = make(map[Category]*Logger)
	opts    Options
	level   int
)

// Initialize sets up the logging directory. Call once at startup.
func Initialize(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	switch o.Level {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}

	if !o.Enabled {
		return nil
	}
	if o.Dir == "" {
		return fmt.Errorf("logs directory required")
	}
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// Shutdown closes all open log files.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l = &Logger{category: category}
	if opts.Enabled {
		path := filepath.Join(opts.Dir, string(category)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		} else {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
	loggers[category] = l
	return l
}

func (l *Logger) write(lvl int, tag, format string, args ...interface{}) {
	mu.RLock()
	enabled := opts.Enabled
	min := level
	mu.RUnlock()

	if !enabled || l.logger == nil || lvl < min {
		return
	}
	l.logger.Printf("[%s] %s", tag, fmt.Sprintf(format, args...))
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// Boot is shorthand for Get(CategoryBoot).Info.
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}
