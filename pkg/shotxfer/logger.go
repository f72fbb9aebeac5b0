package shotxfer

import (
	"avaneesh/shotxfer/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages, including per-fragment traffic
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel replaces the process default logger with one at level.
// Managers created afterwards with NewManager pick it up.
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// ParseLogLevel parses a level name such as "debug" or "warn"
func ParseLogLevel(name string) (LogLevel, error) {
	lvl, err := logger.ParseLevel(name)
	return LogLevel(lvl), err
}

// Logger is the printf-style logger accepted by managers
type Logger = logger.Logger

// NewLogger returns a logrus-backed logger for the named component
func NewLogger(component string, level LogLevel) Logger {
	return logger.NewComponentLogger(logger.NewDefaultLogger(logger.Level(level)), component)
}
