package pkg

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger shared by the run and its components
type Logger struct {
	logger *log.Logger
}

var (
	// Default logger instance
	defaultLogger *Logger
)

func init() {
	defaultLogger = NewLogger(log.InfoLevel)
}

// NewLogger creates a new logger with the specified level
func NewLogger(level log.Level) *Logger {
	logger := log.New()
	logger.SetLevel(level)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Logger{
		logger: logger,
	}
}

// SetLogLevelFromString sets the log level for the default logger
func SetLogLevelFromString(levelStr string) error {
	var level log.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = log.DebugLevel
	case "info":
		level = log.InfoLevel
	case "warn", "warning":
		level = log.WarnLevel
	case "error":
		level = log.ErrorLevel
	default:
		return fmt.Errorf("invalid log level: %s", levelStr)
	}
	defaultLogger.logger.SetLevel(level)
	return nil
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	defaultLogger.logger.Debugf(format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	defaultLogger.logger.Infof(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	defaultLogger.logger.Warnf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	defaultLogger.logger.Errorf(format, args...)
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return defaultLogger.logger.GetLevel() >= log.DebugLevel
}

// SetOutput sets the output for the default logger
func SetOutput(output io.Writer) {
	defaultLogger.logger.SetOutput(output)
}

// Component returns an entry tagged with the component name. It is what
// the reconciler, observer and friends receive as their logger.
func Component(name string) *log.Entry {
	return defaultLogger.logger.WithField("component", name)
}

// WithField adds a field to the logger
func WithField(key string, value interface{}) *log.Entry {
	return defaultLogger.logger.WithField(key, value)
}

// WithFields adds multiple fields to the logger
func WithFields(fields log.Fields) *log.Entry {
	return defaultLogger.logger.WithFields(fields)
}

// WithError adds an error field to the logger
func WithError(err error) *log.Entry {
	return defaultLogger.logger.WithError(err)
}
