package internal

import (
	"os"
	"strings"
	"sync"
)

var (
	// Global logger instance
	globalLogger *SecureLogger
	loggerMutex  sync.RWMutex
)

// InitLogger initializes the global logger with the given configuration
func InitLogger(config *LogConfig) error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	level := ParseLogLevel(config.Level)

	if config.File == "" {
		globalLogger = NewSecureLogger(os.Stderr, level, config.Debug, config.Quiet)
		return nil
	}

	file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return NewValidationError("log_file", "failed to open log file").
			WithSuggestion("Check file permissions and path validity").
			WithContext("file", config.File).
			WithContext("error", err.Error())
	}

	globalLogger = NewJSONLogger(file, level, config.Debug, config.Quiet)
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *SecureLogger {
	loggerMutex.RLock()
	logger := globalLogger
	loggerMutex.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = NewDefaultLogger(false, false)
	}
	return globalLogger
}

// SetLogger replaces the global logger, mainly for tests
func SetLogger(logger *SecureLogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// ParseLogLevel converts string log level to LogLevel enum
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error", "fatal", "panic":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Convenience functions for global logging

// LogError logs an error message using the global logger
func LogError(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// LogWarn logs a warning message using the global logger
func LogWarn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// LogInfo logs an info message using the global logger
func LogInfo(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// LogDebug logs a debug message using the global logger
func LogDebug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// LogTransferError logs a TransferError with appropriate level and detail
func LogTransferError(err *TransferError) {
	logger := GetLogger()

	switch err.Severity {
	case SeverityCritical:
		logger.Error("CRITICAL: %s", err.DetailedError())
	case SeverityWarning:
		logger.Warn("%s", err.DetailedError())
	case SeverityInfo:
		logger.Info("%s", err.DetailedError())
	default:
		logger.Error("%s", err.DetailedError())
	}
}

// LogValidationError logs a ValidationError
func LogValidationError(err *ValidationError) {
	GetLogger().Error("Validation Error: %s", err.DetailedError())
}
