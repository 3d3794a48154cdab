package internal

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// SecureLogger redacts credentials and signatures before handing messages to zerolog
type SecureLogger struct {
	mu        sync.RWMutex
	zl        zerolog.Logger
	level     LogLevel
	debug     bool
	quiet     bool
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// HeaderRedactor masks credential-bearing header values up to the end of the line
type HeaderRedactor struct{}

func (r *HeaderRedactor) Redact(input string) string {
	patterns := []string{
		"Cookie:",
		"Set-Cookie:",
		"Authorization:",
		"X-Auth-Token:",
	}

	result := input
	for _, pattern := range patterns {
		result = redactAfter(result, pattern, "\n\r")
	}
	return result
}

// URLRedactor redacts sensitive URL parameters
type URLRedactor struct{}

func (r *URLRedactor) Redact(input string) string {
	sensitiveParams := []string{
		"temp_url_sig=",
		"access_token=",
		"refresh_token=",
		"token=",
		"key=",
		"secret=",
		"password=",
		"apikey=",
	}

	result := input
	for _, param := range sensitiveParams {
		result = redactAfter(result, param, "& \n;\"")
	}
	return result
}

// redactAfter replaces the value that follows every occurrence of pattern
// (case-insensitive) up to the first of the stop characters
func redactAfter(input, pattern, stops string) string {
	const mask = "[REDACTED]"

	lowerPattern := strings.ToLower(pattern)
	result := input
	from := 0
	for {
		index := strings.Index(strings.ToLower(result[from:]), lowerPattern)
		if index == -1 {
			return result
		}
		start := from + index + len(pattern)
		for start < len(result) && result[start] == ' ' {
			start++
		}
		if strings.HasPrefix(result[start:], mask) {
			from = start + len(mask)
			continue
		}
		end := start
		for end < len(result) && !strings.ContainsRune(stops, rune(result[end])) {
			end++
		}
		if end > start {
			result = result[:start] + mask + result[end:]
			end = start + len(mask)
		}
		from = end
		if from >= len(result) {
			return result
		}
	}
}

// NewSecureLogger creates a logger that writes human readable lines to output
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	console := zerolog.ConsoleWriter{
		Out:        output,
		NoColor:    true,
		TimeFormat: "2006-01-02 15:04:05",
	}
	return newSecureLogger(zerolog.New(console), level, debug, quiet)
}

// NewJSONLogger creates a logger that writes one JSON object per line, used for log files
func NewJSONLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	return newSecureLogger(zerolog.New(output), level, debug, quiet)
}

func newSecureLogger(zl zerolog.Logger, level LogLevel, debug, quiet bool) *SecureLogger {
	sl := &SecureLogger{
		zl:    zl.With().Timestamp().Logger(),
		debug: debug,
		quiet: quiet,
		redactors: []Redactor{
			&HeaderRedactor{},
			&URLRedactor{},
		},
	}
	sl.level = level
	if debug && level < LogLevelDebug {
		sl.level = LogLevelDebug
	}
	if quiet {
		sl.level = LogLevelError
	}
	return sl
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	return NewSecureLogger(os.Stderr, LogLevelInfo, debug, quiet)
}

// redactSensitiveData applies all redactors to the input string
func (sl *SecureLogger) redactSensitiveData(input string) string {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	result := input
	for _, redactor := range sl.redactors {
		result = redactor.Redact(result)
	}
	return result
}

// callerLocation finds the first frame outside the logging files
func callerLocation() string {
	for depth := 3; depth <= 6; depth++ {
		_, file, line, ok := runtime.Caller(depth)
		if ok && !strings.HasSuffix(file, "logger.go") && !strings.HasSuffix(file, "log.go") {
			parts := strings.Split(file, "/")
			return fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}
	return ""
}

// shouldLog determines if a message should be logged based on level
func (sl *SecureLogger) shouldLog(level LogLevel) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if sl.quiet && level > LogLevelError {
		return false
	}
	return level <= sl.level
}

func (sl *SecureLogger) write(level LogLevel, format string, args ...interface{}) {
	if !sl.shouldLog(level) {
		return
	}

	message := sl.redactSensitiveData(fmt.Sprintf(format, args...))

	sl.mu.RLock()
	event := sl.zl.WithLevel(level.zerolog())
	if sl.debug {
		if caller := callerLocation(); caller != "" {
			event = event.Str("caller", caller)
		}
	}
	sl.mu.RUnlock()

	event.Msg(message)
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.write(LogLevelError, format, args...)
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.write(LogLevelWarn, format, args...)
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.write(LogLevelInfo, format, args...)
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.write(LogLevelDebug, format, args...)
}

// LogHTTPRequest logs an HTTP request with sensitive data redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, req.URL.String(), sl.sanitizeHeaders(req.Header))
}

// LogHTTPResponse logs an HTTP response with sensitive data redacted
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response, elapsed time.Duration) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Response: %s in %v Headers: %v", resp.Status, elapsed.Round(time.Millisecond), sl.sanitizeHeaders(resp.Header))
}

func (sl *SecureLogger) sanitizeHeaders(header http.Header) map[string]string {
	sanitized := make(map[string]string, len(header))
	for name, values := range header {
		if sl.isSensitiveHeader(name) {
			sanitized[name] = "[REDACTED]"
		} else {
			sanitized[name] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

// isSensitiveHeader checks if a header contains sensitive information
func (sl *SecureLogger) isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"set-cookie",
		"x-auth-token",
		"x-api-key",
		"x-goog-upload-url",
		"location",
		"token",
	}

	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// SetLevel sets the logging level
func (sl *SecureLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// SetDebug enables or disables debug mode
func (sl *SecureLogger) SetDebug(debug bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.debug = debug
	if debug && sl.level < LogLevelDebug {
		sl.level = LogLevelDebug
	}
}

// SetQuiet enables or disables quiet mode
func (sl *SecureLogger) SetQuiet(quiet bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.quiet = quiet
	if quiet {
		sl.level = LogLevelError
	}
}

// AddRedactor adds a custom redactor
func (sl *SecureLogger) AddRedactor(redactor Redactor) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.redactors = append(sl.redactors, redactor)
}
