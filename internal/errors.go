package internal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the outcome classes a transfer can fail with
type ErrorType int

const (
	ErrInvalidInput ErrorType = iota
	ErrTransientNetwork
	ErrFatalRemote
	ErrRetriesExhausted
	ErrCancelled
	ErrAuthRequired
	ErrNotFound
	ErrPartialFileInvalid
	ErrResumeIncompatible
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// TransferError is the error type returned by the transfer engine and its collaborators
type TransferError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`

	// Err is the underlying cause, if any
	Err error `json:"-"`
}

// Error implements the error interface
func (e *TransferError) Error() string {
	parts := []string{fmt.Sprintf("transfer error (code: %d, type: %s)", e.Code, e.Type.String())}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, " - ")
}

// Unwrap returns the underlying cause
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a TransferError of the same type.
// This lets callers write errors.Is(err, internal.ErrKind(internal.ErrCancelled)).
func (e *TransferError) Is(target error) bool {
	var t *TransferError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && (t.Code == 0 || t.Code == e.Code)
}

// DetailedError returns a detailed error message with all available information
func (e *TransferError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Err))
	}

	// URLs may carry temp_url_sig or tokens
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidInput:
		return "InvalidInput"
	case ErrTransientNetwork:
		return "TransientNetworkError"
	case ErrFatalRemote:
		return "FatalRemoteError"
	case ErrRetriesExhausted:
		return "RetriesExhausted"
	case ErrCancelled:
		return "Cancelled"
	case ErrAuthRequired:
		return "AuthRequired"
	case ErrNotFound:
		return "NotFound"
	case ErrPartialFileInvalid:
		return "PartialFileInvalid"
	case ErrResumeIncompatible:
		return "ResumeIncompatible"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewTransferError creates a new TransferError with default severity and suggestion
func NewTransferError(code int, message string, errorType ErrorType) *TransferError {
	return &TransferError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType, code),
		Context:    make(map[string]interface{}),
	}
}

// ErrKind returns a bare TransferError usable as an errors.Is target
func ErrKind(errorType ErrorType) *TransferError {
	return &TransferError{Type: errorType}
}

// WithSuggestion adds a custom suggestion to the error
func (e *TransferError) WithSuggestion(suggestion string) *TransferError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *TransferError) WithURL(url string) *TransferError {
	e.URL = url
	return e
}

// WithCause attaches the underlying error
func (e *TransferError) WithCause(err error) *TransferError {
	e.Err = err
	return e
}

// WithContext adds context information to the error
func (e *TransferError) WithContext(key string, value interface{}) *TransferError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the engine may retry after this error
func (e *TransferError) IsRetryable() bool {
	return e.Type == ErrTransientNetwork
}

// IsCritical returns true if the error is critical and should stop execution
func (e *TransferError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// KindOf returns the ErrorType carried by err, or false when err is not a TransferError
func KindOf(err error) (ErrorType, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Type, true
	}
	return 0, false
}

// IsRetryable reports whether err is a TransientNetworkError anywhere in its chain
func IsRetryable(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.IsRetryable()
	}
	return false
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// getDefaultSuggestion returns a default suggestion based on error type and code
func getDefaultSuggestion(errorType ErrorType, code int) string {
	switch errorType {
	case ErrInvalidInput:
		return "Check the object path and the temp URL key"
	case ErrTransientNetwork:
		if code >= 500 {
			return "Server error occurred. The row will be retried on the next run"
		}
		return "Check your internet connection and try again. Consider using a proxy if needed"
	case ErrFatalRemote:
		return "The remote side rejected the request. Inspect the row and the remote account before retrying"
	case ErrRetriesExhausted:
		return "All retry attempts failed. Run migrate again later; acknowledged progress is kept"
	case ErrCancelled:
		return "Run the same command again to resume from the saved progress"
	case ErrAuthRequired:
		return "Run 'vidmigrate auth' or check the storage API key"
	case ErrNotFound:
		return "Verify the object path in the worklist"
	case ErrPartialFileInvalid:
		return "Delete the .part file and restart the download"
	case ErrResumeIncompatible:
		return "Delete the .part and .vidmigrate.json files and restart the transfer"
	default:
		return "Please check the error details and try again"
	}
}

// getDefaultSeverity returns the default severity for an error type
func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrTransientNetwork, ErrCancelled:
		return SeverityWarning
	case ErrAuthRequired:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL drops the query string, which carries signatures and tokens
func redactSensitiveURL(url string) string {
	if strings.Contains(url, "?") {
		parts := strings.SplitN(url, "?", 2)
		return parts[0] + "?[REDACTED]"
	}
	return url
}

// Common error constructors for frequently used errors

// NewInvalidInputError creates an error for malformed caller input
func NewInvalidInputError(field, reason string) *TransferError {
	return NewTransferError(400, fmt.Sprintf("invalid %s: %s", field, reason), ErrInvalidInput).
		WithContext("field", field)
}

// NewTransientError creates a retryable network or server error
func NewTransientError(code int, operation string, cause error) *TransferError {
	return NewTransferError(code, fmt.Sprintf("transient failure during %s", operation), ErrTransientNetwork).
		WithCause(cause)
}

// NewFatalRemoteError creates a non-retryable remote rejection
func NewFatalRemoteError(code int, message string) *TransferError {
	return NewTransferError(code, message, ErrFatalRemote)
}

// NewRetriesExhaustedError wraps the last transient error after the attempt budget is spent
func NewRetriesExhaustedError(operation string, attempts int, last error) *TransferError {
	return NewTransferError(0, fmt.Sprintf("%s gave up after %d attempts", operation, attempts), ErrRetriesExhausted).
		WithCause(last).
		WithContext("attempts", attempts)
}

// NewCancelledError reports a caller-requested stop
func NewCancelledError(operation string, cause error) *TransferError {
	return NewTransferError(0, fmt.Sprintf("%s cancelled", operation), ErrCancelled).
		WithCause(cause)
}

// NewAuthRequiredError creates an error for authentication requirements
func NewAuthRequiredError(message string) *TransferError {
	return NewTransferError(401, message, ErrAuthRequired)
}

// NewNotFoundError creates an error for missing remote objects
func NewNotFoundError(url string) *TransferError {
	return NewTransferError(404, "object not found", ErrNotFound).WithURL(url)
}

// NewPartialFileInvalidError creates an error for invalid partial files
func NewPartialFileInvalidError(path string, reason string) *TransferError {
	return NewTransferError(422, fmt.Sprintf("Partial file invalid: %s", reason), ErrPartialFileInvalid).
		WithContext("partial_file", path)
}

// NewResumeIncompatibleError creates an error for incompatible resume data
func NewResumeIncompatibleError(reason string) *TransferError {
	return NewTransferError(409, fmt.Sprintf("Resume data incompatible: %s", reason), ErrResumeIncompatible)
}
