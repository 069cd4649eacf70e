package errors

import (
	"context"
	"errors"
	"fmt"
)

// KBError is the structured error type for assistkb.
// It carries the context needed for error handling, logging and user presentation.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_405_QUERY_TOO_LONG").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is matches another *KBError by code so errors.Is works against sentinels.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// New creates a new KBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError from an existing error.
// The error's message becomes the KBError message.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an error for malformed, oversized or disallowed input.
// Validation errors never mutate state and are always recoverable.
func ValidationError(code, message string) *KBError {
	if code == "" {
		code = ErrCodeInvalidInput
	}
	return New(code, message, nil)
}

// ExtractionError creates an error for an unreadable or corrupt document.
// The document is left at its prior indexed state.
func ExtractionError(message string, cause error) *KBError {
	return New(ErrCodeExtractionFailed, message, cause)
}

// EmbeddingError creates an error for an unavailable or timed out provider.
// The affected chunk degrades to keyword-only indexing.
func EmbeddingError(message string, cause error) *KBError {
	code := ErrCodeEmbeddingUnavailable
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrCodeEmbeddingTimeout
	}
	return New(code, message, cause)
}

// StorageError creates a persistence failure. Fatal for the in-flight operation.
func StorageError(message string, cause error) *KBError {
	return New(ErrCodeStorageFailed, message, cause)
}

// AuthError creates an error for a wrong secret. Callers should prompt for
// re-authentication rather than treat the store as corrupt.
func AuthError(message string, cause error) *KBError {
	return New(ErrCodeAuthFailed, message, cause).
		WithSuggestion("Check the master secret (ASSISTKB_SECRET_MASTER) and retry")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the outermost KBError in err's chain.
func As(err error) (*KBError, bool) {
	var ke *KBError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable KBError.
func IsRetryable(err error) bool {
	ke, ok := As(err)
	return ok && ke.Retryable
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	ke, ok := As(err)
	return ok && ke.Severity == SeverityFatal
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	return GetCategory(err) == CategoryAuth
}

// IsExtraction reports whether err is an ExtractionError.
func IsExtraction(err error) bool {
	return extractionCodes[GetCode(err)]
}

// IsEmbedding reports whether err is an EmbeddingError.
func IsEmbedding(err error) bool {
	return embeddingCodes[GetCode(err)]
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	return storageCodes[GetCode(err)]
}

// GetCode extracts the error code from a KBError.
// Returns empty string if err carries none.
func GetCode(err error) string {
	if ke, ok := As(err); ok {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category from a KBError.
func GetCategory(err error) Category {
	if ke, ok := As(err); ok {
		return ke.Category
	}
	return ""
}
