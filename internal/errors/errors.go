package errors

import (
	"errors"
	"fmt"
)

// DocuError is the structured error type for DocuChat.
// It provides rich context for error handling, logging, and API responses.
type DocuError struct {
	// Code is the unique error code (e.g., "ERR_401_STORE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Persistence, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *DocuError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocuError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with DocuError.
func (e *DocuError) Is(target error) bool {
	if t, ok := target.(*DocuError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DocuError) WithDetail(key, value string) *DocuError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new DocuError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocuError {
	return &DocuError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new DocuError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *DocuError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a DocuError from an existing error.
// The error's message becomes the DocuError message.
func Wrap(code string, err error) *DocuError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// StoreNotFound reports a query against a non-existent vector store.
func StoreNotFound(scope, owner, name string) *DocuError {
	e := Newf(ErrCodeStoreNotFound, "vector store %q not found", name)
	e.WithDetail("scope", scope).WithDetail("name", name)
	if owner != "" {
		e.WithDetail("owner", owner)
	}
	return e
}

// SessionNotFound reports a mutation on a missing chat session.
func SessionNotFound(userID, storeName, chatID string) *DocuError {
	return Newf(ErrCodeSessionNotFound, "chat session %q not found", chatID).
		WithDetail("user", userID).
		WithDetail("store", storeName)
}

// IngestionFailed reports a document that could not be ingested.
// chunkIndex is the offending chunk, or -1 if the failure is not chunk-specific.
func IngestionFailed(document string, chunkIndex int, cause error) *DocuError {
	e := New(ErrCodeIngestionFailed, fmt.Sprintf("failed to ingest document %q", document), cause)
	e.WithDetail("document", document)
	if chunkIndex >= 0 {
		e.WithDetail("chunk_index", fmt.Sprintf("%d", chunkIndex))
	}
	return e
}

// PersistenceFailed reports a disk write/replace error. The caller sees the
// store's prior state unchanged.
func PersistenceFailed(message string, cause error) *DocuError {
	return New(ErrCodePersistenceFailed, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is (or wraps) a DocuError with the Retryable flag set.
func IsRetryable(err error) bool {
	var de *DocuError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// HasCode reports whether err is (or wraps) a DocuError with the given code.
func HasCode(err error, code string) bool {
	var de *DocuError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// SetDetail attaches a detail to err when it is (or wraps) a DocuError.
// The original error is returned either way.
func SetDetail(err error, key, value string) error {
	var de *DocuError
	if errors.As(err, &de) {
		de.WithDetail(key, value)
	}
	return err
}

// GetDetail extracts a detail value from an error, if it is (or wraps) a
// DocuError carrying that key.
func GetDetail(err error, key string) (string, bool) {
	var de *DocuError
	if errors.As(err, &de) && de.Details != nil {
		v, ok := de.Details[key]
		return v, ok
	}
	return "", false
}

// GetCode extracts the error code from an error.
// Returns empty string if the error is not a DocuError.
func GetCode(err error) string {
	var de *DocuError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
