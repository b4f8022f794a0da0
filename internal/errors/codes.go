// Package errors provides structured error handling for DocuChat.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Persistence errors (file, disk, database)
//   - 3XX: Provider errors (embedding, completion)
//   - 4XX: Validation / not-found errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryPersistence indicates disk and database errors.
	CategoryPersistence Category = "PERSISTENCE"
	// CategoryProvider indicates errors from external providers.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation and lookup errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Persistence errors (200-299)
	ErrCodePersistenceFailed = "ERR_201_PERSISTENCE_FAILED"
	ErrCodeCorruptStore      = "ERR_202_CORRUPT_STORE"
	ErrCodeCatalogFailed     = "ERR_203_CATALOG_FAILED"

	// Provider errors (300-399)
	ErrCodeProviderTimeout     = "ERR_301_PROVIDER_TIMEOUT"
	ErrCodeProviderRateLimited = "ERR_302_PROVIDER_RATE_LIMITED"
	ErrCodeProviderUnavailable = "ERR_303_PROVIDER_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeStoreNotFound   = "ERR_401_STORE_NOT_FOUND"
	ErrCodeSessionNotFound = "ERR_402_SESSION_NOT_FOUND"
	ErrCodeUserNotFound    = "ERR_403_USER_NOT_FOUND"
	ErrCodeInvalidName     = "ERR_404_INVALID_NAME"
	ErrCodeInvalidInput    = "ERR_405_INVALID_INPUT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeIngestionFailed = "ERR_502_INGESTION_FAILED"
	ErrCodeEmbeddingFailed = "ERR_503_EMBEDDING_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "401" from "ERR_401_STORE_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryPersistence
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeCorruptStore {
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderRateLimited, ErrCodeProviderUnavailable:
		return true
	default:
		return false
	}
}
