package errors

// ErrorCode represents a machine-readable error kind for callers and the
// error reporter. Codes identify kinds, not Go types: one typed Error wraps
// any cause under one of these codes.
type ErrorCode string

// Sanitization errors (input payload validation)
const (
	ErrCodeMissingRequired ErrorCode = "missing_required"
	ErrCodeInvalidValue    ErrorCode = "invalid_value"
)

// Shaper errors (nested payload validation)
const (
	ErrCodeInvalidMetaKey    ErrorCode = "invalid_meta_key"
	ErrCodeBlobTooLarge      ErrorCode = "blob_too_large"
	ErrCodeInvalidAllocation ErrorCode = "invalid_allocation"
	ErrCodeInvalidDirection  ErrorCode = "invalid_direction"
	ErrCodeInvalidStatus     ErrorCode = "invalid_status"
)

// Query errors
const (
	ErrCodeInvalidDateRange ErrorCode = "invalid_date_range"
)

// WHERE compiler / store gateway safety errors. These indicate an internal
// bug (the core composed SQL outside its own allow-list), never caller input.
const (
	ErrCodeDisallowedClause  ErrorCode = "disallowed_clause"
	ErrCodeInvalidIdentifier ErrorCode = "invalid_identifier"
)

// Entity state errors
const (
	ErrCodeTransactionNotFound ErrorCode = "transaction_not_found"
)

// Store errors, classified from the driver
const (
	ErrCodeStoreConnection ErrorCode = "store_connection"
	ErrCodeStoreSyntax     ErrorCode = "store_syntax"
	ErrCodeStoreQuery      ErrorCode = "store_query"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a transient failure
// worth retrying. Validation failures and safety rejections are permanent.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeStoreConnection:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - caller input validation errors
	case ErrCodeMissingRequired,
		ErrCodeInvalidValue,
		ErrCodeInvalidMetaKey,
		ErrCodeBlobTooLarge,
		ErrCodeInvalidAllocation,
		ErrCodeInvalidDirection,
		ErrCodeInvalidStatus,
		ErrCodeInvalidDateRange:
		return 400

	// 404 Not Found
	case ErrCodeTransactionNotFound:
		return 404

	// 503 Service Unavailable - transient store transport failures
	case ErrCodeStoreConnection:
		return 503

	// 500 Internal Server Error - safety rejections and store/system errors
	default:
		return 500
	}
}
