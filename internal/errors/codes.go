// Package errors provides the structured error taxonomy for assistkb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and source definition errors
//   - 2XX: Storage, extraction and file errors
//   - 3XX: Embedding provider and network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Authentication errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates storage, file and extraction errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates provider and network errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates rejected external input.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryAuth indicates a wrong or missing secret.
	CategoryAuth Category = "AUTH"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the in-flight operation must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound     = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid      = "ERR_102_CONFIG_INVALID"
	ErrCodeSourceDefinition   = "ERR_103_SOURCE_DEFINITION_INVALID"
	ErrCodeSourceMissingField = "ERR_104_SOURCE_MISSING_FIELD"

	// IO errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission   = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull         = "ERR_203_DISK_FULL"
	ErrCodeFileTooLarge     = "ERR_204_FILE_TOO_LARGE"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeStoreCorrupt     = "ERR_206_STORE_CORRUPT"
	ErrCodeStoreNotFound    = "ERR_207_STORE_NOT_FOUND"
	ErrCodeStorageFailed    = "ERR_208_STORAGE_FAILED"
	ErrCodeExtractionFailed = "ERR_209_EXTRACTION_FAILED"
	ErrCodeExtractTimeout   = "ERR_210_EXTRACTION_TIMEOUT"
	ErrCodeDataDirLocked    = "ERR_211_DATA_DIR_LOCKED"

	// Network errors (300-399)
	ErrCodeNetworkTimeout       = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable   = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeEmbeddingTimeout     = "ERR_303_EMBEDDING_TIMEOUT"
	ErrCodeEmbeddingUnavailable = "ERR_304_EMBEDDING_UNAVAILABLE"
	ErrCodeFetchFailed          = "ERR_305_FETCH_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidNamespace  = "ERR_403_INVALID_NAMESPACE"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_405_QUERY_TOO_LONG"
	ErrCodeInvalidPath       = "ERR_406_INVALID_PATH"
	ErrCodePathTraversal     = "ERR_407_PATH_TRAVERSAL"
	ErrCodeSensitivePath     = "ERR_408_SENSITIVE_PATH"
	ErrCodeInvalidURL        = "ERR_409_INVALID_URL"
	ErrCodeInsecureURL       = "ERR_410_INSECURE_URL"
	ErrCodeInvalidTicketID   = "ERR_411_INVALID_TICKET_ID"
	ErrCodeMalformedPayload  = "ERR_412_MALFORMED_PAYLOAD"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"

	// Auth errors (600-699)
	ErrCodeAuthFailed               = "ERR_601_AUTH_FAILED"
	ErrCodeSecretNotFound           = "ERR_602_SECRET_NOT_FOUND"
	ErrCodeSecretBackendUnavailable = "ERR_603_SECRET_BACKEND_UNAVAILABLE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	// "ERR_101_..." carries the class digit at index 4.
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeStorageFailed, ErrCodeStoreCorrupt, ErrCodeAuthFailed:
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
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable,
		ErrCodeEmbeddingTimeout, ErrCodeEmbeddingUnavailable, ErrCodeFetchFailed:
		return true
	default:
		return false
	}
}

// embeddingCodes groups codes reported by EmbeddingError.
var embeddingCodes = map[string]bool{
	ErrCodeEmbeddingTimeout:     true,
	ErrCodeEmbeddingUnavailable: true,
	ErrCodeEmbeddingFailed:      true,
	ErrCodeDimensionMismatch:    true,
}

// extractionCodes groups codes reported by ExtractionError.
var extractionCodes = map[string]bool{
	ErrCodeExtractionFailed: true,
	ErrCodeExtractTimeout:   true,
	ErrCodeFileTooLarge:     true,
	ErrCodeFetchFailed:      true,
}

// storageCodes groups codes reported by StorageError.
var storageCodes = map[string]bool{
	ErrCodeStorageFailed: true,
	ErrCodeStoreCorrupt:  true,
	ErrCodeStoreNotFound: true,
	ErrCodeCorruptIndex:  true,
	ErrCodeDiskFull:      true,
	ErrCodeIndexFailed:   true,
	ErrCodeDataDirLocked: true,
}
