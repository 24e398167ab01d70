package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code        ErrorCode
	Retryable   bool
	Description string
}

// ErrorCodeRegistry maps error codes to their metadata. Only rate-limited
// and server-class failures are retryable by the scheduling harness.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrRateLimit: {
		Code:        ErrRateLimit,
		Retryable:   true,
		Description: "Inference provider rate limit exceeded",
	},
	ErrServerError: {
		Code:        ErrServerError,
		Retryable:   true,
		Description: "Inference provider returned a server-class (5xx) failure",
	},
	ErrQuotaExceeded: {
		Code:        ErrQuotaExceeded,
		Retryable:   false,
		Description: "Provider account quota exhausted; cycle aborts pre-emptively",
	},
	ErrSchemaViolation: {
		Code:        ErrSchemaViolation,
		Retryable:   false,
		Description: "Model output violated the expected JSON shape; batch dropped, items stay pending",
	},
	ErrTransport: {
		Code:        ErrTransport,
		Retryable:   false,
		Description: "Network-level failure reaching the inference provider",
	},
	ErrTimeout: {
		Code:        ErrTimeout,
		Retryable:   false,
		Description: "Request exceeded the gateway timeout",
	},
	ErrContextCancelled: {
		Code:        ErrContextCancelled,
		Retryable:   false,
		Description: "Cycle cancelled by host shutdown",
	},
	ErrPersistence: {
		Code:        ErrPersistence,
		Retryable:   false,
		Description: "Store unreachable; cycle aborts, next scheduled run retries cleanly",
	},
	ErrProcessingError: {
		Code:        ErrProcessingError,
		Retryable:   false,
		Description: "Unclassified processing error",
	},
}

// IsRetryable reports whether the given error code is transient and retryable.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetDescription returns the human-readable description for the code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
