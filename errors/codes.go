package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors or recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // RequestTimeout
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"   // bus transport could not be reached
	ErrCodeAgentOffline ErrorCode = "AGENT_OFFLINE" // target agent marked offline

	ErrCodeNotFound     ErrorCode = "NOT_FOUND"    // RegistryMiss
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodePrecondition ErrorCode = "PRECONDITION" // lifecycle state does not allow the call
	ErrCodeCanceled     ErrorCode = "CANCELED"

	ErrCodeInternal ErrorCode = "INTERNAL"
	ErrCodePanic    ErrorCode = "PANIC"       // DeliveryFailure / MonitorSweepError
	ErrCodeDecode   ErrorCode = "DECODE"      // malformed wire message
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeAgentOffline:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodePrecondition, ErrCodeCanceled, ErrCodeDecode:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "request timed out",
	ErrCodeUnavailable:  "transport unavailable",
	ErrCodeAgentOffline: "agent is offline",
	ErrCodeNotFound:     "agent not found",
	ErrCodeInvalidInput: "invalid input",
	ErrCodePrecondition: "precondition failed",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
	ErrCodeDecode:       "malformed message",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
