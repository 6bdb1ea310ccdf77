package shared

// Domain error codes. The HTTP layer maps each code to a status.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidState        = "INVALID_STATE"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
)

// DomainError is an error with a stable machine-readable code
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   *DomainError
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel a detailed error was derived from
func (e *DomainError) Unwrap() error {
	if e.cause == nil {
		return nil
	}
	return e.cause
}

// WithDetail returns an error with the same code and a specific message
// that still matches e under errors.Is.
func (e *DomainError) WithDetail(message string) *DomainError {
	return &DomainError{Code: e.Code, Message: message, cause: e}
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Generic sentinels for callers without a more specific error
var (
	ErrNotFound     = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput = NewDomainError(CodeInvalidInput, "Invalid input provided")
)
