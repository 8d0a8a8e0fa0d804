package types

import "fmt"

// ErrorCode represents a unified error code across the bot.
type ErrorCode string

// Reply pipeline error codes
const (
	ErrGenerationFailure  ErrorCode = "GENERATION_FAILURE"
	ErrQualityRejection   ErrorCode = "QUALITY_REJECTION"
	ErrDuplicateRejection ErrorCode = "DUPLICATE_REJECTION"
	ErrExhausted          ErrorCode = "EXHAUSTED"
	ErrDispatchFailure    ErrorCode = "DISPATCH_FAILURE"
	ErrCoordinatorCycle   ErrorCode = "COORDINATOR_CYCLE_FAILURE"
)

// Provider error codes
const (
	ErrProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrAuthentication      ErrorCode = "AUTHENTICATION"
)

// Infrastructure error codes
const (
	ErrConfigInvalid     ErrorCode = "CONFIG_INVALID"
	ErrStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrPersonaNotFound   ErrorCode = "PERSONA_NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Persona    string    `json:"persona,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithPersona tags the error with the persona it occurred for.
func (e *Error) WithPersona(persona string) *Error {
	e.Persona = persona
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
