package llmwire

import (
	"errors"
	"fmt"
)

// ErrMalformedToolInput marks a tool-use block whose accumulated input JSON
// failed to parse at block stop. It is a dispatch-level condition, never a
// transport failure.
var ErrMalformedToolInput = errors.New("malformed tool input")

// TransportError is the base type for network and provider failures.
// A TransportError terminates the current model turn; it is never converted
// into a tool result.
type TransportError struct {
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProviderError is a TransportError reported by the provider itself.
type ProviderError struct {
	TransportError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider transport errors.

type RequestTimeoutError struct{ TransportError }
type NetworkError struct{ TransportError }
type StreamError struct{ TransportError }
type AbortError struct{ TransportError }
type ConfigurationError struct{ TransportError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	pe := ProviderError{
		TransportError: TransportError{Message: message},
		Provider:       provider,
		StatusCode:     statusCode,
		RetryAfter:     retryAfter,
	}

	switch statusCode {
	case 400, 422:
		pe.Retryable = false
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		pe.Retryable = false
		return &AuthenticationError{ProviderError: pe}
	case 403:
		pe.Retryable = false
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		pe.Retryable = false
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{TransportError: TransportError{Message: message}}
	case 413:
		pe.Retryable = false
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown statuses default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether the error is safe to retry. Only idempotent,
// non-streaming sends may be retried; a partially consumed stream never is,
// regardless of this classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *ProviderError:
		return e.Retryable
	case *AuthenticationError, *AccessDeniedError, *NotFoundError,
		*InvalidRequestError, *ContextLengthError, *ConfigurationError,
		*AbortError:
		return false
	case *RateLimitError, *ServerError, *NetworkError, *RequestTimeoutError:
		return true
	case *StreamError:
		return false
	default:
		return false
	}
}
