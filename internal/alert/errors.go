// Package alert provides the error taxonomy, trace-scoped logging context,
// and rate-limited notification dispatch shared by every component.
//
// The taxonomy maps each failure kind to a retry policy:
//
//	CredentialError       fatal at startup
//	TokenRefreshError     retryable at the client layer, then operational
//	RateLimitError        retryable with a fixed 10s backoff
//	TransientNetworkError retryable with exponential backoff
//	ValidationError       immediate, non-retryable
//	BrokerLogicError      non-retryable business rejection
//	CacheBackendError     demote to fallback, never fatal
package alert

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates error categories for retry/propagation policy.
type Kind int

const (
	KindCredential Kind = iota
	KindTokenRefresh
	KindRateLimit
	KindTransientNetwork
	KindValidation
	KindBrokerLogic
	KindCacheBackend
)

func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindTokenRefresh:
		return "token_refresh"
	case KindRateLimit:
		return "rate_limit"
	case KindTransientNetwork:
		return "transient_network"
	case KindValidation:
		return "validation"
	case KindBrokerLogic:
		return "broker_logic"
	case KindCacheBackend:
		return "cache_backend"
	default:
		return "unknown"
	}
}

// Error is the typed error carried across component boundaries.
// Code holds a broker msg_cd or "VALIDATION_ERROR"; Wrapped preserves the
// underlying cause for errors.Is/As chains.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Retryable reports whether the policy allows another attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindTransientNetwork, KindTokenRefresh:
		return true
	default:
		return false
	}
}

// NewError builds a taxonomy error.
func NewError(kind Kind, code, message string, wrapped error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Wrapped: wrapped}
}

// Validation builds the immediate non-retryable rejection used for bad
// caller input (symbol, quantity, price/division combination).
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message}
}

// IsKind reports whether err is (or wraps) a taxonomy error of the kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// IsRetryable reports whether err allows another attempt. Unknown error
// types are treated as non-retryable.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return false
}

// ErrorContext is the structured payload attached to every logged error.
type ErrorContext struct {
	Operation string
	Component string
	Code      string // symbol, when the operation targets one
	ElapsedMS int64
}

// NewErrorContext captures the elapsed time since start.
func NewErrorContext(operation, component, code string, start time.Time) ErrorContext {
	return ErrorContext{
		Operation: operation,
		Component: component,
		Code:      code,
		ElapsedMS: time.Since(start).Milliseconds(),
	}
}
