package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure for callers.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuth                Kind = "auth"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindRateLimit           Kind = "rate_limit"
	KindUpstream            Kind = "upstream"
	KindNotFound            Kind = "not_found"
	KindInternal            Kind = "internal"
	// KindPersistence is only ever logged; it never reaches a caller.
	KindPersistence Kind = "persistence"
)

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified pipeline failure. Message is safe to show the
// caller; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterSeconds is set for KindRateLimit.
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return KindInternal
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ValidationError reports bad caller input.
func ValidationError(msg string, err error) *Error {
	return newError(KindValidation, msg, err)
}

// AuthError reports a missing or invalid identity.
func AuthError(msg string) *Error {
	return newError(KindAuth, msg, nil)
}

// InsufficientCreditsError reports a balance that cannot cover the cost.
func InsufficientCreditsError(cost int) *Error {
	return newError(KindInsufficientCredits, fmt.Sprintf("insufficient credits: %d required", cost), nil)
}

// RateLimitError reports a denied rate-limit check.
func RateLimitError(retryAfter int) *Error {
	e := newError(KindRateLimit, "rate limit exceeded", nil)
	e.RetryAfterSeconds = retryAfter
	return e
}

// UpstreamError reports a failed fetch or generation stage. The message
// carries the upstream text.
func UpstreamError(err error) *Error {
	return newError(KindUpstream, err.Error(), err)
}

// NotFoundError reports an unknown resource.
func NotFoundError(msg string) *Error {
	return newError(KindNotFound, msg, nil)
}

// InternalError reports a failure of our own infrastructure.
func InternalError(msg string, err error) *Error {
	return newError(KindInternal, msg, err)
}
