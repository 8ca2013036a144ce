package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error so the API facade can map it to an
// HTTP status without inspecting error strings.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthRequired
	KindNotFound
	KindRateLimited
	KindUpstreamUnavailable
	KindStoreUnavailable
	KindAlreadyRunning
)

// Error is a kinded domain error. Reason carries a machine-readable code for
// upstream failures (e.g. "http_404", "parse_failed").
type Error struct {
	Kind   ErrorKind
	Reason string
	msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Message returns the user-visible detail string without the wrapped cause.
func (e *Error) Message() string { return e.msg }

// KindOf extracts the kind from any error, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Validationf builds a validation error.
func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// AuthRequired builds an authentication error.
func AuthRequired(msg string) error {
	return &Error{Kind: KindAuthRequired, msg: msg}
}

// AlreadyRunningf builds a duplicate-job error.
func AlreadyRunningf(format string, args ...interface{}) error {
	return &Error{Kind: KindAlreadyRunning, msg: fmt.Sprintf(format, args...)}
}

// UpstreamUnavailable wraps a scraper failure with a machine-readable reason.
func UpstreamUnavailable(reason string, cause error) error {
	return &Error{
		Kind:   KindUpstreamUnavailable,
		Reason: reason,
		msg:    fmt.Sprintf("upstream unavailable (%s)", reason),
		cause:  cause,
	}
}

// StoreUnavailable wraps a database connectivity failure.
func StoreUnavailable(cause error) error {
	return &Error{Kind: KindStoreUnavailable, msg: "store unavailable", cause: cause}
}

// RateLimited builds a rate-limit error.
func RateLimited(msg string) error {
	return &Error{Kind: KindRateLimited, msg: msg}
}
