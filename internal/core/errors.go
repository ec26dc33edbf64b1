package core

import (
	"errors"
	"fmt"
)

// Kind classifies a core error. Each HTTP surface maps kinds onto its own
// wire codes; the core itself never deals in status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindConflict
	KindStale
	KindPreempted
	KindMalformed
	KindTooManyRequests
	KindTimeout
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindNotFound:        "not_found",
	KindUnauthorized:    "unauthorized",
	KindForbidden:       "forbidden",
	KindConflict:        "conflict",
	KindStale:           "stale",
	KindPreempted:       "preempted",
	KindMalformed:       "malformed",
	KindTooManyRequests: "too_many_requests",
	KindTimeout:         "timeout",
	KindInternal:        "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the typed error the core returns to the HTTP surfaces.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a typed core error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain. Errors that
// carry no kind classify as internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Convenience constructors for the kinds the services raise most often.

func NotFound(message string) *Error        { return E(KindNotFound, message) }
func Unauthorized(message string) *Error    { return E(KindUnauthorized, message) }
func Forbidden(message string) *Error       { return E(KindForbidden, message) }
func Conflict(message string) *Error        { return E(KindConflict, message) }
func Stale(message string) *Error           { return E(KindStale, message) }
func Preempted(message string) *Error       { return E(KindPreempted, message) }
func Malformed(message string) *Error       { return E(KindMalformed, message) }
func TooManyRequests(message string) *Error { return E(KindTooManyRequests, message) }
func Timeout(message string) *Error         { return E(KindTimeout, message) }
func Internal(message string) *Error        { return E(KindInternal, message) }
