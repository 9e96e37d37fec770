package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for cross-component policy decisions. Within a
// component errors are plain wrapped values; at a boundary they are mapped
// to the nearest kind.
type Kind string

const (
	KindInputInvalid      Kind = "input_invalid"
	KindPermissionDenied  Kind = "permission_denied"
	KindNotFound          Kind = "not_found"
	KindDuplicate         Kind = "duplicate"
	KindRateLimited       Kind = "rate_limited"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUpstreamRefused   Kind = "upstream_refused"
	KindCacheStale        Kind = "cache_stale"
	KindDegraded          Kind = "degraded"
	KindFatal             Kind = "fatal"
)

// Error carries a kind alongside a message and optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// E builds a typed error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the kind from err, or KindUpstreamTransient for unknown
// errors (the retry-friendly default).
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUpstreamTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
