// Package apperr defines the typed failures surfaced by the access-control and
// quota engine. Every failure carries a Kind that maps to exactly one HTTP status.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error
type Kind int

const (
	KindInternal Kind = iota
	KindAuthenticationRequired
	KindPermissionDenied
	KindQuotaExceeded
	KindDuplicateSpace
	KindNotFound
	KindInvalidArgument
	KindStorageFailure
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindPermissionDenied:
		return "permission_denied"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindDuplicateSpace:
		return "duplicate_space"
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindStorageFailure:
		return "storage_failure"
	default:
		return "internal"
	}
}

// Dimension names the quota dimension that was violated
type Dimension string

const (
	DimensionCount Dimension = "count"
	DimensionSize  Dimension = "size"
)

// Error is the concrete error type for all application failures
type Error struct {
	Kind    Kind
	Message string

	// Quota details, set only for KindQuotaExceeded
	Dimension Dimension
	Current   int64
	Limit     int64
	Requested int64

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Kind == KindQuotaExceeded && e.Dimension != "" {
		msg = fmt.Sprintf("%s (%s: %d + %d > %d)", msg, e.Dimension, e.Current, e.Requested, e.Limit)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. Sentinels carry no
// message, so errors.Is(err, ErrNotFound) matches any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Dimension == "" || t.Dimension == e.Dimension
}

// Sentinels for errors.Is matching
var (
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied}
	ErrQuotaExceeded          = &Error{Kind: KindQuotaExceeded}
	ErrDuplicateSpace         = &Error{Kind: KindDuplicateSpace}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
	ErrStorageFailure         = &Error{Kind: KindStorageFailure}
)

// AuthenticationRequired reports a request without an identity
func AuthenticationRequired() *Error {
	return &Error{Kind: KindAuthenticationRequired, Message: "authentication required"}
}

// PermissionDenied reports an identity lacking a permission
func PermissionDenied(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// QuotaExceeded reports a rejected reservation
func QuotaExceeded(dim Dimension, current, limit, requested int64) *Error {
	return &Error{
		Kind:      KindQuotaExceeded,
		Message:   "space quota exceeded",
		Dimension: dim,
		Current:   current,
		Limit:     limit,
		Requested: requested,
	}
}

// DuplicateSpace reports a second space of the same type for one user
func DuplicateSpace(userID int64, spaceType string) *Error {
	return &Error{
		Kind:    KindDuplicateSpace,
		Message: fmt.Sprintf("user %d already owns a %s space", userID, spaceType),
	}
}

// NotFound reports a missing space, picture or membership
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports malformed input
func InvalidArgument(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// StorageFailure wraps an object store error
func StorageFailure(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindStorageFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
