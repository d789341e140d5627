package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so the HTTP layer can pick a status code.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindNotFound           Kind = "not_found"
	KindDuplicateHandle    Kind = "duplicate_handle"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindNotRegistered      Kind = "not_registered"
	KindAmbiguousMedicine  Kind = "ambiguous_medicine_name"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindCatalogLoadFailed  Kind = "catalog_load_failed"
	KindInternal           Kind = "internal"
)

// Error is the domain error returned by every service in this module.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" && msg == "" {
		msg = e.Field + " is invalid"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, domain.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Field == "" && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrDuplicateHandle    = &Error{Kind: KindDuplicateHandle}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrNotRegistered      = &Error{Kind: KindNotRegistered}
	ErrAmbiguousMedicine  = &Error{Kind: KindAmbiguousMedicine}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrCatalogLoadFailed  = &Error{Kind: KindCatalogLoadFailed}
	ErrInternal           = &Error{Kind: KindInternal}
)

func InvalidArgument(field, message string) error {
	return &Error{Kind: KindInvalidArgument, Field: field, Message: message}
}

func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

func DuplicateHandle(handle string) error {
	return &Error{Kind: KindDuplicateHandle, Field: "user_name", Message: fmt.Sprintf("pharmacy name %q already registered", handle)}
}

func AmbiguousMedicine(name string, matches int) error {
	return &Error{Kind: KindAmbiguousMedicine, Field: "medicine_name", Message: fmt.Sprintf("%d medicines found with the name %q", matches, name)}
}

func Unauthorized(message string) error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

func CatalogLoadFailed(err error) error {
	return &Error{Kind: KindCatalogLoadFailed, Message: "catalog load failed", Err: err}
}

// Internal wraps an unexpected store or runtime failure.
func Internal(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
