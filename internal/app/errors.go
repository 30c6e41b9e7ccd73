package app

import (
	"context"
	"errors"
	"fmt"

	"taletinker/pkg/ai"
)

// Kind classifies failures so transports can answer with a stable status.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindGeneration   Kind = "generation"
	KindInternal     Kind = "internal"
)

// Generation failure reasons.
const (
	ReasonTransport = "transport"
	ReasonMalformed = "malformed"
)

// Error is the error type returned by App operations.
type Error struct {
	Kind   Kind
	Detail string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for every not-found failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrGeneration   = &Error{Kind: KindGeneration}
	ErrInternal     = &Error{Kind: KindInternal}
)

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func validationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

func unauthorized() error {
	return &Error{Kind: KindUnauthorized, Detail: "authentication required"}
}

func forbidden(detail string) error {
	return &Error{Kind: KindForbidden, Detail: detail}
}

func notFound(detail string) error {
	return &Error{Kind: KindNotFound, Detail: detail}
}

func conflict(detail string) error {
	return &Error{Kind: KindConflict, Detail: detail}
}

func internalError(op string, err error) error {
	return &Error{Kind: KindInternal, Detail: op, Err: err}
}

// generationError wraps a Generation Service failure. Replies that arrived
// but were unusable are malformed; everything else, timeouts included, is
// a transport failure.
func generationError(op string, err error) error {
	reason := ReasonTransport
	if errors.Is(err, ai.ErrMalformedResponse) {
		reason = ReasonMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		op += " timed out"
	}
	return &Error{Kind: KindGeneration, Detail: op, Reason: reason, Err: err}
}
