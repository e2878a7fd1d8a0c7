package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a failure so adapters can map it to a status code and decide
// whether offering a retry makes sense.
type Kind string

const (
	KindExtractionFailed   Kind = "EXTRACTION_FAILED"
	KindExtractionTimeout  Kind = "EXTRACTION_TIMEOUT"
	KindAssetUnavailable   Kind = "ASSET_UNAVAILABLE"
	KindParsingFailed      Kind = "PARSING_FAILED"
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindNotFound           Kind = "NOT_FOUND"
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindConflict           Kind = "CONFLICT"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// Error is the typed error returned by every domain operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so
// errors.Is(err, ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrExtractionFailed   = &Error{Kind: KindExtractionFailed}
	ErrExtractionTimeout  = &Error{Kind: KindExtractionTimeout}
	ErrAssetUnavailable   = &Error{Kind: KindAssetUnavailable}
	ErrParsingFailed      = &Error{Kind: KindParsingFailed}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvariantViolation = &Error{Kind: KindInvariantViolation}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrConflict           = &Error{Kind: KindConflict}
)

// Errorf builds an *Error of the given kind. A %w verb in format is preserved as the cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the same request may succeed if submitted again unchanged.
func Retryable(kind Kind) bool {
	switch kind {
	case KindExtractionFailed, KindExtractionTimeout, KindAssetUnavailable, KindConflict:
		return true
	}
	return false
}

// translatePgError maps driver errors onto the domain taxonomy. what names the entity
// for messages, e.g. "inventory item 12".
func translatePgError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Errorf(KindNotFound, "%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &Error{Kind: KindInvariantViolation, Message: fmt.Sprintf("%s: duplicate (%s)", what, pgErr.ConstraintName), Err: err}
		case "23503":
			return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s: referenced row does not exist (%s)", what, pgErr.ConstraintName), Err: err}
		case "23514":
			return &Error{Kind: KindInvariantViolation, Message: fmt.Sprintf("%s: check constraint %s violated", what, pgErr.ConstraintName), Err: err}
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
