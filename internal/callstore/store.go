// Package callstore persists Call entities with optimistic, single-writer
// concurrency.
package callstore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

// Kind classifies an error returned by a Store: NotFound, Conflict, or
// Transient.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindTransient
)

// Error wraps a store failure with its taxonomy kind so callers can branch
// on errors.As without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// ErrNotFound is returned when no Call matches the requested key.
var ErrNotFound = errors.New("callstore: call not found")

// ErrConflict is returned when a save's expected version no longer matches
// the stored version.
var ErrConflict = errors.New("callstore: version conflict")

// IsConflict reports whether err (or a wrapped cause) is a version conflict.
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindConflict
}

// IsNotFound reports whether err (or a wrapped cause) is a not-found error.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// IsTransient reports whether err (or a wrapped cause) is retriable.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTransient
}

// Store is the Call Store contract.
type Store interface {
	// GetLast returns the most recently created Call for phoneNumber, or
	// ErrNotFound if none exists.
	GetLast(ctx context.Context, phoneNumber string) (*callmodel.Call, error)
	// GetByID returns a Call by its immutable identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*callmodel.Call, error)
	// Save persists call using optimistic concurrency on Version. On success
	// Version is incremented and UpdatedAt refreshed on the passed-in value.
	// Returns a *Error with Kind == KindConflict if the stored version has
	// moved on.
	Save(ctx context.Context, call *callmodel.Call) error
	// ListByPhone returns up to limit Calls for phoneNumber, most-recent-first.
	ListByPhone(ctx context.Context, phoneNumber string, limit int) ([]*callmodel.Call, error)
}
