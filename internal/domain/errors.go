package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means a required server-side setting is missing.
	ErrConfiguration = errors.New("configuration_error")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not_found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid_input")
)

// RepositoryUnavailableError means a candidate query failed. It aborts the
// whole run.
type RepositoryUnavailableError struct {
	Pass string
	Err  error
}

func (e *RepositoryUnavailableError) Error() string {
	return fmt.Sprintf("repository unavailable during %s pass: %v", e.Pass, e.Err)
}

func (e *RepositoryUnavailableError) Unwrap() error { return e.Err }

// PersistenceError is a failed write for a single listing. The listing keeps
// its state and is retried on the next run.
type PersistenceError struct {
	ListingID  string
	Transition string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for listing %s: %v", e.Transition, e.ListingID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransientDispatchError is a failed notification delivery. It is logged and
// never changes a transition outcome.
type TransientDispatchError struct {
	ListingID string
	Kind      NotificationKind
	Err       error
}

func (e *TransientDispatchError) Error() string {
	return fmt.Sprintf("dispatch %s for listing %s: %v", e.Kind, e.ListingID, e.Err)
}

func (e *TransientDispatchError) Unwrap() error { return e.Err }
