package chat

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrUnauthenticated = errors.New("connection has no authenticated identity")
)

// ValidationError rejects a malformed inbound payload. The event is dropped;
// the connection stays up.
type ValidationError struct {
	Event  EventType
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Event, e.Field, e.Reason)
}

// PersistenceError aborts an operation whose store write failed. Nothing is
// emitted for it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

const (
	codeValidation   = "validation"
	codePersistence  = "persistence"
	codeUnknownEvent = "unknown_event"
	codeMalformed    = "malformed"
	codeInternal     = "internal"
)

func errorCode(err error) string {
	var (
		verr *ValidationError
		perr *PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return codeValidation
	case errors.As(err, &perr):
		return codePersistence
	case errors.Is(err, ErrUnknownEvent):
		return codeUnknownEvent
	default:
		return codeInternal
	}
}
