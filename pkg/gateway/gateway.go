// Package gateway defines the capability contract the task engine needs from
// a messaging backend: authenticate with an opaque credential, then send
// payloads to an opaque destination through the resulting session.
//
// The engine distinguishes two kinds of send errors:
//   - delivery failures (the backend rejected this payload): retried with the
//     same session
//   - session faults (the session itself is unusable): the session is dropped
//     and the task logs in again
//
// Implementations mark the latter by wrapping ErrSessionFault.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed is returned by Authenticate when the credential is rejected.
	ErrAuthFailed = errors.New("gateway: authentication failed")

	// ErrRejected marks a delivery failure reported by the backend.
	ErrRejected = errors.New("gateway: message rejected")

	// ErrSessionFault marks a transport or session level failure.
	ErrSessionFault = errors.New("gateway: session fault")
)

// Gateway produces sessions from credentials.
type Gateway interface {
	Authenticate(ctx context.Context, credential string) (Session, error)
}

// Session is an authenticated handle able to deliver payloads.
type Session interface {
	Send(ctx context.Context, payload, destination string) error
}

// Metadata describes a destination. Every field is optional.
type Metadata struct {
	Name    string            `json:"name,omitempty"`
	Members int               `json:"members,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Describer is an optional Session capability for destination lookups.
type Describer interface {
	Describe(ctx context.Context, destination string) (Metadata, error)
}

// Closer is an optional Session capability that invalidates the remote
// session. The task engine never calls it: stopping or restarting a task
// must leave the remote session usable.
type Closer interface {
	Close(ctx context.Context) error
}

// SessionFault wraps err so that IsSessionFault reports true for it.
func SessionFault(err error) error {
	if err == nil {
		return ErrSessionFault
	}
	return fmt.Errorf("%w: %w", ErrSessionFault, err)
}

// IsSessionFault reports whether err requires a fresh session.
func IsSessionFault(err error) bool {
	return errors.Is(err, ErrSessionFault)
}

// PanicError carries a value recovered from a panicking gateway call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("gateway: panic: %v", e.Value) }

// Unwrap classifies a recovered panic as a session fault.
func (e *PanicError) Unwrap() error { return ErrSessionFault }
