package tasks

import "errors"

// State is the lifecycle position of a Task.
type State string

const (
	// StateCreated is a task that has been built or restored but not started.
	StateCreated State = "created"
	// StateStarting covers credential persistence before the first login.
	StateStarting State = "starting"
	// StateLoggingIn is an in-flight session acquisition.
	StateLoggingIn State = "logging_in"
	// StateSending is the send loop with a live session.
	StateSending State = "sending"
	// StateRetryingLogin waits out the login backoff.
	StateRetryingLogin State = "retrying_login"
	// StateRestartPending waits out the restart delay after a session fault.
	StateRestartPending State = "restart_pending"
	// StateStopped is terminal for the current run.
	StateStopped State = "stopped"
)

// ErrUnknownState is returned by ParseState for unrecognised values.
var ErrUnknownState = errors.New("tasks: unknown state")

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateCreated, StateStarting, StateLoggingIn, StateSending,
	StateRetryingLogin, StateRestartPending, StateStopped,
}

func (s State) String() string { return string(s) }

// ParseState converts a string into a State.
func ParseState(s string) (State, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrUnknownState
}

// Severity tags a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarn    Severity = "warn"
	SeverityError   Severity = "error"
)
