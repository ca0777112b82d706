package tasks

import "errors"

var (
	// ErrEmptyQueue is returned by Start when the message body expanded to nothing.
	ErrEmptyQueue = errors.New("tasks: message queue is empty")

	// ErrMissingCredential is returned when no credential is available to log in with.
	ErrMissingCredential = errors.New("tasks: credential is missing")
)
