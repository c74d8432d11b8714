package haetae

import "errors"

const (
	ErrorMessageFailedToHandleTool = "failed to handle Tool (name: %s): %w"
)

var (
	ErrHaetaeLockingConflicts = errors.New(
		"haetae is already running or there is a configuration process conflict",
	)

	// ErrSessionAlreadyAttached occurs when a second stream tries to bind
	// to a session that already owns a live stream. The original binding
	// is left untouched.
	ErrSessionAlreadyAttached = errors.New("session already has an attached stream")

	// ErrSessionClosing occurs when work is submitted to a session that
	// is already winding down.
	ErrSessionClosing = errors.New("session is closing")
)
