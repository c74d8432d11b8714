package transport

import "errors"

var (
	// ErrSessionNotFound occurs when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMissingSessionID occurs when a session ID is missing in the request.
	ErrMissingSessionID = errors.New("missing session id")

	// ErrStreamClosed occurs when an event is pushed to a stream that has
	// already been closed. Callers must treat it as a delivery failure,
	// not a fatal transport condition.
	ErrStreamClosed = errors.New("stream closed")

	// ErrStreamingUnsupported occurs when the underlying connection cannot
	// flush partial responses.
	ErrStreamingUnsupported = errors.New("streaming unsupported")
)
