package transport

import (
	"context"
	"net/http"
	"strings"
)

const (
	// MCPSessionID is the header carrying the session ID.
	MCPSessionID = "Mcp-Session-Id"

	// SessionIDQuery is the query parameter carrying the session ID.
	SessionIDQuery = "session_id"
)

// Bridge correlates inbound messages to the stream that must receive
// their results. The SSE transport calls into it; it never calls back
// into the transport except through the *Stream it was handed.
type Bridge interface {
	// OpenStream registers a new stream and returns the session ID bound
	// to it. clientSessionID is the ID supplied by the client, or the
	// empty string when the server should assign one. The returned ID is
	// an opaque token and must be propagated byte-for-byte.
	OpenStream(ctx context.Context, stream *Stream, clientSessionID string) (string, error)

	// CloseStream tears down the session bound to the stream. Called
	// exactly once per accepted stream, after the connection ends.
	CloseStream(ctx context.Context, sessionID string)

	// HandleMessage dispatches a single inbound message for the session.
	// A nil return means the message was accepted; the result, if any,
	// is delivered on the session's stream.
	HandleMessage(ctx context.Context, sessionID string, body []byte) error
}

// Authorizer checks the authorization header of inbound requests.
type Authorizer interface {
	Authorize(authorization string) error
}

type allowAllAuthorizer struct{}

func (allowAllAuthorizer) Authorize(string) error { return nil }

// DefaultAuthorizer returns an Authorizer that accepts every request.
func DefaultAuthorizer() Authorizer {
	return allowAllAuthorizer{}
}

// SessionIDFromRequest extracts the session ID from the request.
//
// Precedence: the Mcp-Session-Id header, then the session_id query
// parameter, then a trailing path segment below messagesPath. The three
// forms exist because intermediaries are known to rewrite URLs or drop
// headers; whichever form survives, the ID itself is returned exactly
// as the client sent it.
func SessionIDFromRequest(r *http.Request, messagesPath string) (string, error) {
	if v := r.Header.Get(MCPSessionID); v != "" {
		return v, nil
	}
	if v := r.URL.Query().Get(SessionIDQuery); v != "" {
		return v, nil
	}
	if rest, ok := strings.CutPrefix(r.URL.Path, messagesPath); ok {
		rest = strings.Trim(rest, "/")
		if rest != "" && !strings.Contains(rest, "/") {
			return rest, nil
		}
	}
	return "", ErrMissingSessionID
}
