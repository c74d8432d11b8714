package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/exp/jsonrpc2"
)

// compatibility check
var _ http.Handler = (*SSE)(nil)

// SSE serves the half-duplex bridge over HTTP: a long-lived GET opens
// the event stream, and short-lived POSTs submit messages that are
// correlated back to the open stream through the session ID.
type SSE struct {
	bridge            Bridge
	router            chi.Router
	ssePath           string
	messagesPath      string
	keepAliveInterval time.Duration
	maxBodyBytes      int64
	authorizer        Authorizer
}

type sseOptions struct {
	ssePath           string
	messagesPath      string
	keepAliveInterval time.Duration
	maxBodyBytes      int64
	authorizer        Authorizer
	allowCORSOrigins  []string
	allowCORSMethods  []string
	allowCORSHeaders  []string
}

// SSEOption configures the SSE transport.
type SSEOption func(*sseOptions)

// SSEWithStreamPath settings the path the event stream is served on.
//
// If not set, it defaults to "/sse".
func SSEWithStreamPath(path string) SSEOption {
	return func(o *sseOptions) {
		o.ssePath = path
	}
}

// SSEWithMessagesPath settings the path messages are submitted to.
//
// If not set, it defaults to "/messages". The trailing-slash form and
// the path-suffix form are registered alongside it.
func SSEWithMessagesPath(path string) SSEOption {
	return func(o *sseOptions) {
		o.messagesPath = path
	}
}

// SSEWithKeepAliveInterval settings the interval of keep-alive frames.
func SSEWithKeepAliveInterval(interval time.Duration) SSEOption {
	return func(o *sseOptions) {
		o.keepAliveInterval = interval
	}
}

// SSEWithAuthorizer settings the authorizer for inbound requests.
func SSEWithAuthorizer(authorizer Authorizer) SSEOption {
	return func(o *sseOptions) {
		o.authorizer = authorizer
	}
}

// SSEWithAccessControlAllowOrigin settings the allowed CORS origins.
func SSEWithAccessControlAllowOrigin(origins []string) SSEOption {
	return func(o *sseOptions) {
		o.allowCORSOrigins = origins
	}
}

// SSEWithAccessControlAllowMethods settings the allowed CORS methods.
func SSEWithAccessControlAllowMethods(methods []string) SSEOption {
	return func(o *sseOptions) {
		o.allowCORSMethods = methods
	}
}

// SSEWithAccessControlAllowHeaders settings the allowed CORS headers.
func SSEWithAccessControlAllowHeaders(headers []string) SSEOption {
	return func(o *sseOptions) {
		o.allowCORSHeaders = headers
	}
}

var (
	defaultAllowCORSOrigins = []string{"*"}
	defaultAllowCORSMethods = []string{"POST", "GET", "OPTIONS", "DELETE"}
	defaultAllowCORSHeaders = []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Cache-Control", "Authorization", MCPSessionID}
)

// NewSSE creates a new SSE transport backed by the given bridge.
func NewSSE(bridge Bridge, options ...SSEOption) *SSE {
	opts := &sseOptions{
		ssePath:           "/sse",
		messagesPath:      "/messages",
		keepAliveInterval: 30 * time.Second,
		maxBodyBytes:      1 << 20,
		authorizer:        DefaultAuthorizer(),
		allowCORSOrigins:  defaultAllowCORSOrigins,
		allowCORSMethods:  defaultAllowCORSMethods,
		allowCORSHeaders:  defaultAllowCORSHeaders,
	}
	for _, opt := range options {
		opt(opts)
	}

	s := &SSE{
		bridge:            bridge,
		ssePath:           opts.ssePath,
		messagesPath:      opts.messagesPath,
		keepAliveInterval: opts.keepAliveInterval,
		maxBodyBytes:      opts.maxBodyBytes,
		authorizer:        opts.authorizer,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.allowCORSOrigins,
		AllowedMethods:   opts.allowCORSMethods,
		AllowedHeaders:   opts.allowCORSHeaders,
		ExposedHeaders:   []string{MCPSessionID},
		AllowCredentials: false,
	}))
	r.Get(s.ssePath, s.serveStream)
	r.Post(s.messagesPath, s.serveMessage)
	// Intermediaries rewrite the messages URL into the trailing-slash or
	// path-suffix form; both are first-class routes here.
	r.Post(s.messagesPath+"/*", s.serveMessage)
	s.router = r
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *SSE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// serveStream handles the long-lived GET that opens the event stream.
func (s *SSE) serveStream(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizer.Authorize(r.Header.Get("Authorization")); err != nil {
		slog.ErrorContext(r.Context(), "[haetae] authorize failed", slog.Any("error", err))
		writeJSONError(w, http.StatusUnauthorized, "authorize failed")
		return
	}

	stream, err := NewStream(w, r)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID, err := s.bridge.OpenStream(r.Context(), stream, r.Header.Get(MCPSessionID))
	if err != nil {
		slog.ErrorContext(r.Context(), "[haetae] failed to open stream", slog.Any("error", err))
		writeJSONError(w, openStreamStatus(err), err.Error())
		return
	}

	w.Header().Set(MCPSessionID, sessionID)
	if err := stream.Open(fmt.Sprintf("%s/?%s=%s", s.messagesPath, SessionIDQuery, sessionID)); err != nil {
		s.bridge.CloseStream(r.Context(), sessionID)
		return
	}
	go stream.KeepAlive(s.keepAliveInterval)

	<-stream.Done()
	s.bridge.CloseStream(context.WithoutCancel(r.Context()), sessionID)
}

// serveMessage handles a single POSTed message. The response body is
// only an acknowledgment; results travel back on the session's stream.
func (s *SSE) serveMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizer.Authorize(r.Header.Get("Authorization")); err != nil {
		slog.ErrorContext(r.Context(), "[haetae] authorize failed", slog.Any("error", err))
		writeJSONError(w, http.StatusUnauthorized, "authorize failed")
		return
	}

	sessionID, err := SessionIDFromRequest(r, s.messagesPath)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "session_id required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := s.bridge.HandleMessage(r.Context(), sessionID, body); err != nil {
		slog.WarnContext(r.Context(), "[haetae] message rejected",
			slog.String("session_id", sessionID), slog.Any("error", err))
		writeJSONError(w, messageStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, "Accepted")
}

// openStreamStatus maps stream-open failures to HTTP status codes. A
// session collision is the one condition that rejects the connection
// attempt outright.
func openStreamStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

// messageStatus maps message dispatch failures to HTTP status codes.
func messageStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, jsonrpc2.ErrParse),
		errors.Is(err, jsonrpc2.ErrInvalidRequest),
		errors.Is(err, jsonrpc2.ErrInvalidParams),
		errors.Is(err, jsonrpc2.ErrMethodNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
