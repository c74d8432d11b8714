package haetae

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minsukim/haetae/internal/metrics"
	"github.com/minsukim/haetae/transport"
	"github.com/oklog/ulid/v2"
)

// SessionID is an opaque session token. It is generated once, carried
// byte-for-byte across headers, query parameters and path segments, and
// compared only for equality. Nothing in this package may parse,
// reformat or case-fold it: gateways between client and server match on
// the original form, and rewriting the token breaks correlation.
type SessionID struct {
	value string
}

// NewSessionID generates a fresh session ID. Safe for concurrent use;
// two concurrently generated IDs never collide.
func NewSessionID() SessionID {
	return SessionID{value: ulid.Make().String()}
}

// ParseSessionID wraps a client-supplied token without transforming it.
func ParseSessionID(s string) SessionID {
	return SessionID{value: s}
}

// String renders the token exactly as it was generated or received.
func (s SessionID) String() string {
	return s.value
}

// IsZero reports whether the ID is the zero value.
func (s SessionID) IsZero() bool {
	return s.value == ""
}

// sessionState is the lifecycle state of a session.
type sessionState int

const (
	sessionOpen sessionState = iota
	sessionClosing
	sessionClosed
)

func (s sessionState) String() string {
	switch s {
	case sessionOpen:
		return "open"
	case sessionClosing:
		return "closing"
	case sessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is one entry in the session table. The stream handle is owned
// here exclusively; the message router only ever borrows it via Lookup.
type session struct {
	id        SessionID
	createdAt time.Time
	stream    *transport.Stream
	state     sessionState

	// pending counts in-flight invocations that still reference this
	// session. The entry is removed only once it reaches zero, so a
	// result is never pushed at a reclaimed stream.
	pending int
}

// SessionManager generates, validates and tracks session IDs, and maps
// each one to the stream that must receive that session's results.
// All mutations of the table are serialized behind one mutex; reads
// take consistent snapshots under the same lock.
type SessionManager struct {
	_ struct{}

	mu       sync.Mutex
	sessions map[SessionID]*session
	nowFunc  NowFunc
}

// NewSessionManager creates an empty session table.
func NewSessionManager(nowFunc NowFunc) *SessionManager {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &SessionManager{
		sessions: make(map[SessionID]*session),
		nowFunc:  nowFunc,
	}
}

// Create registers a new open session with no stream attached yet.
func (m *SessionManager) Create() SessionID {
	id := NewSessionID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &session{
		id:        id,
		createdAt: m.nowFunc(),
		state:     sessionOpen,
	}
	metrics.SessionsActive.Inc()
	return id
}

// Attach binds exactly one stream to the session. A second stream for
// the same ID is rejected with ErrSessionAlreadyAttached and the
// original binding is left untouched.
func (m *SessionManager) Attach(id SessionID, stream *transport.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok || entry.state != sessionOpen {
		return fmt.Errorf("session '%s': %w", id, transport.ErrSessionNotFound)
	}
	if entry.stream != nil {
		return fmt.Errorf("session '%s': %w", id, ErrSessionAlreadyAttached)
	}
	entry.stream = stream
	return nil
}

// Lookup returns the live stream for the session, or false when the
// session is unknown, has no stream yet, or is winding down.
func (m *SessionManager) Lookup(id SessionID) (*transport.Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok || entry.state != sessionOpen || entry.stream == nil {
		return nil, false
	}
	return entry.stream, true
}

// AddPending records one in-flight invocation referencing the session.
func (m *SessionManager) AddPending(id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session '%s': %w", id, transport.ErrSessionNotFound)
	}
	if entry.state != sessionOpen {
		return fmt.Errorf("session '%s': %w", id, ErrSessionClosing)
	}
	entry.pending++
	return nil
}

// DonePending releases one in-flight invocation. The last release of a
// closing session removes the entry.
func (m *SessionManager) DonePending(id SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return
	}
	if entry.pending > 0 {
		entry.pending--
	}
	if entry.state == sessionClosing && entry.pending == 0 {
		m.remove(entry)
	}
}

// Close detaches and releases the session's stream. The entry itself
// stays in the table, marked closing, until every pending invocation
// has completed or been discarded.
func (m *SessionManager) Close(id SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok || entry.state != sessionOpen {
		return
	}
	entry.state = sessionClosing
	if entry.stream != nil {
		entry.stream.Close()
		entry.stream = nil
	}
	if entry.pending == 0 {
		m.remove(entry)
	}
}

// remove deletes the entry. Callers must hold m.mu.
func (m *SessionManager) remove(entry *session) {
	entry.state = sessionClosed
	delete(m.sessions, entry.id)
	metrics.SessionsActive.Dec()
	slog.Debug("[haetae] session closed",
		slog.String("session_id", entry.id.String()),
		slog.Time("created_at", entry.createdAt))
}

// Len returns the number of sessions currently tracked.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
