package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int32

const (
	StreamConnecting StreamState = iota
	StreamOpen
	StreamClosed
)

// compatibility check
var _ fmt.Stringer = StreamState(0)

func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamOpen:
		return "open"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is the long-lived server-to-client event connection. Events
// pushed onto one Stream are written in the order Push was called;
// there is no reordering and no coalescing.
type Stream struct {
	_         struct{}
	w         http.ResponseWriter
	flusher   http.Flusher
	ctx       context.Context
	cancel    context.CancelFunc
	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewStream wraps an HTTP connection in a Stream. The stream starts in
// the connecting state; Open transitions it to open.
func NewStream(w http.ResponseWriter, r *http.Request) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	ctx, cancel := context.WithCancel(r.Context())
	s := &Stream{
		w:       w,
		flusher: flusher,
		ctx:     ctx,
		cancel:  cancel,
	}
	context.AfterFunc(ctx, func() {
		s.Close()
	})
	return s, nil
}

// Open writes the response headers and the endpoint event telling the
// client where to POST messages for this session.
func (s *Stream) Open(endpoint string) error {
	if !s.state.CompareAndSwap(int32(StreamConnecting), int32(StreamOpen)) {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(s.w, "event: endpoint\ndata: %s\n\n", endpoint); err != nil {
		return err
	}
	if _, err := fmt.Fprint(s.w, ": connection established\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Push frames data as a message event and writes it to the connection.
// After the stream is closed it returns ErrStreamClosed.
func (s *Stream) Push(data []byte) error {
	if s.State() != StreamOpen {
		return ErrStreamClosed
	}
	select {
	case <-s.ctx.Done():
		return ErrStreamClosed
	default:
		// no-op
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", data); err != nil {
		s.Close()
		return fmt.Errorf("failed to write event: %w", ErrStreamClosed)
	}
	s.flusher.Flush()
	return nil
}

// Probe sends a comment frame to keep the connection alive.
func (s *Stream) Probe() error {
	if s.State() != StreamOpen {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("failed to write probe: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive probes the connection on the given interval until the
// stream is closed.
func (s *Stream) KeepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Probe(); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Close transitions the stream to closed. Safe to call more than once
// and from concurrent goroutines.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StreamClosed))
		s.cancel()
	})
	return nil
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// Done is closed when the stream is torn down.
func (s *Stream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context returns the context of the stream.
func (s *Stream) Context() context.Context {
	return s.ctx
}
