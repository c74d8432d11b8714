package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/exp/jsonrpc2"
)

// stubBridge records calls and replies with canned results.
type stubBridge struct {
	sessionID        string
	openErr          error
	handleErr        error
	openCalls        atomic.Int32
	closeCalls       atomic.Int32
	handleCalls      atomic.Int32
	handledSessionID atomic.Value
}

func (b *stubBridge) OpenStream(_ context.Context, _ *Stream, clientSessionID string) (string, error) {
	b.openCalls.Add(1)
	if b.openErr != nil {
		return "", b.openErr
	}
	if clientSessionID != "" {
		return clientSessionID, nil
	}
	return b.sessionID, nil
}

func (b *stubBridge) CloseStream(context.Context, string) {
	b.closeCalls.Add(1)
}

func (b *stubBridge) HandleMessage(_ context.Context, sessionID string, _ []byte) error {
	b.handleCalls.Add(1)
	b.handledSessionID.Store(sessionID)
	return b.handleErr
}

func TestSSE_ServeMessage(t *testing.T) {
	type test struct {
		target    string
		headerID  string
		handleErr error
		status    int
		calls     int32
	}
	tests := map[string]test{
		"accepted via query": {
			target: "/messages/?session_id=abc",
			status: http.StatusAccepted,
			calls:  1,
		},
		"accepted via header": {
			target:   "/messages",
			headerID: "abc",
			status:   http.StatusAccepted,
			calls:    1,
		},
		"accepted via path": {
			target: "/messages/abc",
			status: http.StatusAccepted,
			calls:  1,
		},
		"missing session id": {
			target: "/messages",
			status: http.StatusBadRequest,
			calls:  0,
		},
		"unknown session": {
			target:    "/messages/?session_id=abc",
			handleErr: fmt.Errorf("session 'abc': %w", ErrSessionNotFound),
			status:    http.StatusNotFound,
			calls:     1,
		},
		"malformed message": {
			target:    "/messages/?session_id=abc",
			handleErr: fmt.Errorf("%w: bad payload", jsonrpc2.ErrParse),
			status:    http.StatusBadRequest,
			calls:     1,
		},
		"unknown tool": {
			target:    "/messages/?session_id=abc",
			handleErr: fmt.Errorf("%w: unknown tool", jsonrpc2.ErrInvalidParams),
			status:    http.StatusBadRequest,
			calls:     1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			bridge := &stubBridge{handleErr: tc.handleErr}
			sse := NewSSE(bridge)

			r := httptest.NewRequest("POST", tc.target, strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":"1"}`))
			if tc.headerID != "" {
				r.Header.Set(MCPSessionID, tc.headerID)
			}
			w := httptest.NewRecorder()
			sse.ServeHTTP(w, r)

			if w.Code != tc.status {
				t.Errorf("expected status %d, got %d (body %q)", tc.status, w.Code, w.Body.String())
			}
			if got := bridge.handleCalls.Load(); got != tc.calls {
				t.Errorf("expected %d handle calls, got %d", tc.calls, got)
			}
			if tc.status == http.StatusAccepted && w.Body.String() != "Accepted" {
				t.Errorf("expected body %q, got %q", "Accepted", w.Body.String())
			}
		})
	}
}

func TestSSE_ServeMessage_MissingSessionIDBody(t *testing.T) {
	bridge := &stubBridge{}
	sse := NewSSE(bridge)

	r := httptest.NewRequest("POST", "/messages/", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	sse.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if got := w.Body.String(); got != `{"error":"session_id required"}` {
		t.Errorf("unexpected body %q", got)
	}
}

func TestSSE_ServeStream(t *testing.T) {
	bridge := &stubBridge{sessionID: "01JX5B7Q2N3E4RT8HVD0AZEC6M"}
	sse := NewSSE(bridge)
	srv := httptest.NewServer(sse)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}
	if got := res.Header.Get(MCPSessionID); got != bridge.sessionID {
		t.Errorf("expected session header %q, got %q", bridge.sessionID, got)
	}

	reader := bufio.NewReader(res.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line != "event: endpoint\n" {
		t.Fatalf("expected endpoint event, got %q", line)
	}
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fmt.Sprintf("data: /messages/?session_id=%s\n", bridge.sessionID)
	if line != want {
		t.Errorf("expected %q, got %q", want, line)
	}

	cancel()
	io.Copy(io.Discard, res.Body)
}

func TestSSE_ServeStream_ClientSuppliedSessionID(t *testing.T) {
	bridge := &stubBridge{}
	sse := NewSSE(bridge)
	srv := httptest.NewServer(sse)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set(MCPSessionID, "client-chosen")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()

	if got := res.Header.Get(MCPSessionID); got != "client-chosen" {
		t.Errorf("expected session header %q, got %q", "client-chosen", got)
	}
}

func TestSSE_ServeStream_OpenError(t *testing.T) {
	bridge := &stubBridge{openErr: fmt.Errorf("session 'x': %w", ErrSessionNotFound)}
	sse := NewSSE(bridge)

	r := httptest.NewRequest("GET", "/sse", nil)
	w := httptest.NewRecorder()
	sse.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if got := bridge.closeCalls.Load(); got != 0 {
		t.Errorf("expected no close calls, got %d", got)
	}
}
