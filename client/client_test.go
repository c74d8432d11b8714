package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeServer speaks just enough of the wire protocol to exercise Dial.
func fakeServer(t *testing.T, sessionID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/sse":
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
			fmt.Fprintf(w, "event: endpoint\ndata: /messages/?session_id=%s\n\n", sessionID)
			fmt.Fprint(w, ": keepalive\n\n")
			fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":\"1\",\"result\":{}}\n\n")
			flusher.Flush()
			<-r.Context().Done()
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/messages"):
			if got := r.URL.Query().Get("session_id"); got != sessionID {
				t.Errorf("expected session id %q, got %q", sessionID, got)
			}
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, "Accepted")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDial(t *testing.T) {
	srv := fakeServer(t, "01JX5B7Q2N3E4RT8HVD0AZEC6M")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if got := c.SessionID(); got != "01JX5B7Q2N3E4RT8HVD0AZEC6M" {
		t.Errorf("unexpected session id %q", got)
	}

	// the keepalive comment must be invisible; the message event follows
	select {
	case ev := <-c.Events():
		if ev.Name != "message" {
			t.Errorf("expected message event, got %q", ev.Name)
		}
		if _, err := ev.Message(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message event")
	}

	if err := c.Call(ctx, "ping", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDial_RetriesConnection(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, "event: endpoint\ndata: /messages/?session_id=abc\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL, DialWithRetry(3, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestDial_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := Dial(ctx, srv.URL, DialWithRetry(2, 10*time.Millisecond)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDial_RejectsStreamWithoutSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, "event: endpoint\ndata: /messages/\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Dial(ctx, srv.URL); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadEvent(t *testing.T) {
	type test struct {
		input string
		name  string
		data  string
	}
	tests := map[string]test{
		"single data line": {
			input: "event: message\ndata: hello\n\n",
			name:  "message",
			data:  "hello",
		},
		"multi data line": {
			input: "event: message\ndata: one\ndata: two\n\n",
			name:  "message",
			data:  "one\ntwo",
		},
		"comment skipped": {
			input: ": keepalive\n\nevent: message\ndata: hello\n\n",
			name:  "message",
			data:  "hello",
		},
		"data without space": {
			input: "event: endpoint\ndata:/messages/?session_id=abc\n\n",
			name:  "endpoint",
			data:  "/messages/?session_id=abc",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tc.input))
			event, err := readEvent(scanner)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.Name != tc.name {
				t.Errorf("expected name %q, got %q", tc.name, event.Name)
			}
			if string(event.Data) != tc.data {
				t.Errorf("expected data %q, got %q", tc.data, string(event.Data))
			}
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	type test struct {
		endpoint    string
		messagesURL string
		sessionID   string
		wantErr     bool
	}
	tests := map[string]test{
		"relative": {
			endpoint:    "/messages/?session_id=abc",
			messagesURL: "http://example.com/messages/?session_id=abc",
			sessionID:   "abc",
		},
		"absolute": {
			endpoint:    "http://other.example.com/messages/?session_id=abc",
			messagesURL: "http://other.example.com/messages/?session_id=abc",
			sessionID:   "abc",
		},
		"missing session id": {
			endpoint: "/messages/",
			wantErr:  true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			messagesURL, sessionID, err := parseEndpoint("http://example.com", tc.endpoint)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if messagesURL != tc.messagesURL {
				t.Errorf("expected url %q, got %q", tc.messagesURL, messagesURL)
			}
			if sessionID != tc.sessionID {
				t.Errorf("expected session id %q, got %q", tc.sessionID, sessionID)
			}
		})
	}
}
