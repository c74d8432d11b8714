// Package client implements a minimal client for servers speaking the
// SSE tool protocol: one long-lived GET event stream paired with POSTed
// JSON-RPC messages correlated by session ID.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/exp/jsonrpc2"
)

// Event is one server-sent event taken off the stream.
type Event struct {
	// Name is the event type, e.g. "endpoint" or "message".
	Name string

	// Data is the raw event payload.
	Data []byte
}

// Message decodes the event payload as a JSON-RPC message.
func (e Event) Message() (jsonrpc2.Message, error) {
	return jsonrpc2.DecodeMessage(e.Data)
}

// Client holds one event stream connection and posts messages against it.
type Client struct {
	_ struct{}

	httpClient  *http.Client
	header      http.Header
	sessionID   string
	messagesURL string

	events chan Event
	cancel context.CancelFunc

	closeOnce sync.Once
	body      interface{ Close() error }
}

type dialOptions struct {
	httpClient *http.Client
	streamPath string
	header     http.Header
	maxTries   uint
	interval   time.Duration
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// DialWithHTTPClient sets the http.Client used for the stream and for
// posted messages.
func DialWithHTTPClient(httpClient *http.Client) DialOption {
	return func(o *dialOptions) {
		o.httpClient = httpClient
	}
}

// DialWithStreamPath overrides the event stream path.
func DialWithStreamPath(path string) DialOption {
	return func(o *dialOptions) {
		o.streamPath = path
	}
}

// DialWithHeader attaches a header to every request, e.g. a gateway
// subscription key.
func DialWithHeader(name, value string) DialOption {
	return func(o *dialOptions) {
		o.header.Set(name, value)
	}
}

// DialWithRetry configures connection establishment retries.
func DialWithRetry(maxTries uint, interval time.Duration) DialOption {
	return func(o *dialOptions) {
		o.maxTries = maxTries
		o.interval = interval
	}
}

// Dial connects the event stream and waits for the server to announce
// the message endpoint. Connection establishment is retried with a
// constant interval; once the stream is up there are no reconnects.
func Dial(ctx context.Context, baseURL string, options ...DialOption) (*Client, error) {
	o := &dialOptions{
		httpClient: http.DefaultClient,
		streamPath: "/sse",
		header:     make(http.Header),
		maxTries:   3,
		interval:   2 * time.Second,
	}
	for _, opt := range options {
		opt(o)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	res, err := backoff.Retry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, baseURL+o.streamPath, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header = o.header.Clone()
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")

		res, err := o.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if res.StatusCode != http.StatusOK {
			res.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", res.Status)
		}
		return res, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(o.interval)), backoff.WithMaxTries(o.maxTries))
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Client{
		httpClient: o.httpClient,
		header:     o.header,
		events:     make(chan Event, 16),
		cancel:     cancel,
		body:       res.Body,
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	endpoint, err := readEvent(scanner)
	if err != nil {
		c.Close()
		return nil, err
	}
	if endpoint.Name != "endpoint" {
		c.Close()
		return nil, fmt.Errorf("expected endpoint event, got %q", endpoint.Name)
	}
	messagesURL, sessionID, err := parseEndpoint(baseURL, string(endpoint.Data))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.messagesURL = messagesURL
	c.sessionID = sessionID

	go c.read(scanner)
	return c, nil
}

// SessionID returns the session ID announced by the server, exactly as
// it appeared in the endpoint event.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Events returns the stream of message events. The channel is closed
// when the stream ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Call posts a JSON-RPC call to the message endpoint. The server
// acknowledges admission immediately; the result arrives on Events.
func (c *Client) Call(ctx context.Context, method string, params any) error {
	call, err := jsonrpc2.NewCall(jsonrpc2.StringID(uuid.NewString()), method, params)
	if err != nil {
		return err
	}
	return c.post(ctx, call)
}

// Notify posts a JSON-RPC notification to the message endpoint.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	notification, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.post(ctx, notification)
}

func (c *Client) post(ctx context.Context, msg jsonrpc2.Message) error {
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header = c.header.Clone()
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %s", res.Status)
	}
	return nil
}

// Close tears down the event stream.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.body.Close()
	})
	return nil
}

// read drains events off the stream until it ends. Keepalive comments
// are dropped on the floor.
func (c *Client) read(scanner *bufio.Scanner) {
	defer close(c.events)
	for {
		event, err := readEvent(scanner)
		if err != nil {
			return
		}
		c.events <- event
	}
}

// readEvent reads one server-sent event. Comment-only frames are
// skipped.
func readEvent(scanner *bufio.Scanner) (Event, error) {
	var event Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event.Name != "" || len(event.Data) > 0 {
				return event, nil
			}
		case strings.HasPrefix(line, ":"):
			// comment, e.g. keepalive
		case strings.HasPrefix(line, "event:"):
			event.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			if len(event.Data) > 0 {
				event.Data = append(event.Data, '\n')
			}
			event.Data = append(event.Data, data...)
		}
	}
	if err := scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, errors.New("event stream closed")
}

// parseEndpoint resolves the endpoint event payload against the base
// URL and extracts the session ID from its query string. The ID is
// taken verbatim.
func parseEndpoint(baseURL, endpoint string) (messagesURL, sessionID string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", err
	}
	sessionID = u.Query().Get("session_id")
	if sessionID == "" {
		return "", "", fmt.Errorf("endpoint %q carries no session_id", endpoint)
	}
	if u.IsAbs() {
		return endpoint, sessionID, nil
	}
	return baseURL + endpoint, sessionID, nil
}
