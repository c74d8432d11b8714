package haetae

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/minsukim/haetae/transport"
)

// Haetae is the top-level server instance.
type Haetae struct {
	// name of the server
	name string

	// version of the server
	version string

	// startupMutex is mutex to lock Haetae instance access during server configuration and startup.
	startupMutex sync.RWMutex

	// jsonUnmarshalFunc is the function to unmarshal JSON data
	jsonUnmarshalFunc JSONUnmarshalFunc

	// jsonMarshalFunc is the function to marshal JSON data
	jsonMarshalFunc JSONMarshalFunc

	// toolMiddleware is the list of toolMiddleware functions to be applied to each Tool handler
	toolMiddleware []ToolMiddlewareFunc

	// toolContextPool pools ToolContext
	toolContextPool sync.Pool

	// tools is the map of Tool names to Tool instances
	tools map[string]Tool

	// capabilities is the map of capabilities
	capabilities ServerCapabilities

	// sessions manage session
	sessions *SessionManager

	// nowFunc is the function to get the current time
	nowFunc NowFunc
}

// ToolMiddlewareFunc defines a function to process Tool middleware.
type ToolMiddlewareFunc func(next ToolHandlerFunc) ToolHandlerFunc

// ToolHandlerFunc defines a function to serve Tool requests.
type ToolHandlerFunc func(c ToolContext) error

// JSONUnmarshalFunc defines a function to unmarshal JSON data.
type JSONUnmarshalFunc func(data []byte, v any) error

// JSONMarshalFunc defines a function to marshal JSON data.
type JSONMarshalFunc func(v any) ([]byte, error)

// NowFunc defines a function to get the current time.
type NowFunc func() time.Time

// Option configures the Haetae instance.
type Option func(*Haetae)

func WithVersion(version string) Option {
	return func(h *Haetae) {
		h.version = version
	}
}

// WithJSONUnmarshalFunc sets the JSON unmarshal function.
func WithJSONUnmarshalFunc(f JSONUnmarshalFunc) Option {
	return func(h *Haetae) {
		h.jsonUnmarshalFunc = f
	}
}

// WithJSONMarshalFunc sets the JSON marshal function.
func WithJSONMarshalFunc(f JSONMarshalFunc) Option {
	return func(h *Haetae) {
		h.jsonMarshalFunc = f
	}
}

// WithNowFunc sets the function to get the current time.
func WithNowFunc(f NowFunc) Option {
	return func(h *Haetae) {
		h.nowFunc = f
	}
}

// New creates a new Haetae instance with the given name.
func New(name string, options ...Option) *Haetae {
	h := &Haetae{
		name:              name,
		version:           "1.0.0",
		tools:             make(map[string]Tool),
		jsonMarshalFunc:   json.Marshal,
		jsonUnmarshalFunc: json.Unmarshal,
		nowFunc:           time.Now,
	}
	ok := h.startupMutex.TryLock()
	if !ok {
		panic(ErrHaetaeLockingConflicts)
	}
	defer h.startupMutex.Unlock()

	for _, opt := range options {
		opt(h)
	}
	h.toolContextPool = sync.Pool{
		New: func() any {
			return newToolContext(h.jsonUnmarshalFunc, h.jsonMarshalFunc)
		},
	}
	h.sessions = NewSessionManager(h.nowFunc)
	return h
}

type toolOptions struct {
	description string
	annotation  *ToolAnnotations
	middlewares []ToolMiddlewareFunc
}

// ToolOption configures the Tool options.
type ToolOption func(*toolOptions)

// ToolWithDescription configures the Tool description.
func ToolWithDescription(description string) ToolOption {
	return func(o *toolOptions) {
		o.description = description
	}
}

// ToolWithAnnotations configures the Tool annotations.
func ToolWithAnnotations(annotations ToolAnnotations) ToolOption {
	return func(o *toolOptions) {
		o.annotation = &annotations
	}
}

// ToolWithMiddleware configures the Tool middleware.
func ToolWithMiddleware(middlewares ...ToolMiddlewareFunc) ToolOption {
	return func(o *toolOptions) {
		slices.Reverse(middlewares)
		o.middlewares = slices.Concat(middlewares, o.middlewares)
	}
}

// Tool registers a new Tool with the given name and description.
//
//   - name: the name of the Tool
//   - req: the request schema for the Tool
//   - handler: the handler function for the Tool
//   - options: (optional) the options for the Tool
func (h *Haetae) Tool(name string, req any, handler ToolHandlerFunc, options ...ToolOption) {
	ok := h.startupMutex.TryLock()
	if !ok {
		panic(ErrHaetaeLockingConflicts)
	}
	defer h.startupMutex.Unlock()

	if h.capabilities.Tools == nil {
		h.capabilities.Tools = &ToolCapability{}
	}

	opts := &toolOptions{}
	for _, o := range options {
		o(opts)
	}

	f := handler
	slices.Reverse(opts.middlewares)
	for _, m := range opts.middlewares {
		f = m(f)
	}
	ref := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := ref.Reflect(req)
	schema.Version = ""
	h.tools[name] = Tool{
		Name:        name,
		Description: opts.description,
		InputSchema: schema,
		Annotations: opts.annotation,
		handler:     f,
	}
}

// UseInTools adds middleware to the Tool handler chain.
func (h *Haetae) UseInTools(middleware ...ToolMiddlewareFunc) {
	ok := h.startupMutex.TryLock()
	if !ok {
		panic(ErrHaetaeLockingConflicts)
	}
	defer h.startupMutex.Unlock()
	slices.Reverse(middleware)
	h.toolMiddleware = slices.Concat(middleware, h.toolMiddleware)
}

// Sessions returns the session manager.
func (h *Haetae) Sessions() *SessionManager {
	return h.sessions
}

// Handler builds the http.Handler serving the event stream and message
// endpoints. Tool middleware is folded into the handlers at this point.
func (h *Haetae) Handler(options ...transport.SSEOption) http.Handler {
	ok := h.startupMutex.TryLock()
	if !ok {
		panic(ErrHaetaeLockingConflicts)
	}
	defer h.startupMutex.Unlock()

	for name, tool := range h.tools {
		for _, middleware := range h.toolMiddleware {
			tool.handler = middleware(tool.handler)
		}
		h.tools[name] = tool
	}
	return transport.NewSSE(newBridge(h), options...)
}

type startOptions struct {
	ctx       context.Context
	address   string
	listener  net.Listener
	transport []transport.SSEOption
}

// StartOption configures the startup settings for the Haetae instance
type StartOption func(*startOptions)

// StartWithContext settings the context
func StartWithContext(ctx context.Context) StartOption {
	return func(o *startOptions) {
		o.ctx = ctx
	}
}

// StartWithAddress settings the listen address
func StartWithAddress(address string) StartOption {
	return func(o *startOptions) {
		o.address = address
	}
}

// StartWithListener settings the net.Listener
func StartWithListener(listener net.Listener) StartOption {
	return func(o *startOptions) {
		o.listener = listener
	}
}

// StartWithTransportOptions settings the transport options
func StartWithTransportOptions(options ...transport.SSEOption) StartOption {
	return func(o *startOptions) {
		o.transport = append(o.transport, options...)
	}
}

// Start starts the Haetae app
func (h *Haetae) Start(options ...StartOption) error {
	o := &startOptions{
		ctx:     context.Background(),
		address: ":8080",
	}
	for _, opt := range options {
		opt(o)
	}
	handler := h.Handler(o.transport...)

	ctx, cancel := context.WithCancel(o.ctx)
	defer cancel()

	srv := &http.Server{
		Addr:    o.address,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	context.AfterFunc(ctx, func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	})
	if o.listener != nil {
		return srv.Serve(o.listener)
	}
	return srv.ListenAndServe()
}
