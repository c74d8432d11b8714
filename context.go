package haetae

import (
	"context"
	"encoding/json"
	"sync"
)

type Context interface {
	// Get retrieves data from the context.
	Get(key any) any
	// Set saves data in the context.
	Set(key any, val any)
	// Context returns the context
	Context() context.Context
	// SetContext sets the context
	SetContext(ctx context.Context)
}

var _ Context = (*_context)(nil)

type _context struct {
	ctx               context.Context
	store             sync.Map
	jsonUnmarshalFunc JSONUnmarshalFunc
	jsonMarshalFunc   JSONMarshalFunc
}

func (c *_context) Get(key any) any {
	v, _ := c.store.Load(key)
	return v
}

func (c *_context) Set(key any, val any) {
	c.store.Store(key, val)
}

func (c *_context) Context() context.Context {
	return c.ctx
}

func (c *_context) SetContext(ctx context.Context) {
	c.ctx = ctx
}

func (c *_context) reset() {
	c.store.Clear()
	c.ctx = nil
}

// ToolContext is the context for Tool handlers
type ToolContext interface {
	Context
	// ToolName returns the name of the Tool
	ToolName() string
	// Arguments return the arguments passed to the Tool
	Arguments() json.RawMessage
	// Bind binds the arguments into the provided type `i`.
	Bind(i any) error
	// String sends plain text content
	String(s string) error
	// JSON sends JSON content rendered as text
	JSON(i any) error
}

var (
	_ Context     = (*toolContext)(nil)
	_ ToolContext = (*toolContext)(nil)
)

type toolContext struct {
	_context
	toolName   string
	args       json.RawMessage
	annotation *ToolAnnotations
	dest       *callToolResult
}

func (c *toolContext) ToolName() string {
	return c.toolName
}

func (c *toolContext) Arguments() json.RawMessage {
	return c.args
}

func (c *toolContext) Bind(i any) error {
	args := c.Arguments()
	if len(args) == 0 {
		return nil
	}
	return c.jsonUnmarshalFunc(args, i)
}

func (c *toolContext) String(s string) error {
	*c.dest = textResult(s, false)
	return nil
}

func (c *toolContext) JSON(i any) error {
	b, err := c.jsonMarshalFunc(i)
	if err != nil {
		return err
	}
	*c.dest = textResult(string(b), false)
	return nil
}

func (c *toolContext) reset() {
	c.toolName = ""
	c.args = nil
	c.annotation = nil
	c.dest = nil
	c._context.reset()
}

func newToolContext(unmarshal JSONUnmarshalFunc, marshal JSONMarshalFunc) *toolContext {
	return &toolContext{
		_context: _context{
			jsonUnmarshalFunc: unmarshal,
			jsonMarshalFunc:   marshal,
		},
	}
}
