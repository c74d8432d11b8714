package haetae

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/minsukim/haetae/internal/metrics"
	"github.com/minsukim/haetae/transport"
	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/jsonrpc2"
)

// compatibility check
var _ transport.Bridge = (*bridge)(nil)

// bridge routes messages posted on the message endpoint to the Tool and
// protocol handlers, and delivers responses over the session's event stream.
type bridge struct {
	haetae *Haetae
}

func newBridge(h *Haetae) *bridge {
	return &bridge{haetae: h}
}

func (b *bridge) OpenStream(ctx context.Context, stream *transport.Stream, clientSessionID string) (string, error) {
	if clientSessionID != "" {
		id := ParseSessionID(clientSessionID)
		if err := b.haetae.sessions.Attach(id, stream); err != nil {
			return "", err
		}
		return id.String(), nil
	}
	id := b.haetae.sessions.Create()
	if err := b.haetae.sessions.Attach(id, stream); err != nil {
		return "", err
	}
	slog.Debug("[haetae] stream opened", slog.String("session_id", id.String()))
	return id.String(), nil
}

func (b *bridge) CloseStream(ctx context.Context, sessionID string) {
	b.haetae.sessions.Close(ParseSessionID(sessionID))
	slog.Debug("[haetae] stream closed", slog.String("session_id", sessionID))
}

func (b *bridge) HandleMessage(ctx context.Context, sessionID string, body []byte) error {
	id := ParseSessionID(sessionID)
	if _, ok := b.haetae.sessions.Lookup(id); !ok {
		return fmt.Errorf("session '%s': %w", sessionID, transport.ErrSessionNotFound)
	}

	msg, err := jsonrpc2.DecodeMessage(body)
	if err != nil {
		return fmt.Errorf("%w: %w", jsonrpc2.ErrParse, err)
	}
	req, ok := msg.(*jsonrpc2.Request)
	if !ok {
		// responses from the client have no server-side handler
		return jsonrpc2.ErrInvalidRequest
	}
	if !req.IsCall() {
		return b.handleNotification(req)
	}

	switch req.Method {
	case MethodInitialize:
		return b.handleInitialize(ctx, id, req)
	case MethodPing:
		return b.respond(ctx, id, req, struct{}{}, nil)
	case MethodToolsList:
		return b.respond(ctx, id, req, &listToolsResult{
			Tools: slices.Collect(maps.Values(b.haetae.tools)),
		}, nil)
	case MethodToolsCall:
		return b.handleToolsCall(ctx, id, req)
	default:
		return fmt.Errorf("%w: %s", jsonrpc2.ErrMethodNotFound, req.Method)
	}
}

func (b *bridge) handleNotification(req *jsonrpc2.Request) error {
	switch req.Method {
	case MethodInitializedNotification:
		return nil
	default:
		slog.Debug("[haetae] ignoring notification", slog.String("method", req.Method))
		return nil
	}
}

func (b *bridge) handleInitialize(ctx context.Context, id SessionID, req *jsonrpc2.Request) error {
	var params initializeRequestParams
	if err := b.haetae.jsonUnmarshalFunc(req.Params, &params); err != nil {
		return fmt.Errorf("%w: %w", jsonrpc2.ErrInvalidParams, err)
	}

	protocolVersion := params.ProtocolVersion
	if support := SupportedProtocolVersions[protocolVersion]; !support {
		protocolVersion = LatestProtocolVersion
	}

	return b.respond(ctx, id, req, &initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    b.haetae.capabilities,
		ServerInfo: implementation{
			Name:    b.haetae.name,
			Version: b.haetae.version,
		},
	}, nil)
}

// handleToolsCall validates the call synchronously and runs the Tool handler
// in the background. The caller gets its acknowledgement as soon as the call
// is admitted; the result travels over the session's event stream.
func (b *bridge) handleToolsCall(ctx context.Context, id SessionID, req *jsonrpc2.Request) error {
	var params callToolRequestParams
	if err := b.haetae.jsonUnmarshalFunc(req.Params, &params); err != nil {
		return fmt.Errorf("%w: %w", jsonrpc2.ErrInvalidParams, err)
	}

	tool, toolAvailable := b.haetae.tools[params.Name]
	if !toolAvailable {
		return fmt.Errorf("%w: unknown tool %q", jsonrpc2.ErrInvalidParams, params.Name)
	}

	if err := b.haetae.sessions.AddPending(id); err != nil {
		return err
	}

	inv := invocation{
		id:      ulid.Make().String(),
		tool:    params.Name,
		started: b.haetae.nowFunc(),
		session: id,
		request: req,
		handler: tool.handler,
		args:    params,
	}
	go b.invoke(context.WithoutCancel(ctx), inv)
	return nil
}

// invocation carries one admitted tools/call through its background run.
type invocation struct {
	id      string
	tool    string
	started time.Time
	session SessionID
	request *jsonrpc2.Request
	handler ToolHandlerFunc
	args    callToolRequestParams
}

func (b *bridge) invoke(ctx context.Context, inv invocation) {
	defer b.haetae.sessions.DonePending(inv.session)

	c := b.haetae.toolContextPool.Get().(*toolContext)
	var dest callToolResult
	c.toolName = inv.tool
	c.ctx = ctx
	c.args = inv.args.Arguments
	c.dest = &dest

	defer func() {
		c.reset()
		b.haetae.toolContextPool.Put(c)
	}()

	outcome := "ok"
	if err := inv.handler(c); err != nil {
		outcome = "error"
		wrapped := fmt.Errorf(ErrorMessageFailedToHandleTool, inv.tool, err)
		slog.Warn("[haetae] tool handler failed",
			slog.String("invocation_id", inv.id),
			slog.String("tool", inv.tool),
			slog.String("session_id", inv.session.String()),
			slog.Any("error", wrapped))
		dest = textResult(wrapped.Error(), true)
	}
	metrics.InvocationsTotal.WithLabelValues(inv.tool, outcome).Inc()

	if err := b.respond(ctx, inv.session, inv.request, &dest, nil); err != nil {
		slog.Warn("[haetae] failed to deliver tool result",
			slog.String("invocation_id", inv.id),
			slog.String("tool", inv.tool),
			slog.String("session_id", inv.session.String()),
			slog.Duration("elapsed", b.haetae.nowFunc().Sub(inv.started)),
			slog.Any("error", err))
	}
}

// respond encodes a jsonrpc2 response for req and pushes it on the session's
// event stream.
func (b *bridge) respond(ctx context.Context, id SessionID, req *jsonrpc2.Request, result any, respErr error) error {
	var raw any
	if result != nil {
		encoded, err := b.haetae.jsonMarshalFunc(result)
		if err != nil {
			return err
		}
		raw = json.RawMessage(encoded)
	}
	resp, err := jsonrpc2.NewResponse(req.ID, raw, respErr)
	if err != nil {
		return err
	}
	data, err := jsonrpc2.EncodeMessage(resp)
	if err != nil {
		return err
	}

	stream, ok := b.haetae.sessions.Lookup(id)
	if !ok {
		metrics.DeliveryFailuresTotal.Inc()
		return fmt.Errorf("session '%s': %w", id, transport.ErrSessionNotFound)
	}
	if err := stream.Push(data); err != nil {
		metrics.DeliveryFailuresTotal.Inc()
		return err
	}
	return nil
}
