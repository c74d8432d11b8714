package haetae

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

const (
	ProtocolVersion20250326 string = "2025-03-26"
	ProtocolVersion20241105 string = "2024-11-05"
	ProtocolVersion20241007 string = "2024-10-07"
	LatestProtocolVersion          = ProtocolVersion20250326
)

var SupportedProtocolVersions = map[string]bool{
	LatestProtocolVersion:   true,
	ProtocolVersion20241105: true,
	ProtocolVersion20241007: true,
}

// JSONRPCVersion represents the version of the JSON-RPC protocol used in haetae.
const JSONRPCVersion = "2.0"

const (
	// MethodInitialize Initiates connection and negotiates protocol capabilities.
	// https://modelcontextprotocol.io/specification/2024-11-05/basic/lifecycle/#initialization
	MethodInitialize string = "initialize"

	// MethodPing Verifies connection liveness between client and server.
	// https://modelcontextprotocol.io/specification/2024-11-05/basic/utilities/ping/
	MethodPing string = "ping"

	// MethodToolsList Lists all available executable tools.
	// https://modelcontextprotocol.io/specification/2024-11-05/server/tools/
	MethodToolsList string = "tools/list"

	// MethodToolsCall Invokes a specific Tool with provided parameters.
	// https://modelcontextprotocol.io/specification/2024-11-05/server/tools/
	MethodToolsCall string = "tools/call"

	MethodInitializedNotification = "notifications/initialized"
)

// implementation describes the name and version of an MCP implementation.
type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeRequestParams sent from the client to the server when it first connects, asking it to begin initialization.
type initializeRequestParams struct {
	// ProtocolVersion is the latest version of the Model Context Protocol that the client supports.
	//
	// The client MAY decide to support older versions as well.
	ProtocolVersion string `json:"protocolVersion"`

	Capabilities clientCapabilities `json:"capabilities"`

	ClientInfo implementation `json:"clientInfo"`
}

// clientCapabilities is a set of capabilities a client may support. Known capabilities are defined here, in this schema,
// but this is not a closed set: any client can define its own, additional capabilities.
type clientCapabilities struct {
	// Experimental is non-standard capabilities that the client supports.
	Experimental map[string]any `json:"experimental,omitzero"`

	// Sampling presents if the client supports sampling from an LLM.
	Sampling map[string]any `json:"sampling,omitzero"`
}

// ServerCapabilities is a set of capabilities defined here, but this is not a closed set:
// any server can define its own, additional capabilities.
type ServerCapabilities struct {
	// Experimental contains non-standard capabilities that the server supports.
	Experimental map[string]any `json:"experimental,omitzero"`

	// Tools present if the server offers any tools to call.
	Tools *ToolCapability `json:"tools,omitzero"`
}

// ToolCapability represents server capabilities for tools.
type ToolCapability struct {
	// ListChanged indicates this server supports notifications for changes to the Tool list if true.
	ListChanged bool `json:"listChanged,omitzero"`
}

// initializeResult sent from the server after receiving an initialize request from the client.
type initializeResult struct {
	// ProtocolVersion is the version of the Model Context Protocol that the server wants to use.
	// This may not match the version that the client requested.
	// If the client cannot support this version, it MUST disconnect.
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      implementation     `json:"serverInfo"`

	// Instructions describe how to use the server and its features.
	Instructions string `json:"instructions,omitempty"`
}

// callToolRequestParams is used by the client to invoke a Tool provided by the server.
type callToolRequestParams struct {
	// Name is the name of the Tool.
	Name string `json:"name"`

	// Arguments contains the arguments to use for the Tool.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Tool defines a Tool that the client can call.
type Tool struct {
	// Name of the Tool.
	Name string `json:"name"`

	// Description of the Tool that is human-readable.
	Description string `json:"description,omitzero"`

	// InputSchema defines the arguments that the Tool accepts in JSON Schema format.
	InputSchema *jsonschema.Schema `json:"inputSchema"`

	// Annotations hint to the client about the Tool's behavior.
	Annotations *ToolAnnotations `json:"annotations,omitzero"`

	// handler handles invoke the Tool with the provided arguments.
	handler ToolHandlerFunc `json:"-"`
}

// ToolAnnotations represents additional properties describing a Tool to clients.
//
// NOTE: all properties in ToolAnnotations are **hints**.
// They are not guaranteed to provide a faithful description of
// Tool behavior (including descriptive properties like `title`).
type ToolAnnotations struct {
	// Title is a human-readable title for the Tool.
	Title string `json:"title,omitzero"`

	// ReadOnlyHint indicates the Tool does not modify its environment if true
	//
	// Default: false
	ReadOnlyHint bool `json:"readOnlyHint,omitzero"`

	// IdempotentHint indicates that calling the Tool repeatedly with the same arguments
	// will have no additional effect on the its environment if true.
	//
	// (This property is meaningful only when `readOnlyHint == false`)
	//
	// Default: false
	IdempotentHint bool `json:"idempotentHint,omitzero"`

	// OpenWorldHint indicates this Tool may interact with an "open world" of external entities if true.
	//
	// Default: true
	OpenWorldHint bool `json:"openWorldHint,omitzero"`
}

type listToolsResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
	Tools      []Tool `json:"tools"`
}

// textContent is the textual payload of a tool result. Every tool
// result is rendered to text before it goes on the wire.
type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// callToolResult is the server's response to a tools/call request.
type callToolResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitzero"`
}

func textResult(text string, isError bool) callToolResult {
	return callToolResult{
		Content: []textContent{{Type: "text", Text: text}},
		IsError: isError,
	}
}
