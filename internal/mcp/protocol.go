package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the MCP protocol revision sent during the
// initialize handshake.
const ProtocolVersion = "2024-11-05"

// Client identity advertised in the initialize request.
const (
	clientName    = "agenthost"
	clientVersion = "0.1.0"
)

// Sentinel errors for the failure classes callers need to tell apart.
// Structural and protocol failures carry their own context via wrapping;
// these cover the states a caller may want to branch on.
var (
	// ErrNotConnected is returned when an operation requires a connected
	// client (CallTool, ReadResource) and the client is not connected.
	ErrNotConnected = errors.New("not connected")

	// ErrRequestTimeout is returned when a request exceeds its timeout.
	// It is distinct from protocol errors so callers can decide to retry.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnectionClosed is returned to pending requests when the
	// connection goes away (disconnect or reader loop exit).
	ErrConnectionClosed = errors.New("connection closed")
)

// RPCError is a JSON-RPC error object carried in a response. It surfaces
// as a typed failure to the caller of the specific operation that failed.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error: %s", e.Message)
}

// Tool is a tool definition advertised by a server. It is an immutable
// snapshot taken at connect time.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource is a resource advertised by a server, snapshotted at connect
// time like tools.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Capabilities are the server capabilities returned by initialize.
// Presence of a key gates whether the catalog fetch for that category
// runs at all.
type Capabilities struct {
	Tools     map[string]any `json:"tools,omitempty"`
	Resources map[string]any `json:"resources,omitempty"`
	Prompts   map[string]any `json:"prompts,omitempty"`
	Logging   map[string]any `json:"logging,omitempty"`
}

// ContentBlock is one element of a tools/call content array or a
// resources/read contents array.
type ContentBlock struct {
	Type     string          `json:"type,omitempty"`
	Text     string          `json:"text,omitempty"`
	URI      string          `json:"uri,omitempty"`
	MIMEType string          `json:"mimeType,omitempty"`
	Data     string          `json:"data,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// request is an outgoing JSON-RPC request or, with no ID, a notification.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is an incoming JSON-RPC message. Responses carry an ID and
// either a result or an error; server-initiated notifications carry a
// method instead.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    Capabilities    `json:"capabilities"`
	ServerInfo      json.RawMessage `json:"serverInfo,omitempty"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type listResourcesResult struct {
	Resources []Resource `json:"resources"`
}

type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type readResourceResult struct {
	Contents []ContentBlock `json:"contents"`
}
