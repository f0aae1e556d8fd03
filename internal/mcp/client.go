package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/agenthost/agenthost/internal/config"
)

// DefaultRequestTimeout bounds how long a single JSON-RPC request may
// wait for its response.
const DefaultRequestTimeout = 30 * time.Second

// rpcOutcome is the single-resolution result slot for one pending request.
type rpcOutcome struct {
	result json.RawMessage
	err    error
}

// Client is an MCP client for one configured server. It owns the server
// process and its streams exclusively. Requests are correlated to
// responses strictly by ID, so out-of-order responses are handled
// correctly.
type Client struct {
	cfg     *config.ServerConfig
	timeout time.Duration

	// dial is swapped out by tests to connect against in-memory streams.
	dial func(*config.ServerConfig) (Transport, error)

	nextID atomic.Int64

	mu        sync.Mutex
	transport Transport
	connected bool
	pending   map[int64]chan rpcOutcome

	capabilities Capabilities
	tools        []Tool
	resources    []Resource
}

// ClientOption adjusts client construction.
type ClientOption func(*Client)

// WithRequestTimeout overrides the default per-request timeout. Slow
// external tool servers are plausible, so the bound is adjustable even
// though the default is fixed.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient builds a disconnected client for cfg.
func NewClient(cfg *config.ServerConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg:     cfg,
		timeout: DefaultRequestTimeout,
		dial: func(cfg *config.ServerConfig) (Transport, error) {
			return NewStdioTransport(cfg)
		},
		pending: make(map[int64]chan rpcOutcome),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// IsConnected reports whether the connect sequence has completed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Capabilities returns the server capabilities from the handshake.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// Tools returns the tool catalog snapshotted at connect time.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

// Resources returns the resource catalog snapshotted at connect time.
func (c *Client) Resources() []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resources
}

// Connect launches the server process, starts the reader loop, performs
// the initialize handshake, and fetches the tool and resource catalogs.
// Any failure along the way rolls the client back to fully disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		log.Warn("Client already connected", "server", c.cfg.Name)
		return nil
	}
	c.mu.Unlock()

	transport, err := c.dial(c.cfg)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()

	go c.readLoop(transport)

	if err := c.initialize(ctx); err != nil {
		c.Disconnect()
		return fmt.Errorf("connect to MCP server %s: %w", c.cfg.Name, err)
	}
	if err := c.fetchTools(ctx); err != nil {
		c.Disconnect()
		return fmt.Errorf("connect to MCP server %s: %w", c.cfg.Name, err)
	}
	if err := c.fetchResources(ctx); err != nil {
		c.Disconnect()
		return fmt.Errorf("connect to MCP server %s: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	log.Info("Connected to MCP server", "server", c.cfg.Name, "tools", len(c.Tools()))
	return nil
}

// Disconnect tears the connection down: pending requests fail with a
// cancellation error, a best-effort shutdown notification is sent, and
// the process is terminated. Idempotent, and safe to call even if
// Connect never completed.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.connected = false
	c.mu.Unlock()

	if transport == nil {
		return nil
	}

	// Best effort; the server may already be gone.
	if err := transport.WriteMessage(request{JSONRPC: "2.0", Method: "shutdown", Params: map[string]any{}}); err != nil {
		log.Debug("Shutdown notification failed", "server", c.cfg.Name, "error", err)
	}

	c.failPending(ErrConnectionClosed)

	err := transport.Close()
	log.Info("Disconnected from MCP server", "server", c.cfg.Name)
	return err
}

// CallTool invokes a remote tool and returns the content blocks from its
// result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) ([]ContentBlock, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("call tool %s on server %s: %w", name, c.cfg.Name, ErrNotConnected)
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	raw, err := c.sendRequest(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s on server %s: %w", name, c.cfg.Name, err)
	}

	var result callToolResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("call tool %s on server %s: decode result: %w", name, c.cfg.Name, err)
	}
	return result.Content, nil
}

// ReadResource reads a remote resource and returns its contents.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ContentBlock, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("read resource %s on server %s: %w", uri, c.cfg.Name, ErrNotConnected)
	}

	raw, err := c.sendRequest(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("read resource %s on server %s: %w", uri, c.cfg.Name, err)
	}

	var result readResourceResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("read resource %s on server %s: decode result: %w", uri, c.cfg.Name, err)
	}
	return result.Contents, nil
}

// initialize performs the handshake and stores the advertised
// capabilities, then acknowledges with the initialized notification.
func (c *Client) initialize(ctx context.Context) error {
	raw, err := c.sendRequest(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("initialize: decode result: %w", err)
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.mu.Unlock()
	log.Debug("Server capabilities received", "server", c.cfg.Name)

	return c.sendNotification("notifications/initialized", map[string]any{})
}

// fetchTools snapshots the tool catalog. Skipped when the server does not
// advertise the tools capability.
func (c *Client) fetchTools(ctx context.Context) error {
	if c.Capabilities().Tools == nil {
		log.Debug("Server does not support tools", "server", c.cfg.Name)
		return nil
	}

	raw, err := c.sendRequest(ctx, "tools/list", map[string]any{})
	if err != nil {
		return fmt.Errorf("fetch tools: %w", err)
	}

	var result listToolsResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("fetch tools: decode result: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	log.Debug("Fetched tools", "server", c.cfg.Name, "count", len(result.Tools))
	return nil
}

// fetchResources snapshots the resource catalog. Skipped when the server
// does not advertise the resources capability.
func (c *Client) fetchResources(ctx context.Context) error {
	if c.Capabilities().Resources == nil {
		log.Debug("Server does not support resources", "server", c.cfg.Name)
		return nil
	}

	raw, err := c.sendRequest(ctx, "resources/list", map[string]any{})
	if err != nil {
		return fmt.Errorf("fetch resources: %w", err)
	}

	var result listResourcesResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("fetch resources: decode result: %w", err)
	}

	c.mu.Lock()
	c.resources = result.Resources
	c.mu.Unlock()
	log.Debug("Fetched resources", "server", c.cfg.Name, "count", len(result.Resources))
	return nil
}

// sendRequest allocates the next request ID, registers a pending slot,
// writes the request, and awaits the correlated response. IDs are
// process-local, monotonically increasing, and never reused. On timeout
// the slot is removed and the late response, if any, is dropped by the
// dispatcher.
func (c *Client) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return nil, ErrConnectionClosed
	}

	id := c.nextID.Add(1)
	slot := make(chan rpcOutcome, 1)

	c.mu.Lock()
	c.pending[id] = slot
	c.mu.Unlock()

	removeSlot := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := transport.WriteMessage(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		removeSlot()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case outcome := <-slot:
		if outcome.err != nil {
			return nil, fmt.Errorf("%s: %w", method, outcome.err)
		}
		return outcome.result, nil

	case <-time.After(c.timeout):
		removeSlot()
		return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)

	case <-ctx.Done():
		removeSlot()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// sendNotification writes a fire-and-forget message: same framing, no ID,
// no pending slot.
func (c *Client) sendNotification(method string, params any) error {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return ErrConnectionClosed
	}
	return transport.WriteMessage(request{JSONRPC: "2.0", Method: method, Params: params})
}

// readLoop reads frames for the life of the connection and dispatches
// them. When the stream ends, every still-pending request fails.
func (c *Client) readLoop(transport Transport) {
	for {
		payload, err := transport.ReadMessage()
		if err != nil {
			log.Debug("Reader loop ended", "server", c.cfg.Name, "error", err)
			break
		}
		c.dispatch(payload)
	}
	c.failPending(ErrConnectionClosed)
}

// dispatch routes one incoming message: responses resolve their pending
// slot by ID; messages carrying a method with no matching ID are
// server-initiated notifications, which are only logged.
func (c *Client) dispatch(payload []byte) {
	if idField := gjson.GetBytes(payload, "id"); idField.Exists() {
		id := idField.Int()

		c.mu.Lock()
		slot, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if !ok {
			log.Debug("Dropping response with unknown ID", "server", c.cfg.Name, "id", id)
			return
		}

		var msg response
		if err := sonic.Unmarshal(payload, &msg); err != nil {
			slot <- rpcOutcome{err: fmt.Errorf("decode response: %w", err)}
			return
		}
		if msg.Error != nil {
			slot <- rpcOutcome{err: msg.Error}
			return
		}
		slot <- rpcOutcome{result: msg.Result}
		return
	}

	if method := gjson.GetBytes(payload, "method"); method.Exists() {
		// Server-initiated notifications have no handler chain yet.
		log.Debug("Server notification", "server", c.cfg.Name, "method", method.String())
		return
	}

	log.Warn("Received unknown message", "server", c.cfg.Name)
}

// failPending resolves every outstanding request with err and empties the
// pending map.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, slot := range c.pending {
		slot <- rpcOutcome{err: err}
		delete(c.pending, id)
	}
}

// pendingCount reports the number of outstanding requests.
func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
