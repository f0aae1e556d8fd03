// Package tools adapts the tool catalogs of connected MCP servers into
// eino tools the agent graph can invoke, with the hook chain intercepting
// every call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"

	"github.com/agenthost/agenthost/internal/config"
	"github.com/agenthost/agenthost/internal/hooks"
	"github.com/agenthost/agenthost/internal/mcp"
)

// MCPToolManager connects the configured MCP servers and exposes their
// tools as eino tools named mcp__<server>__<tool>.
type MCPToolManager struct {
	manager  *mcp.Manager
	executor *hooks.Executor
	tools    []tool.BaseTool

	sessionState map[string]any
	assistantID  string

	clientOpts []mcp.ClientOption
}

// Option adjusts tool manager construction.
type Option func(*MCPToolManager)

// WithHookExecutor wires the hook chain around every tool invocation.
func WithHookExecutor(executor *hooks.Executor) Option {
	return func(m *MCPToolManager) { m.executor = executor }
}

// WithSession attaches the session state and assistant identity passed to
// hooks on each invocation.
func WithSession(state map[string]any, assistantID string) Option {
	return func(m *MCPToolManager) {
		m.sessionState = state
		m.assistantID = assistantID
	}
}

// WithClientOptions forwards options (such as request timeout overrides)
// to every MCP client the manager builds.
func WithClientOptions(opts ...mcp.ClientOption) Option {
	return func(m *MCPToolManager) { m.clientOpts = opts }
}

// NewMCPToolManager creates an empty tool manager.
func NewMCPToolManager(opts ...Option) *MCPToolManager {
	m := &MCPToolManager{sessionState: map[string]any{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadTools connects every enabled server concurrently and builds the
// tool list from the catalogs of the servers that made it. It fails only
// when servers were configured and none connected.
func (m *MCPToolManager) LoadTools(ctx context.Context, cfg *config.Config) error {
	m.manager = mcp.NewManager(cfg, m.clientOpts...)

	if err := m.manager.ConnectAll(ctx); err != nil {
		return err
	}

	enabled := m.manager.Enabled()
	connected := m.manager.Connected()
	if len(enabled) > 0 && len(connected) == 0 {
		return fmt.Errorf("all MCP servers failed to connect")
	}

	for _, state := range connected {
		client := m.manager.Client(state.Config.Name)
		if client == nil {
			continue
		}
		for _, mcpTool := range client.Tools() {
			adapted, err := m.adaptTool(client, mcpTool)
			if err != nil {
				log.Warn("Skipping tool with unusable schema",
					"server", state.Config.Name, "tool", mcpTool.Name, "error", err)
				continue
			}
			m.tools = append(m.tools, adapted)
		}
	}

	log.Debug("MCP tools loaded", "count", len(m.tools))
	return nil
}

// GetTools returns the adapted tools.
func (m *MCPToolManager) GetTools() []tool.BaseTool {
	return m.tools
}

// Manager exposes the underlying connection manager for status queries.
func (m *MCPToolManager) Manager() *mcp.Manager {
	return m.manager
}

// Close disconnects all servers.
func (m *MCPToolManager) Close() error {
	if m.manager == nil {
		return nil
	}
	return m.manager.Shutdown()
}

// adaptTool wraps one catalog entry. The schema passes through the
// draft-07 to draft-04 bounds conversion and the empty-object-properties
// fix before eino sees it, since some providers reject object schemas
// with nil properties.
func (m *MCPToolManager) adaptTool(client *mcp.Client, mcpTool mcp.Tool) (tool.InvokableTool, error) {
	raw := []byte(mcpTool.InputSchema)
	if len(raw) == 0 {
		raw = []byte(`{"type":"object"}`)
	}
	raw = convertExclusiveBoundsToBoolean(raw)

	toolSchema := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, toolSchema); err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}
	if toolSchema.Type == "object" && toolSchema.Properties == nil {
		toolSchema.Properties = jsonschema.NewProperties()
	}

	description := mcpTool.Description
	if description == "" {
		description = fmt.Sprintf("MCP tool: %s", mcpTool.Name)
	}

	return &mcpToolAdapter{
		manager:  m,
		client:   client,
		toolName: mcpTool.Name,
		info: &schema.ToolInfo{
			Name:        fmt.Sprintf("mcp__%s__%s", client.Name(), mcpTool.Name),
			Desc:        description,
			ParamsOneOf: schema.NewParamsOneOfByJSONSchema(toolSchema),
		},
	}, nil
}

// mcpToolAdapter is one catalog tool exposed through eino's
// InvokableTool interface.
type mcpToolAdapter struct {
	manager  *MCPToolManager
	client   *mcp.Client
	toolName string
	info     *schema.ToolInfo
}

func (t *mcpToolAdapter) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.info, nil
}

// InvokableRun runs the pre-tool hook chain, calls the remote tool, then
// runs the post-tool chain. A hook veto returns a refusal message as the
// tool result rather than an error, so the agent sees the refusal text.
func (t *mcpToolAdapter) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args map[string]any
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", fmt.Errorf("parse arguments for tool %s: %w", t.toolName, err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	if t.manager.executor != nil {
		result := t.manager.executor.Execute(ctx, &hooks.HookContext{
			Event: hooks.PreToolCall,
			Data: map[string]any{
				"server":    t.client.Name(),
				"tool_call": map[string]any{"name": t.toolName, "args": args},
			},
			SessionState: t.manager.sessionState,
			AssistantID:  t.manager.assistantID,
		})
		if !result.ShouldContinue() {
			return refusalText(result), nil
		}
		if modified, ok := result.ModifiedData["tool_call"].(map[string]any); ok {
			if modifiedArgs, ok := modified["args"].(map[string]any); ok {
				args = modifiedArgs
			}
		}
	}

	content, err := t.client.CallTool(ctx, t.toolName, args)
	if err != nil {
		return "", err
	}
	text := flattenContent(content)

	if t.manager.executor != nil {
		result := t.manager.executor.Execute(ctx, &hooks.HookContext{
			Event: hooks.PostToolCall,
			Data: map[string]any{
				"server":    t.client.Name(),
				"tool_call": map[string]any{"name": t.toolName, "args": args},
				"result":    text,
			},
			SessionState: t.manager.sessionState,
			AssistantID:  t.manager.assistantID,
		})
		if !result.ShouldContinue() {
			return refusalText(result), nil
		}
		if modified, ok := result.ModifiedData["result"].(string); ok {
			text = modified
		}
	}

	return text, nil
}

// refusalText renders a hook veto as the message the agent receives.
func refusalText(result *hooks.HookResult) string {
	if result.Message != "" {
		return fmt.Sprintf("Tool call blocked: %s", result.Message)
	}
	if result.Error != "" {
		return fmt.Sprintf("Tool call blocked: %s", result.Error)
	}
	return "Tool call blocked by hook"
}

// flattenContent joins the textual parts of a tool result.
func flattenContent(content []mcp.ContentBlock) string {
	var parts []string
	for _, block := range content {
		switch {
		case block.Text != "":
			parts = append(parts, block.Text)
		case block.Type == "resource":
			uri := block.URI
			if uri == "" {
				uri = "unknown"
			}
			parts = append(parts, fmt.Sprintf("Resource: %s", uri))
		}
	}
	if len(parts) == 0 {
		return "Success"
	}
	return strings.Join(parts, "\n")
}
