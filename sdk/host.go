// Package sdk provides programmatic access to agenthost: it composes the
// server configuration, the hook registry, the connection manager, and the
// tool adapters into a single Host value, so embedding applications never
// touch package-level state.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/google/uuid"

	"github.com/agenthost/agenthost/internal/builtin"
	"github.com/agenthost/agenthost/internal/config"
	"github.com/agenthost/agenthost/internal/hooks"
	"github.com/agenthost/agenthost/internal/mcp"
	"github.com/agenthost/agenthost/internal/tools"
)

// Options configures Host creation. All fields are optional; zero values
// take the CLI defaults.
type Options struct {
	ConfigFile      string        // MCP server config path (default: search .agenthost/ then ~/.agenthost/)
	HookConfigFiles []string      // hooks.yml paths, merged in order
	RequestTimeout  time.Duration // per-request MCP timeout (0 = 30s default)
	SkipBuiltins    bool          // leave out the built-in security and logging hooks
	Hooks           []hooks.Hook  // extra in-process hooks to register
}

// Host is the composition root for one agenthost session.
type Host struct {
	sessionID    string
	sessionState map[string]any

	registry    *hooks.Registry
	executor    *hooks.Executor
	toolManager *tools.MCPToolManager
}

// New loads the configuration, registers hooks, and connects every enabled
// MCP server. Per-server failures do not fail New; it errors only when
// configuration cannot be loaded or every configured server fails.
func New(ctx context.Context, opts *Options) (*Host, error) {
	if opts == nil {
		opts = &Options{}
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load MCP config: %w", err)
	}

	registry := hooks.NewRegistry()
	if !opts.SkipBuiltins {
		if err := builtin.RegisterDefaults(registry); err != nil {
			return nil, fmt.Errorf("register built-in hooks: %w", err)
		}
	}
	for _, hook := range opts.Hooks {
		if err := registry.Register(hook); err != nil {
			return nil, fmt.Errorf("register hook: %w", err)
		}
	}
	if len(opts.HookConfigFiles) > 0 {
		hookCfg, err := hooks.LoadHookConfig(opts.HookConfigFiles...)
		if err != nil {
			return nil, err
		}
		if err := hookCfg.RegisterAll(registry); err != nil {
			return nil, err
		}
	}

	host := &Host{
		sessionID:    uuid.NewString(),
		sessionState: map[string]any{},
		registry:     registry,
		executor:     hooks.NewExecutor(registry),
	}

	var clientOpts []mcp.ClientOption
	if opts.RequestTimeout > 0 {
		clientOpts = append(clientOpts, mcp.WithRequestTimeout(opts.RequestTimeout))
	}
	host.toolManager = tools.NewMCPToolManager(
		tools.WithHookExecutor(host.executor),
		tools.WithSession(host.sessionState, host.sessionID),
		tools.WithClientOptions(clientOpts...),
	)
	if err := host.toolManager.LoadTools(ctx, cfg); err != nil {
		return nil, err
	}

	return host, nil
}

// SessionID returns the identifier attached to every hook context.
func (h *Host) SessionID() string { return h.sessionID }

// Registry exposes the hook registry for runtime registration.
func (h *Host) Registry() *hooks.Registry { return h.registry }

// Tools returns the adapted tools from every connected server.
func (h *Host) Tools() []tool.BaseTool {
	return h.toolManager.GetTools()
}

// CallTool invokes a tool on a server through the full hook chain. A hook
// veto surfaces as the returned text, not as an error.
func (h *Host) CallTool(ctx context.Context, server, toolName string, args map[string]any) (string, error) {
	wantName := fmt.Sprintf("mcp__%s__%s", server, toolName)
	for _, candidate := range h.toolManager.GetTools() {
		info, err := candidate.Info(ctx)
		if err != nil {
			continue
		}
		if info.Name != wantName {
			continue
		}
		invokable, ok := candidate.(tool.InvokableTool)
		if !ok {
			return "", fmt.Errorf("tool %s is not invokable", wantName)
		}
		payload, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("marshal arguments: %w", err)
		}
		return invokable.InvokableRun(ctx, string(payload))
	}
	return "", fmt.Errorf("no tool %s on server %s", toolName, server)
}

// ReadResource reads a resource from a connected server.
func (h *Host) ReadResource(ctx context.Context, server, uri string) ([]mcp.ContentBlock, error) {
	client := h.toolManager.Manager().Client(server)
	if client == nil {
		return nil, fmt.Errorf("server %s is not connected", server)
	}
	return client.ReadResource(ctx, uri)
}

// ServerStatuses returns the per-server connection states.
func (h *Host) ServerStatuses() []mcp.ServerState {
	return h.toolManager.Manager().States()
}

// StatusSummary returns a one-line connection summary.
func (h *Host) StatusSummary() string {
	return h.toolManager.Manager().StatusSummary()
}

// FireEvent runs the hook chain for a lifecycle event with the session
// identity attached. The session state map is shared across events, so
// hooks can accumulate state over the session.
func (h *Host) FireEvent(ctx context.Context, event hooks.HookEvent, data map[string]any) *hooks.HookResult {
	if data == nil {
		data = map[string]any{}
	}
	return h.executor.Execute(ctx, &hooks.HookContext{
		Event:        event,
		Data:         data,
		SessionState: h.sessionState,
		AssistantID:  h.sessionID,
	})
}

// Close fires the session-end hooks and disconnects every server.
func (h *Host) Close(ctx context.Context) error {
	h.FireEvent(ctx, hooks.SessionEnd, map[string]any{"session_id": h.sessionID})
	return h.toolManager.Close()
}
