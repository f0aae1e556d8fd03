// Package builtin provides the in-process hooks that ship with agenthost:
// tool-call logging and the security guards that run ahead of every tool
// execution.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/agenthost/agenthost/internal/hooks"
)

// RegisterDefaults registers the built-in hooks into the registry:
// security guards first (priority 10), tool logging last (priority 90).
func RegisterDefaults(registry *hooks.Registry) error {
	for _, hook := range []hooks.Hook{
		&PathTraversalHook{},
		&DangerousCommandHook{},
		&ToolLoggingHook{},
	} {
		if err := registry.Register(hook); err != nil {
			return err
		}
	}
	return nil
}

// toolCallInfo pulls the tool name and arguments out of an event payload.
func toolCallInfo(data map[string]any) (string, map[string]any) {
	call, _ := data["tool_call"].(map[string]any)
	name, _ := call["name"].(string)
	args, _ := call["args"].(map[string]any)
	return name, args
}

// PathTraversalHook blocks file-operation tool calls whose path argument
// resolves outside the working directory, e.g. ../../../etc/passwd.
type PathTraversalHook struct{}

var fileTools = map[string]bool{
	"read_file":  true,
	"write_file": true,
	"edit_file":  true,
	"ls":         true,
	"glob":       true,
	"grep":       true,
}

func (h *PathTraversalHook) Name() string              { return "path_traversal_prevention" }
func (h *PathTraversalHook) Events() []hooks.HookEvent { return []hooks.HookEvent{hooks.PreToolCall} }
func (h *PathTraversalHook) Priority() int             { return 10 }

func (h *PathTraversalHook) Execute(_ context.Context, hctx *hooks.HookContext) (*hooks.HookResult, error) {
	toolName, toolArgs := toolCallInfo(hctx.Data)
	if !fileTools[toolName] {
		return hooks.Continue(), nil
	}

	pathArg := firstString(toolArgs, "file_path", "path", "directory")
	if pathArg == "" {
		return hooks.Continue(), nil
	}

	resolved, err := filepath.Abs(pathArg)
	if err != nil {
		// If the path cannot be resolved, let it through rather than
		// produce false positives; the tool itself will fail on it.
		log.Warn("Could not resolve path for validation", "path", pathArg, "error", err)
		return hooks.Continue(), nil
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return hooks.Continue(), nil
	}

	rel, err := filepath.Rel(workingDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		log.Warn("Blocked path traversal attempt",
			"tool", toolName, "path", pathArg, "resolved", resolved, "cwd", workingDir)
		return hooks.Block(
			"Path traversal blocked",
			fmt.Sprintf("Access denied: path %s is outside the working directory", pathArg),
		), nil
	}

	return hooks.Continue(), nil
}

// DangerousCommandHook blocks shell tool calls matching a denylist of
// destructive command patterns.
type DangerousCommandHook struct{}

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[rf]+\s+)?/\s*$`),
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`:\(\)\s*\{.*\}\s*;`),
	regexp.MustCompile(`(?i)dd\s+if=/dev/(zero|random)`),
	regexp.MustCompile(`(?i)mkfs\.`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`(?i)chmod\s+(-R\s+)?777`),
	regexp.MustCompile(`(?i)curl.*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)wget.*\|\s*(ba)?sh`),
}

var shellTools = map[string]bool{
	"shell":   true,
	"execute": true,
	"bash":    true,
}

func (h *DangerousCommandHook) Name() string              { return "dangerous_command_prevention" }
func (h *DangerousCommandHook) Events() []hooks.HookEvent { return []hooks.HookEvent{hooks.PreToolCall} }
func (h *DangerousCommandHook) Priority() int             { return 10 }

func (h *DangerousCommandHook) Execute(_ context.Context, hctx *hooks.HookContext) (*hooks.HookResult, error) {
	toolName, toolArgs := toolCallInfo(hctx.Data)
	if !shellTools[toolName] {
		return hooks.Continue(), nil
	}

	command, _ := toolArgs["command"].(string)
	if command == "" {
		return hooks.Continue(), nil
	}

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(command) {
			log.Warn("Blocked dangerous command",
				"tool", toolName, "command", command, "pattern", pattern.String())
			preview := command
			if len(preview) > 100 {
				preview = preview[:100]
			}
			return hooks.Block(
				"Dangerous command blocked",
				fmt.Sprintf("Potentially dangerous command blocked: %s", preview),
			), nil
		}
	}

	return hooks.Continue(), nil
}

// ToolLoggingHook logs every tool call before and after execution for
// debugging and auditing.
type ToolLoggingHook struct{}

func (h *ToolLoggingHook) Name() string { return "tool_logging" }
func (h *ToolLoggingHook) Events() []hooks.HookEvent {
	return []hooks.HookEvent{hooks.PreToolCall, hooks.PostToolCall}
}
func (h *ToolLoggingHook) Priority() int { return 90 }

func (h *ToolLoggingHook) Execute(_ context.Context, hctx *hooks.HookContext) (*hooks.HookResult, error) {
	toolName, toolArgs := toolCallInfo(hctx.Data)

	switch hctx.Event {
	case hooks.PreToolCall:
		log.Info("Tool call", "tool", toolName, "args", toolArgs)
	case hooks.PostToolCall:
		log.Info("Tool completed", "tool", toolName, "result", summarize(hctx.Data["result"]))
	}
	return hooks.Continue(), nil
}

func summarize(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
