package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
)

// Executor runs the hook chain for an event: in-process hooks first, then
// shell hooks, each group in ascending priority order. The first veto
// short-circuits the chain; hook failures are fail-closed and surface as
// a veto carrying the hook's name and cause.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs all hooks matching hctx.Event. Data mutations returned by
// a hook replace hctx.Data for the hooks that follow, and the last
// mutation is carried in the aggregate so the caller sees it too.
func (e *Executor) Execute(ctx context.Context, hctx *HookContext) *HookResult {
	aggregate := Continue()

	for _, hook := range e.registry.GetHooks(hctx.Event) {
		result, err := e.runHook(ctx, hook, hctx)
		if err != nil {
			log.Error("Hook failed", "hook", hook.Name(), "error", err)
			return Block(fmt.Sprintf("Hook '%s' failed: %v", hook.Name(), err), "")
		}
		if done := e.fold(aggregate, result, hook.Name(), hctx); done != nil {
			return done
		}
	}

	for _, shellHook := range e.registry.GetShellHooks(hctx.Event) {
		result := e.executeShellHook(ctx, shellHook, hctx)
		if done := e.fold(aggregate, result, shellHook.Name, hctx); done != nil {
			return done
		}
	}

	return aggregate
}

// runHook invokes one in-process hook, converting a panic into an error
// so a broken hook cannot take the host down.
func (e *Executor) runHook(ctx context.Context, hook Hook, hctx *HookContext) (result *HookResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.Execute(ctx, hctx)
}

// fold merges one hook's result into the running aggregate. It returns a
// non-nil result when the chain must stop (veto), and nil to continue.
func (e *Executor) fold(aggregate, result *HookResult, name string, hctx *HookContext) *HookResult {
	if result == nil {
		return nil
	}
	if !result.ShouldContinue() {
		return result
	}
	if result.ModifiedData != nil {
		hctx.Data = result.ModifiedData
		aggregate.ModifiedData = result.ModifiedData
	}
	if result.Message != "" {
		log.Info("Hook message", "hook", name, "message", result.Message)
	}
	return nil
}

// executeShellHook runs one shell hook as a one-shot subprocess: the
// context is written to stdin as JSON and stdin is closed, the process
// runs to exit, and stdout must contain a single JSON object with at
// least continue_execution. Non-zero exit always vetoes regardless of
// stdout. A configured timeout terminates a hung script.
func (e *Executor) executeShellHook(ctx context.Context, hook ShellHook, hctx *HookContext) *HookResult {
	payload, err := sonic.Marshal(hctx)
	if err != nil {
		return Block(fmt.Sprintf("Shell hook '%s' failed: %v", hook.Name, err), "")
	}

	runCtx := ctx
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(hook.Timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, hook.ScriptPath)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			log.Warn("Shell hook timed out", "hook", hook.Name, "timeout", hook.Timeout)
			return Block(fmt.Sprintf("Shell hook '%s' timed out after %ds", hook.Name, hook.Timeout), "")
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			reason := strings.TrimSpace(stderr.String())
			if reason == "" {
				reason = "Unknown error"
			}
			log.Warn("Shell hook exited non-zero",
				"hook", hook.Name, "code", exitErr.ExitCode(), "stderr", reason)
			return Block(fmt.Sprintf("Shell hook exited with code %d: %s", exitErr.ExitCode(), reason), "")
		}
		log.Error("Shell hook could not run", "hook", hook.Name, "error", err)
		return Block(fmt.Sprintf("Shell hook '%s' failed: %v", hook.Name, err), "")
	}

	var result HookResult
	if err := sonic.Unmarshal(stdout.Bytes(), &result); err != nil {
		log.Warn("Shell hook returned invalid JSON", "hook", hook.Name, "error", err)
		return Block(fmt.Sprintf("Shell hook returned invalid JSON: %v", err), "")
	}
	if result.ContinueExecution == nil {
		log.Warn("Shell hook result missing continue_execution", "hook", hook.Name)
		return Block("Shell hook returned invalid result structure (must include 'continue_execution')", "")
	}
	return &result
}
