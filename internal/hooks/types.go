package hooks

import "context"

// HookContext carries everything a hook may inspect when it runs. Data is
// the event-specific payload (tool name and arguments, error details, and
// so on). Hooks never mutate a context directly; they return modified
// data through their HookResult and the executor copies it forward.
type HookContext struct {
	Event        HookEvent      `json:"event"`
	Data         map[string]any `json:"data"`
	SessionState map[string]any `json:"session_state"`
	AssistantID  string         `json:"assistant_id,omitempty"`
}

// HookResult is what a hook execution returns. ContinueExecution=false is
// the only veto signal; an absent field defaults to true, which the
// pointer encodes.
type HookResult struct {
	ContinueExecution *bool          `json:"continue_execution,omitempty"`
	ModifiedData      map[string]any `json:"modified_data,omitempty"`
	Message           string         `json:"message,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// ShouldContinue reports whether the chain may proceed past this result.
func (r *HookResult) ShouldContinue() bool {
	return r == nil || r.ContinueExecution == nil || *r.ContinueExecution
}

// Continue builds a passing result.
func Continue() *HookResult {
	return &HookResult{ContinueExecution: boolPtr(true)}
}

// Block builds a vetoing result. A veto is a normal negative outcome, not
// an error: it propagates to the tool-call layer as a refusal.
func Block(errMsg, message string) *HookResult {
	return &HookResult{
		ContinueExecution: boolPtr(false),
		Error:             errMsg,
		Message:           message,
	}
}

func boolPtr(b bool) *bool { return &b }

// Hook is the interface in-process hooks implement. Lower priority values
// run first; 0-100 is the recommended range with 50 as the default.
type Hook interface {
	// Name is the hook's unique identifier across both hook kinds.
	Name() string

	// Events lists the events this hook responds to.
	Events() []HookEvent

	// Priority orders execution; lower runs first.
	Priority() int

	// Execute runs the hook against the given context.
	Execute(ctx context.Context, hctx *HookContext) (*HookResult, error)
}

// DefaultShellPriority is used when a shell hook declares no priority.
const DefaultShellPriority = 50

// ShellHook describes an external shell-script hook. It is a declarative
// descriptor, not itself executable; the executor's shell adapter runs
// the script as a one-shot subprocess. Timeout is in seconds; zero means
// the script may run unbounded.
type ShellHook struct {
	Name       string      `yaml:"name"`
	ScriptPath string      `yaml:"script"`
	Events     []HookEvent `yaml:"events"`
	Priority   int         `yaml:"priority"`
	Timeout    int         `yaml:"timeout"`
}

func containsEvent(events []HookEvent, event HookEvent) bool {
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}
