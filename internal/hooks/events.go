package hooks

// HookEvent represents a point in the agent lifecycle where hooks can be
// executed. The set is closed; the string values are the wire form passed
// to shell hooks.
type HookEvent string

const (
	// PreToolCall fires before a tool executes, allowing validation or veto
	PreToolCall HookEvent = "pre_tool_call"

	// PostToolCall fires after tool execution completes
	PostToolCall HookEvent = "post_tool_call"

	// UserPromptSubmit fires when the user submits a prompt, before agent processing
	UserPromptSubmit HookEvent = "user_prompt_submit"

	// AgentResponse fires when the agent generates a response
	AgentResponse HookEvent = "agent_response"

	// SessionStart fires when a session starts
	SessionStart HookEvent = "session_start"

	// SessionEnd fires when a session ends
	SessionEnd HookEvent = "session_end"

	// ToolApproval fires when a tool requires approval
	ToolApproval HookEvent = "tool_approval"

	// ErrorEvent fires when an error occurs
	ErrorEvent HookEvent = "error"
)

// IsValid returns true if the event is one of the defined hook events.
func (e HookEvent) IsValid() bool {
	switch e {
	case PreToolCall, PostToolCall, UserPromptSubmit, AgentResponse,
		SessionStart, SessionEnd, ToolApproval, ErrorEvent:
		return true
	}
	return false
}
