package backend

import "encoding/json"

// InterpretRequest asks the backend to interpret a captured utterance.
type InterpretRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// ToolCall is one backend-decided tool invocation.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// InterpretResponse is either a direct answer, a confirmation requirement,
// or a tool-call list.
type InterpretResponse struct {
	Content       string          `json:"content,omitempty"`
	ConfirmText   string          `json:"confirmText,omitempty"`
	PendingAction json.RawMessage `json:"pendingAction,omitempty"`
	ToolCalls     []ToolCall      `json:"toolCalls,omitempty"`
}

// NeedsConfirmation reports whether the response requires explicit user
// approval before execution.
func (r *InterpretResponse) NeedsConfirmation() bool {
	return r.ConfirmText != ""
}

// ExecuteRequest resolves a pending action.
type ExecuteRequest struct {
	SessionID    string `json:"sessionId"`
	Confirmation bool   `json:"confirmation"`
}

// ExecuteResponse is the outcome of executing a confirmed action.
type ExecuteResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}
