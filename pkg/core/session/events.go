package session

// Event is the interface for session lifecycle events delivered to UI
// consumers.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when a transition is committed.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "session.state_changed" }

// ErrorSetEvent is emitted when an error forces the session into ERROR.
type ErrorSetEvent struct {
	Message string `json:"message"`
}

func (e *ErrorSetEvent) EventType() string { return "session.error" }

// ResetEvent is emitted after a full reset, carrying the fresh session id.
type ResetEvent struct {
	SessionID string `json:"session_id"`
}

func (e *ResetEvent) EventType() string { return "session.reset" }

// ConfirmRequestedEvent is emitted when a confirmation step opens.
type ConfirmRequestedEvent struct {
	Text string `json:"text"`
}

func (e *ConfirmRequestedEvent) EventType() string { return "session.confirm_requested" }
