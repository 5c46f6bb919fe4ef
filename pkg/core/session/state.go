package session

// State represents the current phase of the interaction turn.
type State int

const (
	// StateIdle is the resting state between turns.
	StateIdle State = iota
	// StateListening is when the capture resource is recording the user.
	StateListening
	// StateThinking is when the backend is interpreting the transcript.
	StateThinking
	// StateSpeaking is when a response is being played back.
	StateSpeaking
	// StateConfirming is when a pending action awaits user approval.
	StateConfirming
	// StateExecuting is when a confirmed action is being executed.
	StateExecuting
	// StateError is when the last operation failed and recovery is pending.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	case StateConfirming:
		return "CONFIRMING"
	case StateExecuting:
		return "EXECUTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// transitions maps each state to its allowed successors. A requested
// transition not listed here is rejected as a no-op; out-of-order callbacks
// from the speech resources must not corrupt the turn.
var transitions = map[State][]State{
	StateIdle:       {StateListening, StateError},
	StateListening:  {StateThinking, StateIdle, StateError},
	StateThinking:   {StateSpeaking, StateConfirming, StateIdle, StateError},
	StateSpeaking:   {StateIdle, StateError},
	StateConfirming: {StateThinking, StateExecuting, StateIdle, StateError},
	StateExecuting:  {StateIdle, StateError},
	StateError:      {StateIdle},
}

// canTransition reports whether moving from one state to another is allowed.
func canTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
