package speech

// ResourceState is the coordinator's combined view of both speech resources.
// It is ephemeral and never persisted.
type ResourceState int

const (
	// StateIdle means neither resource is active.
	StateIdle ResourceState = iota
	// StateCaptureActive means only the capture resource is running.
	StateCaptureActive
	// StatePlaybackActive means only the playback resource is running.
	StatePlaybackActive
	// StateBothActive is the transient overlap while one resource hands
	// off to the other. It must not outlive the settle delay.
	StateBothActive
	// StateError means a resource reported a failure that has not yet been
	// cleared by a force stop.
	StateError
)

// String returns a human-readable state name.
func (s ResourceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCaptureActive:
		return "CAPTURE_ACTIVE"
	case StatePlaybackActive:
		return "PLAYBACK_ACTIVE"
	case StateBothActive:
		return "BOTH_ACTIVE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
