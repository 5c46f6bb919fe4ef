package speech

import (
	"context"
	"fmt"
)

// Resource identifies one of the two arbitrated speech resources.
type Resource int

const (
	// Capture is the speech-to-text resource.
	Capture Resource = iota
	// Playback is the text-to-speech resource.
	Playback
)

// String returns a human-readable resource name.
func (r Resource) String() string {
	switch r {
	case Capture:
		return "capture"
	case Playback:
		return "playback"
	default:
		return "unknown"
	}
}

// Recognizer error codes, mirroring the fixed vocabulary of browser-style
// speech capture services.
const (
	CodeNoSpeech     = "no-speech"
	CodeAudioCapture = "audio-capture"
	CodeNotAllowed   = "not-allowed"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
)

// CaptureError is a capture resource failure identified by one of the fixed
// recognizer error codes.
type CaptureError struct {
	Code string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("speech capture: %s", e.Code)
}

// ErrorCode returns the recognizer error code for classification.
func (e *CaptureError) ErrorCode() string { return e.Code }

// CaptureHandlers receives the asynchronous signals of a capture attempt.
// Handlers may be invoked from the resource's own goroutines.
type CaptureHandlers struct {
	OnStart  func()
	OnResult func(transcript string)
	OnError  func(code string)
	OnEnd    func()
}

// Recognizer is the capture resource contract: an external service that
// records audio and produces a transcript.
type Recognizer interface {
	// Start begins a capture attempt. It returns once the start request has
	// been issued; results and termination arrive through the handlers.
	Start(ctx context.Context, h CaptureHandlers) error

	// Stop requests termination of the current capture attempt. The resource
	// confirms by invoking OnEnd.
	Stop() error
}

// PlaybackHandlers receives the asynchronous signals of a playback attempt.
type PlaybackHandlers struct {
	OnStart func()
	OnEnd   func()
	OnError func(err error)
}

// Synthesizer is the playback resource contract: an external service that
// speaks text aloud.
type Synthesizer interface {
	// Speak begins synthesis of text. It returns once the request has been
	// issued; completion arrives through the handlers.
	Speak(ctx context.Context, text string, h PlaybackHandlers) error

	// Cancel requests early termination of the current playback. The
	// resource confirms by invoking OnEnd.
	Cancel() error
}
