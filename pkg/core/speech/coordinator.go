// Package speech arbitrates the two mutually-interfering speech resources:
// a capture resource (speech-to-text) and a playback resource
// (text-to-speech).
//
// The two resources must never run in a way that lets capture hear the
// playback's own output, and no two start requests for the same resource may
// be in flight at once. The Coordinator serializes access, waits for stops
// to settle before issuing the next start, and discards stale resource
// callbacks by comparing them against a per-resource generation counter.
package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultSettleDelay = time.Second
	defaultStopTimeout = 2 * time.Second
)

// Coordinator owns both speech resources. All methods are safe for
// concurrent use; stop-style operations always resolve within their timeout
// bound even when a resource never confirms.
type Coordinator struct {
	recognizer  Recognizer
	synthesizer Synthesizer
	logger      *slog.Logger

	settleDelay time.Duration
	stopTimeout time.Duration

	mu              sync.Mutex
	captureOn       bool
	playbackOn      bool
	errored         bool
	starting        bool
	captureGen      uint64
	playbackGen     uint64
	captureStopped  chan struct{}
	playbackStopped chan struct{}
	completeFn      func()

	onTranscript func(string)
	onError      func(Resource, error)
	onEnded      func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithSettleDelay bounds the wait for playback to stop before capture starts.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.settleDelay = d }
}

// WithStopTimeout bounds how long stop operations wait for the resource to
// confirm termination before local state is forced.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.stopTimeout = d }
}

// NewCoordinator creates a coordinator over the given resources.
func NewCoordinator(recognizer Recognizer, synthesizer Synthesizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		recognizer:  recognizer,
		synthesizer: synthesizer,
		logger:      slog.Default(),
		settleDelay: defaultSettleDelay,
		stopTimeout: defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCallbacks wires the consumer callbacks: onTranscript receives capture
// results, onError receives resource failures for the recovery engine, and
// onEnded fires when a capture attempt ends for any reason other than a
// failed start, so the consumer can observe silent captures that produced no
// transcript. Stale callbacks from superseded attempts are filtered before
// delivery.
func (c *Coordinator) SetCallbacks(onTranscript func(string), onError func(Resource, error), onEnded func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscript = onTranscript
	c.onError = onError
	c.onEnded = onEnded
}

// State returns the combined resource state.
func (c *Coordinator) State() ResourceState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errored {
		return StateError
	}
	switch {
	case c.captureOn && c.playbackOn:
		return StateBothActive
	case c.captureOn:
		return StateCaptureActive
	case c.playbackOn:
		return StatePlaybackActive
	default:
		return StateIdle
	}
}

// StartListening starts the capture resource. If playback is active it is
// cancelled first and the coordinator waits for the stopped signal, bounded
// by the settle delay. If capture is already active or a start is already in
// flight the call is a no-op.
func (c *Coordinator) StartListening(ctx context.Context) error {
	c.mu.Lock()
	if c.captureOn || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	playbackOn := c.playbackOn
	playbackGen := c.playbackGen
	stopped := c.playbackStopped
	c.mu.Unlock()

	if playbackOn {
		if err := c.synthesizer.Cancel(); err != nil {
			c.logger.Debug("playback cancel before capture failed", "error", err)
		}
		if !c.waitStopped(ctx, stopped, c.settleDelay) {
			// The resource never confirmed within the settle delay; force
			// local playback state so capture can proceed.
			c.finishPlayback(playbackGen, true)
		}
	}

	c.mu.Lock()
	if c.captureOn {
		c.starting = false
		c.mu.Unlock()
		return nil
	}
	c.captureGen++
	gen := c.captureGen
	stoppedCh := make(chan struct{})
	c.captureStopped = stoppedCh
	c.captureOn = true
	c.errored = false
	c.mu.Unlock()

	h := CaptureHandlers{
		OnStart:  func() { c.onCaptureStart(gen) },
		OnResult: func(transcript string) { c.onCaptureResult(gen, transcript) },
		OnError:  func(code string) { c.onCaptureError(gen, code) },
		OnEnd:    func() { c.finishCapture(gen, false) },
	}

	if err := c.recognizer.Start(ctx, h); err != nil {
		// No attempt ever ran; the caller learns about the failure from
		// the returned error, not from the ended callback.
		c.endCapture(gen, true)
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()
	return nil
}

// StopListening stops the capture resource. It is idempotent, resolving
// immediately when capture is not active, and always resolves within the
// stop timeout: if the resource never confirms, local state is forced to
// stopped and late callbacks from the attempt are discarded.
func (c *Coordinator) StopListening(ctx context.Context) error {
	c.mu.Lock()
	if !c.captureOn {
		c.mu.Unlock()
		return nil
	}
	gen := c.captureGen
	stopped := c.captureStopped
	c.mu.Unlock()

	if err := c.recognizer.Stop(); err != nil {
		c.logger.Debug("capture stop request failed", "error", err)
	}
	if !c.waitStopped(ctx, stopped, c.stopTimeout) {
		c.finishCapture(gen, true)
	}
	return nil
}

// Speak stops capture if needed, then plays text. onComplete is invoked
// exactly once when playback ends; success, cancellation, and error all
// count as ended.
func (c *Coordinator) Speak(ctx context.Context, text string, onComplete func()) error {
	c.mu.Lock()
	captureOn := c.captureOn
	c.mu.Unlock()
	if captureOn {
		if err := c.StopListening(ctx); err != nil {
			return err
		}
	}

	// A speak already in flight is superseded; its onComplete fires as a
	// cancellation.
	c.CancelSpeak()

	c.mu.Lock()
	c.playbackGen++
	gen := c.playbackGen
	stoppedCh := make(chan struct{})
	c.playbackStopped = stoppedCh
	c.playbackOn = true

	var once sync.Once
	c.completeFn = func() {
		once.Do(func() {
			if onComplete != nil {
				onComplete()
			}
		})
	}
	c.mu.Unlock()

	h := PlaybackHandlers{
		OnStart: func() { c.onPlaybackStart(gen) },
		OnEnd:   func() { c.finishPlayback(gen, false) },
		OnError: func(err error) { c.onPlaybackError(gen, err) },
	}

	if err := c.synthesizer.Speak(ctx, text, h); err != nil {
		c.finishPlayback(gen, true)
		return err
	}
	return nil
}

// CancelSpeak requests early termination of playback. It is idempotent and
// always resolves within the stop timeout.
func (c *Coordinator) CancelSpeak() {
	c.mu.Lock()
	if !c.playbackOn {
		c.mu.Unlock()
		return
	}
	gen := c.playbackGen
	stopped := c.playbackStopped
	c.mu.Unlock()

	if err := c.synthesizer.Cancel(); err != nil {
		c.logger.Debug("playback cancel request failed", "error", err)
	}
	if !c.waitStopped(context.Background(), stopped, c.stopTimeout) {
		c.finishPlayback(gen, true)
	}
}

// ForceStopAll unconditionally stops both resources, fires any pending
// playback completion, clears the error flag, and returns to IDLE. This is
// the panic button used on session reset.
func (c *Coordinator) ForceStopAll() {
	c.mu.Lock()
	c.captureGen++
	c.playbackGen++
	captureOn := c.captureOn
	playbackOn := c.playbackOn
	complete := c.completeFn
	c.completeFn = nil
	if c.captureStopped != nil {
		close(c.captureStopped)
		c.captureStopped = nil
	}
	if c.playbackStopped != nil {
		close(c.playbackStopped)
		c.playbackStopped = nil
	}
	c.captureOn = false
	c.playbackOn = false
	c.errored = false
	c.starting = false
	c.mu.Unlock()

	if captureOn {
		if err := c.recognizer.Stop(); err != nil {
			c.logger.Debug("force stop capture failed", "error", err)
		}
	}
	if playbackOn {
		if err := c.synthesizer.Cancel(); err != nil {
			c.logger.Debug("force stop playback failed", "error", err)
		}
	}
	if complete != nil {
		complete()
	}
}

// waitStopped blocks until the stopped channel closes, the bound elapses, or
// the context is done. It reports whether the resource confirmed.
func (c *Coordinator) waitStopped(ctx context.Context, stopped <-chan struct{}, bound time.Duration) bool {
	if stopped == nil {
		return true
	}
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-stopped:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// finishCapture marks the capture attempt identified by gen as ended and
// notifies the consumer. The callback is invoked outside the lock; the
// consumer may start the next capture from inside it.
func (c *Coordinator) finishCapture(gen uint64, forced bool) {
	if !c.endCapture(gen, forced) {
		return
	}
	c.mu.Lock()
	ended := c.onEnded
	c.mu.Unlock()
	if ended != nil {
		ended()
	}
}

// endCapture ends the capture attempt identified by gen and reports whether
// it was still the current one. When forced (stop timeout, error, start
// failure) the generation is bumped so late callbacks from the attempt are
// treated as stale.
func (c *Coordinator) endCapture(gen uint64, forced bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.captureGen || !c.captureOn {
		return false
	}
	c.captureOn = false
	if forced {
		c.captureGen++
	}
	if c.captureStopped != nil {
		close(c.captureStopped)
		c.captureStopped = nil
	}
	return true
}

// finishPlayback marks the playback attempt identified by gen as ended and
// fires its completion exactly once.
func (c *Coordinator) finishPlayback(gen uint64, forced bool) {
	c.mu.Lock()
	if gen != c.playbackGen || !c.playbackOn {
		c.mu.Unlock()
		return
	}
	c.playbackOn = false
	if forced {
		c.playbackGen++
	}
	if c.playbackStopped != nil {
		close(c.playbackStopped)
		c.playbackStopped = nil
	}
	complete := c.completeFn
	c.completeFn = nil
	c.mu.Unlock()

	if complete != nil {
		complete()
	}
}

func (c *Coordinator) onCaptureStart(gen uint64) {
	c.mu.Lock()
	stale := gen != c.captureGen
	c.mu.Unlock()
	if stale {
		return
	}
	c.logger.Debug("capture started")
}

func (c *Coordinator) onCaptureResult(gen uint64, transcript string) {
	c.mu.Lock()
	stale := gen != c.captureGen
	handler := c.onTranscript
	c.mu.Unlock()

	if stale {
		c.logger.Debug("stale capture result discarded", "transcript", transcript)
		return
	}
	if handler != nil {
		handler(transcript)
	}
}

func (c *Coordinator) onCaptureError(gen uint64, code string) {
	c.mu.Lock()
	stale := gen != c.captureGen
	// An utterance window that closed with nothing heard is a normal
	// outcome; only real resource faults latch the ERROR state.
	if !stale && code != CodeNoSpeech {
		c.errored = true
	}
	handler := c.onError
	c.mu.Unlock()

	if stale {
		return
	}
	// Forced end: the failed attempt may still emit a late result, which
	// must not be delivered as if capture had succeeded.
	c.finishCapture(gen, true)
	if handler != nil {
		handler(Capture, &CaptureError{Code: code})
	}
}

func (c *Coordinator) onPlaybackStart(gen uint64) {
	c.mu.Lock()
	stale := gen != c.playbackGen
	c.mu.Unlock()
	if stale {
		return
	}
	c.logger.Debug("playback started")
}

func (c *Coordinator) onPlaybackError(gen uint64, err error) {
	c.mu.Lock()
	stale := gen != c.playbackGen
	if !stale {
		c.errored = true
	}
	handler := c.onError
	c.mu.Unlock()

	if stale {
		return
	}
	c.finishPlayback(gen, false)
	if handler != nil {
		handler(Playback, err)
	}
}
