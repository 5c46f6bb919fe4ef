package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxa-go/voxa/pkg/core/session"
	"github.com/voxa-go/voxa/pkg/core/speech"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = time.Second
)

// SessionController is the narrow session handle the engine drives.
// *session.Session satisfies it.
type SessionController interface {
	SetState(next session.State) bool
	SetError(message string)
	Reset()
}

// SpeechController is the narrow coordinator handle the engine drives.
// *speech.Coordinator satisfies it.
type SpeechController interface {
	StartListening(ctx context.Context) error
	Speak(ctx context.Context, text string, onComplete func()) error
	ForceStopAll()
}

// Hooks carries the caller-supplied callbacks for one HandleError call.
type Hooks struct {
	// Retry replaces the default retry action (return to IDLE, resume
	// listening) when the RETRY strategy fires.
	Retry func()

	// UserAction is invoked with the user-facing message when the
	// USER_ACTION strategy fires. Without it the engine only stops and sets
	// the error; it never auto-recovers these.
	UserAction func(message string)
}

// Engine classifies errors and executes their recovery strategies.
type Engine struct {
	sess   SessionController
	voice  SpeechController
	logger *slog.Logger

	maxRetries  int
	backoffBase time.Duration
	schedule    func(d time.Duration, fn func())
	overrides   map[Domain]map[string]string

	mu      sync.Mutex
	retries map[string]int
	epoch   uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithBackoffBase sets the first retry delay; attempt n waits base * 2^(n-1).
func WithBackoffBase(d time.Duration) EngineOption {
	return func(e *Engine) { e.backoffBase = d }
}

// WithScheduler replaces the timer used to schedule retries.
func WithScheduler(schedule func(d time.Duration, fn func())) EngineOption {
	return func(e *Engine) { e.schedule = schedule }
}

// WithMessages overlays the built-in user-facing message table, so
// deployments can localize the spoken recovery phrases. Lookup falls back
// from (domain, key) to the domain default, then to the built-in table.
func WithMessages(overrides map[Domain]map[string]string) EngineOption {
	return func(e *Engine) { e.overrides = overrides }
}

// NewEngine creates an engine driving the given session and coordinator.
func NewEngine(sess SessionController, voice SpeechController, opts ...EngineOption) *Engine {
	e := &Engine{
		sess:        sess,
		voice:       voice,
		logger:      slog.Default(),
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		retries:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.schedule == nil {
		e.schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	return e
}

// HandleError classifies err within domain and executes the resulting
// strategy. hooks may be nil.
func (e *Engine) HandleError(err error, domain Domain, hooks *Hooks) {
	if hooks == nil {
		hooks = &Hooks{}
	}

	key := deriveKey(err)
	r := classify(domain, key)
	msg := e.message(domain, key)

	e.logger.Info("error classified",
		"domain", string(domain),
		"key", key,
		"severity", r.severity.String(),
		"strategy", r.strategy.String(),
		"error", err,
	)

	switch r.strategy {
	case StrategyIgnore:
		// Absorbed silently so spurious errors never interrupt the user.
	case StrategyRetry:
		e.retry(domain, key, msg, hooks)
	case StrategyResetCurrent:
		e.resetCurrent(msg)
	case StrategyResetAll:
		e.resetAll(msg)
	case StrategyUserAction:
		e.userAction(msg, hooks)
	}
}

// HandleResourceError routes a speech resource failure to the matching
// domain. It is shaped to plug directly into the coordinator's error
// callback.
func (e *Engine) HandleResourceError(resource speech.Resource, err error) {
	domain := DomainVoiceRecognition
	if resource == speech.Playback {
		domain = DomainTextToSpeech
	}
	e.HandleError(err, domain, nil)
}

// ClearRetries discards the retry counters for a domain; call it when an
// operation in that domain succeeds.
func (e *Engine) ClearRetries(domain Domain) {
	prefix := string(domain) + ":"
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.retries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.retries, k)
		}
	}
}

// ClearAllRetries discards every retry counter and invalidates any retry
// already on the timer; a pending retry firing after a full reset must not
// restart capture behind the user's back.
func (e *Engine) ClearAllRetries() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries = make(map[string]int)
	e.epoch++
}

// RetryCount returns the current counter for (domain, errorKey); used by
// consumers that surface retry progress.
func (e *Engine) RetryCount(domain Domain, errorKey string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retries[string(domain)+":"+errorKey]
}

func (e *Engine) retry(domain Domain, key, msg string, hooks *Hooks) {
	counterKey := string(domain) + ":" + key

	e.mu.Lock()
	e.retries[counterKey]++
	attempt := e.retries[counterKey]
	exhausted := attempt >= e.maxRetries
	if exhausted {
		delete(e.retries, counterKey)
	}
	epoch := e.epoch
	e.mu.Unlock()

	if exhausted {
		e.logger.Warn("retries exhausted", "key", counterKey)
		e.resetCurrent(msg)
		return
	}

	delay := e.backoffBase << (attempt - 1)
	e.logger.Info("retry scheduled", "key", counterKey, "attempt", attempt, "delay", delay)

	action := hooks.Retry
	if action == nil {
		action = e.defaultRetry
	}
	e.schedule(delay, func() {
		e.mu.Lock()
		stale := epoch != e.epoch
		e.mu.Unlock()
		if stale {
			e.logger.Debug("stale retry discarded", "key", counterKey)
			return
		}
		action()
	})
}

// defaultRetry clears the error and resumes listening for a fresh turn.
func (e *Engine) defaultRetry() {
	e.resumeListening()
}

func (e *Engine) resumeListening() {
	e.sess.SetState(session.StateIdle)
	e.sess.SetState(session.StateListening)
	if err := e.voice.StartListening(context.Background()); err != nil {
		e.logger.Warn("resume listen failed", "error", err)
	}
}

func (e *Engine) resetCurrent(msg string) {
	e.sess.SetError(msg)
	e.voice.ForceStopAll()

	err := e.voice.Speak(context.Background(), msg, func() {
		e.resumeListening()
	})
	if err != nil {
		// Couldn't speak the message; recover the state machine anyway.
		e.logger.Warn("recovery speech failed", "error", err)
		e.sess.SetState(session.StateIdle)
	}
}

func (e *Engine) resetAll(msg string) {
	e.voice.ForceStopAll()
	e.sess.Reset()
	e.ClearAllRetries()
	e.sess.SetError(msg)

	// Spoken without auto-resuming capture; the user decides when to
	// continue.
	if err := e.voice.Speak(context.Background(), msg, func() {
		e.sess.SetState(session.StateIdle)
	}); err != nil {
		e.logger.Warn("recovery speech failed", "error", err)
		e.sess.SetState(session.StateIdle)
	}
}

func (e *Engine) userAction(msg string, hooks *Hooks) {
	// Recovery is now in the user's hands; a retry still on the timer must
	// not fire underneath them.
	e.mu.Lock()
	e.epoch++
	e.mu.Unlock()

	e.sess.SetError(msg)
	e.voice.ForceStopAll()

	if hooks.UserAction != nil {
		hooks.UserAction(msg)
	}
}

// message resolves the user-facing phrase for (domain, key), preferring the
// configured overrides over the built-in table.
func (e *Engine) message(domain Domain, key string) string {
	if byKey, ok := e.overrides[domain]; ok {
		if m, ok := byKey[key]; ok {
			return m
		}
		if m, ok := byKey[defaultKey]; ok {
			return m
		}
	}
	return messageFor(domain, key)
}
