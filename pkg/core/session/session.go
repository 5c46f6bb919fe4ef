// Package session implements the interaction state machine that sequences a
// voice turn from listening through confirmation to execution and playback.
//
// The Session owns the current turn's state, transcript, pending action,
// result, and error. Every transition is validated against an explicit
// successor table; invalid transitions are silently rejected so that
// out-of-order callbacks from the asynchronous speech resources cannot
// corrupt a turn. A minimal durable snapshot and a bounded history log are
// written through a pluggable Store.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResultStatus tags the outcome of an executed action.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultWarning ResultStatus = "warning"
	ResultError   ResultStatus = "error"
)

// Result is the outcome of the last execution.
type Result struct {
	Status ResultStatus `json:"status"`
	Data   any          `json:"data,omitempty"`
}

const (
	defaultPersistDebounce = 300 * time.Millisecond
	defaultPersistTimeout  = 3 * time.Second
)

// Session is the top-level state machine for one live interaction session.
// All methods are safe for concurrent use.
type Session struct {
	store  Store
	logger *slog.Logger

	persistDebounce time.Duration
	persistTimeout  time.Duration

	mu             sync.Mutex
	id             string
	state          State
	lastTranscript string
	lastResponse   string
	pendingAction  any
	result         *Result
	confirmText    string
	errMsg         string
	persistTimer   *time.Timer

	events chan Event
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithPersistDebounce sets the delay that coalesces snapshot writes.
func WithPersistDebounce(d time.Duration) Option {
	return func(s *Session) { s.persistDebounce = d }
}

// New creates a session backed by the given store. The session starts in
// IDLE with a fresh id; call Restore to adopt a previously persisted
// snapshot instead.
func New(store Store, opts ...Option) *Session {
	s := &Session{
		store:           store,
		logger:          slog.Default(),
		persistDebounce: defaultPersistDebounce,
		persistTimeout:  defaultPersistTimeout,
		id:              uuid.NewString(),
		state:           StateIdle,
		events:          make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the durable snapshot, adopting its session id, transcript,
// and response. All transient fields stay at their IDLE zero values. A
// missing snapshot is not an error; the session simply stays fresh.
func (s *Session) Restore(ctx context.Context) error {
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	s.id = snap.SessionID
	s.lastTranscript = snap.LastTranscript
	s.lastResponse = snap.LastResponse
	s.state = StateIdle
	s.pendingAction = nil
	s.confirmText = ""
	s.errMsg = ""
	s.result = nil
	s.mu.Unlock()

	s.logger.Debug("session restored", "session_id", snap.SessionID)
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastTranscript returns the last captured utterance.
func (s *Session) LastTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTranscript
}

// LastResponse returns the last interpretation or answer payload.
func (s *Session) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// PendingAction returns the action awaiting confirmation, if any.
func (s *Session) PendingAction() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingAction
}

// ConfirmText returns the text being confirmed; empty outside CONFIRMING.
func (s *Session) ConfirmText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmText
}

// Result returns the outcome of the last execution, if any.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns the current error message; empty outside ERROR.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Events returns the channel for receiving session events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// SetState requests a transition to next. If the transition table does not
// allow it from the current state the call is a no-op and returns false.
func (s *Session) SetState(next State) bool {
	s.mu.Lock()
	if !canTransition(s.state, next) {
		from := s.state
		s.mu.Unlock()
		s.logger.Debug("transition rejected", "from", from.String(), "to", next.String())
		return false
	}
	from := s.state
	s.applyLocked(next)
	s.mu.Unlock()

	s.emit(&StateChangedEvent{From: from, To: next})
	s.schedulePersist()
	return true
}

// SetError unconditionally forces the session into ERROR with the given
// message. This bypasses the transition table because an error can interrupt
// any state.
func (s *Session) SetError(message string) {
	s.mu.Lock()
	from := s.state
	s.applyLocked(StateError)
	s.errMsg = message
	s.mu.Unlock()

	s.logger.Warn("session error", "message", message, "from", from.String())
	if from != StateError {
		s.emit(&StateChangedEvent{From: from, To: StateError})
	}
	s.emit(&ErrorSetEvent{Message: message})
	s.schedulePersist()
}

// OpenConfirm transitions into CONFIRMING, recording the text to confirm and
// the pending action. Returns false if CONFIRMING is not reachable from the
// current state.
func (s *Session) OpenConfirm(text string, action any) bool {
	s.mu.Lock()
	if !canTransition(s.state, StateConfirming) {
		s.mu.Unlock()
		return false
	}
	from := s.state
	s.applyLocked(StateConfirming)
	s.confirmText = text
	s.pendingAction = action
	s.mu.Unlock()

	s.emit(&StateChangedEvent{From: from, To: StateConfirming})
	s.emit(&ConfirmRequestedEvent{Text: text})
	s.schedulePersist()
	return true
}

// CloseConfirm abandons the confirmation step and returns to IDLE, clearing
// the confirm text and pending action.
func (s *Session) CloseConfirm() bool {
	return s.SetState(StateIdle)
}

// SetTranscript records the last captured utterance.
func (s *Session) SetTranscript(transcript string) {
	s.mu.Lock()
	s.lastTranscript = transcript
	s.mu.Unlock()
	s.schedulePersist()
}

// SetResponse records the interpretation/answer payload. When a transcript
// is also present the completed turn is appended to the history log.
func (s *Session) SetResponse(response string) {
	s.mu.Lock()
	s.lastResponse = response
	id := s.id
	transcript := s.lastTranscript
	s.mu.Unlock()

	if transcript != "" && response != "" {
		s.appendHistory(HistoryEntry{
			SessionID:  id,
			Transcript: transcript,
			Response:   response,
			Timestamp:  time.Now(),
		})
	}
	s.schedulePersist()
}

// SetPendingAction records the action awaiting confirmation.
func (s *Session) SetPendingAction(action any) {
	s.mu.Lock()
	s.pendingAction = action
	s.mu.Unlock()
}

// SetResult records the outcome of the last execution.
func (s *Session) SetResult(result Result) {
	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()
}

// Reset returns all transient fields to their initial values and assigns a
// fresh session id. The durable snapshot is rewritten under the new id.
func (s *Session) Reset() {
	s.mu.Lock()
	s.id = uuid.NewString()
	s.state = StateIdle
	s.lastTranscript = ""
	s.lastResponse = ""
	s.pendingAction = nil
	s.result = nil
	s.confirmText = ""
	s.errMsg = ""
	id := s.id
	s.mu.Unlock()

	s.logger.Info("session reset", "session_id", id)
	s.emit(&ResetEvent{SessionID: id})
	s.schedulePersist()
}

// Flush writes any pending snapshot immediately.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.persistTimer != nil {
		s.persistTimer.Stop()
		s.persistTimer = nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return s.store.SaveSnapshot(ctx, snap)
}

// Close stops the debounce timer and flushes the final snapshot.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	return s.Flush(ctx)
}

// applyLocked commits a state change and maintains the field invariants:
// confirmText is non-empty only while CONFIRMING, the error message only
// while ERROR, and the pending action only while CONFIRMING or EXECUTING.
func (s *Session) applyLocked(next State) {
	s.state = next
	if next != StateConfirming {
		s.confirmText = ""
	}
	if next != StateError {
		s.errMsg = ""
	}
	if next != StateConfirming && next != StateExecuting {
		s.pendingAction = nil
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:      s.id,
		LastTranscript: s.lastTranscript,
		LastResponse:   s.lastResponse,
		Timestamp:      time.Now(),
	}
}

// schedulePersist coalesces snapshot writes behind a debounce window so a
// burst of transitions produces a single store write.
func (s *Session) schedulePersist() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persistTimer != nil {
		s.persistTimer.Reset(s.persistDebounce)
		return
	}
	s.persistTimer = time.AfterFunc(s.persistDebounce, s.persist)
}

func (s *Session) persist() {
	s.mu.Lock()
	s.persistTimer = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("snapshot write failed", "error", err)
	}
}

func (s *Session) appendHistory(entry HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.Warn("history append failed", "error", err)
	}
}

// emit delivers an event without blocking; slow consumers drop events.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
