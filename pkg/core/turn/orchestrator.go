// Package turn glues the interaction state machine, the speech-resource
// coordinator, the intent classifier, and the recovery engine into the full
// turn cycle: listening, interpretation, optional confirmation, execution,
// and spoken result.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/voxa-go/voxa/pkg/backend"
	"github.com/voxa-go/voxa/pkg/core/intent"
	"github.com/voxa-go/voxa/pkg/core/recovery"
	"github.com/voxa-go/voxa/pkg/core/session"
	"github.com/voxa-go/voxa/pkg/core/speech"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultCancelAck      = "Okay, cancelled."
)

// Interpreter is the backend call contract the orchestrator depends on.
// *backend.Client satisfies it.
type Interpreter interface {
	Interpret(ctx context.Context, req *backend.InterpretRequest) (*backend.InterpretResponse, error)
	Execute(ctx context.Context, req *backend.ExecuteRequest) (*backend.ExecuteResponse, error)
}

// Orchestrator sequences one voice turn at a time.
type Orchestrator struct {
	sess       *session.Session
	voice      *speech.Coordinator
	engine     *recovery.Engine
	classifier *intent.Classifier
	api        Interpreter
	logger     *slog.Logger

	userID         string
	continuous     bool
	requestTimeout time.Duration
	cancelAck      string
	onUnknown      func(transcript string)
	onUserAction   func(message string)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithUserID attaches a user identifier to interpretation requests.
func WithUserID(id string) Option {
	return func(o *Orchestrator) { o.userID = id }
}

// WithContinuousListening resumes listening automatically after each spoken
// answer instead of returning to rest.
func WithContinuousListening(enabled bool) Option {
	return func(o *Orchestrator) { o.continuous = enabled }
}

// WithRequestTimeout bounds each backend call.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.requestTimeout = d }
}

// WithCancelAck sets the phrase spoken when a pending action is cancelled,
// so deployments can localize it alongside the confirmation keywords.
func WithCancelAck(text string) Option {
	return func(o *Orchestrator) { o.cancelAck = text }
}

// WithUnknownReplyHandler is invoked when a spoken confirmation reply cannot
// be classified; the session stays in CONFIRMING so the consumer can present
// manual controls.
func WithUnknownReplyHandler(fn func(transcript string)) Option {
	return func(o *Orchestrator) { o.onUnknown = fn }
}

// WithUserActionHandler receives errors that require explicit user
// intervention, such as microphone permission denials.
func WithUserActionHandler(fn func(message string)) Option {
	return func(o *Orchestrator) { o.onUserAction = fn }
}

// New creates an orchestrator and wires itself into the coordinator's
// callbacks.
func New(
	sess *session.Session,
	voice *speech.Coordinator,
	engine *recovery.Engine,
	classifier *intent.Classifier,
	api Interpreter,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		sess:           sess,
		voice:          voice,
		engine:         engine,
		classifier:     classifier,
		api:            api,
		logger:         slog.Default(),
		requestTimeout: defaultRequestTimeout,
		cancelAck:      defaultCancelAck,
	}
	for _, opt := range opts {
		opt(o)
	}

	voice.SetCallbacks(o.handleTranscript, o.handleResourceError, o.handleCaptureEnded)
	return o
}

// BeginTurn starts listening for the next utterance.
func (o *Orchestrator) BeginTurn(ctx context.Context) error {
	if !o.sess.SetState(session.StateListening) {
		o.logger.Debug("begin turn ignored", "state", o.sess.State().String())
		return nil
	}
	if err := o.voice.StartListening(ctx); err != nil {
		o.engine.HandleError(err, recovery.DomainVoiceRecognition, o.hooks())
		return err
	}
	return nil
}

// CancelTurn abandons whatever the current turn is doing and returns to
// rest, silently. The state moves first so the capture-ended callback from
// the deliberate stop does not start a new turn.
func (o *Orchestrator) CancelTurn(ctx context.Context) {
	o.sess.SetState(session.StateIdle)
	o.voice.CancelSpeak()
	if err := o.voice.StopListening(ctx); err != nil {
		o.logger.Debug("stop listening on cancel failed", "error", err)
	}
}

// ConfirmManually resolves a pending confirmation through the manual
// controls instead of speech.
func (o *Orchestrator) ConfirmManually(approve bool) {
	if o.sess.State() != session.StateConfirming {
		return
	}
	if approve {
		o.executePending()
	} else {
		o.cancelPending()
	}
}

// handleTranscript routes a capture result according to the current state:
// a fresh utterance goes to interpretation, a reply during confirmation goes
// through the intent classifier. Results in any other state are remnants of
// a superseded turn and are dropped.
func (o *Orchestrator) handleTranscript(transcript string) {
	switch o.sess.State() {
	case session.StateListening:
		o.sess.SetTranscript(transcript)
		if !o.sess.SetState(session.StateThinking) {
			return
		}
		go func() {
			if err := o.voice.StopListening(context.Background()); err != nil {
				o.logger.Debug("stop listening after transcript failed", "error", err)
			}
			o.interpret(transcript)
		}()

	case session.StateConfirming:
		o.handleConfirmReply(transcript)

	default:
		o.logger.Debug("transcript dropped", "state", o.sess.State().String(), "transcript", transcript)
	}
}

// handleCaptureEnded fires when a capture attempt ends without the turn
// having advanced, which happens when the utterance window closes with no
// speech. The session returns to rest instead of staying stuck in LISTENING,
// and in continuous mode the next capture starts immediately.
func (o *Orchestrator) handleCaptureEnded() {
	if o.sess.State() != session.StateListening {
		return
	}
	if !o.sess.SetState(session.StateIdle) {
		return
	}
	if !o.continuous {
		return
	}
	if err := o.BeginTurn(context.Background()); err != nil {
		o.logger.Warn("re-listen after silent capture failed", "error", err)
	}
}

func (o *Orchestrator) handleResourceError(resource speech.Resource, err error) {
	domain := recovery.DomainVoiceRecognition
	if resource == speech.Playback {
		domain = recovery.DomainTextToSpeech
	}
	o.engine.HandleError(err, domain, o.hooks())
}

// interpret calls the backend and advances the turn based on the kind of
// response: direct answer, confirmation requirement, or tool calls.
func (o *Orchestrator) interpret(transcript string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.requestTimeout)
	defer cancel()

	resp, err := o.api.Interpret(ctx, &backend.InterpretRequest{
		Text:      transcript,
		SessionID: o.sess.ID(),
		UserID:    o.userID,
	})
	if err != nil {
		o.engine.HandleError(err, apiDomain(err), o.hooks())
		return
	}
	o.engine.ClearRetries(recovery.DomainAPIRequest)

	if resp.NeedsConfirmation() {
		o.sess.SetResponse(resp.ConfirmText)
		if !o.sess.OpenConfirm(resp.ConfirmText, resp.PendingAction) {
			return
		}
		// Speak the question, then listen for the spoken reply.
		o.speak(resp.ConfirmText, func() {
			if err := o.voice.StartListening(context.Background()); err != nil {
				o.engine.HandleError(err, recovery.DomainVoiceRecognition, o.hooks())
			}
		})
		return
	}

	answer := resp.Content
	if answer == "" && len(resp.ToolCalls) > 0 {
		// Tool-call-only responses are executed backend-side; acknowledge.
		answer = "Working on it."
	}
	o.sess.SetResponse(answer)
	if !o.sess.SetState(session.StateSpeaking) {
		return
	}
	o.speak(answer, o.finishTurn)
}

// handleConfirmReply classifies a spoken reply to the confirmation question.
func (o *Orchestrator) handleConfirmReply(transcript string) {
	verdict := o.classifier.Classify(transcript)
	o.logger.Info("confirmation reply", "transcript", transcript, "intent", verdict.String())

	switch verdict {
	case intent.IntentConfirm:
		o.executePending()
	case intent.IntentCancel:
		o.cancelPending()
	case intent.IntentRetry:
		// Re-run interpretation on the original utterance.
		last := o.sess.LastTranscript()
		if !o.sess.SetState(session.StateThinking) {
			return
		}
		go o.interpret(last)
	default:
		if o.onUnknown != nil {
			o.onUnknown(transcript)
		}
	}
}

func (o *Orchestrator) executePending() {
	if !o.sess.SetState(session.StateExecuting) {
		return
	}
	go o.execute()
}

func (o *Orchestrator) cancelPending() {
	ctx, cancel := context.WithTimeout(context.Background(), o.requestTimeout)
	defer cancel()

	if err := o.voice.StopListening(ctx); err != nil {
		o.logger.Debug("stop listening on cancel failed", "error", err)
	}
	o.sess.CloseConfirm()
	o.speak(o.cancelAck, nil)
}

func (o *Orchestrator) execute() {
	ctx, cancel := context.WithTimeout(context.Background(), o.requestTimeout)
	defer cancel()

	resp, err := o.api.Execute(ctx, &backend.ExecuteRequest{
		SessionID:    o.sess.ID(),
		Confirmation: true,
	})
	if err != nil {
		o.engine.HandleError(err, recovery.DomainToolExecution, o.hooks())
		return
	}
	o.engine.ClearRetries(recovery.DomainToolExecution)

	if !resp.Success {
		o.sess.SetResult(session.Result{Status: session.ResultError, Data: resp.Error})
		o.engine.HandleError(errors.New(resp.Error), recovery.DomainToolExecution, o.hooks())
		return
	}

	o.sess.SetResult(session.Result{Status: session.ResultSuccess, Data: resp.Data})
	o.speak(resultMessage(resp.Data), o.finishTurn)
}

// finishTurn returns to rest after the final playback, optionally resuming
// listening for the next turn. A turn that was already cancelled back to rest
// does not resume.
func (o *Orchestrator) finishTurn() {
	if !o.sess.SetState(session.StateIdle) {
		return
	}
	if o.continuous {
		if err := o.BeginTurn(context.Background()); err != nil {
			o.logger.Warn("continuous listen failed", "error", err)
		}
	}
}

func (o *Orchestrator) speak(text string, onComplete func()) {
	if err := o.voice.Speak(context.Background(), text, onComplete); err != nil {
		o.engine.HandleError(err, recovery.DomainTextToSpeech, o.hooks())
	}
}

func (o *Orchestrator) hooks() *recovery.Hooks {
	return &recovery.Hooks{UserAction: o.onUserAction}
}

// apiDomain separates authentication failures from ordinary API errors so
// the engine applies the USER_ACTION strategy to them.
func apiDomain(err error) recovery.Domain {
	var apiErr *backend.Error
	if errors.As(err, &apiErr) && apiErr.IsAuth() {
		return recovery.DomainAuthentication
	}
	return recovery.DomainAPIRequest
}

// resultMessage extracts a speakable summary from execution result data.
func resultMessage(data json.RawMessage) string {
	if len(data) > 0 {
		var payload struct {
			Message string `json:"message"`
			Content string `json:"content"`
		}
		if json.Unmarshal(data, &payload) == nil {
			if payload.Message != "" {
				return payload.Message
			}
			if payload.Content != "" {
				return payload.Content
			}
		}
	}
	return "Done."
}
