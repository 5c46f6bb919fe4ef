package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxa-go/voxa/pkg/core/session"
	"github.com/voxa-go/voxa/pkg/core/speech"
)

type fakeSession struct {
	mu     sync.Mutex
	calls  []string
	errMsg string
}

func (f *fakeSession) SetState(next session.State) bool {
	f.record("SetState:" + next.String())
	return true
}

func (f *fakeSession) SetError(message string) {
	f.mu.Lock()
	f.errMsg = message
	f.mu.Unlock()
	f.record("SetError")
}

func (f *fakeSession) Reset() { f.record("Reset") }

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSession) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeVoice struct {
	mu          sync.Mutex
	calls       []string
	spoken      []string
	completions []func()
}

func (f *fakeVoice) StartListening(_ context.Context) error {
	f.record("StartListening")
	return nil
}

func (f *fakeVoice) Speak(_ context.Context, text string, onComplete func()) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.completions = append(f.completions, onComplete)
	f.mu.Unlock()
	f.record("Speak")
	return nil
}

func (f *fakeVoice) ForceStopAll() { f.record("ForceStopAll") }

func (f *fakeVoice) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeVoice) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVoice) finishSpeak(t *testing.T) {
	f.mu.Lock()
	if len(f.completions) == 0 {
		f.mu.Unlock()
		t.Fatal("no speak in flight")
	}
	complete := f.completions[len(f.completions)-1]
	f.mu.Unlock()
	if complete != nil {
		complete()
	}
}

// manualScheduler records scheduled retries for explicit firing.
type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (m *manualScheduler) schedule(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, fn)
}

func (m *manualScheduler) scheduled() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}

func newTestEngine() (*Engine, *fakeSession, *fakeVoice, *manualScheduler) {
	sess := &fakeSession{}
	voice := &fakeVoice{}
	sched := &manualScheduler{}
	e := NewEngine(sess, voice, WithScheduler(sched.schedule))
	return e, sess, voice, sched
}

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "default"},
		{&speech.CaptureError{Code: "no-speech"}, "no-speech"},
		{errors.New("request timed out"), "timeout"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("network is unreachable"), "network"},
		{errors.New("dial tcp: connection refused"), "network"},
		{errors.New("device is offline"), "offline"},
		{errors.New("unexpected status 503"), "503"},
		{errors.New("server said 429 slow down"), "429"},
		{errors.New("something odd happened"), "default"},
	}
	for _, tt := range tests {
		if got := deriveKey(tt.err); got != tt.want {
			t.Errorf("deriveKey(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassify_FallbackChain(t *testing.T) {
	// Known domain, unknown key: domain default.
	r := classify(DomainAPIRequest, "weird")
	if r.strategy != StrategyResetCurrent {
		t.Errorf("strategy = %s, want RESET_CURRENT", r.strategy)
	}

	// Unknown domain entirely: generic default.
	r = classify(Domain("MYSTERY"), "weird")
	if r.strategy != StrategyResetCurrent || r.severity != SeverityMedium {
		t.Errorf("unknown domain rule = %+v", r)
	}
}

func TestMessagesNeverEmpty(t *testing.T) {
	domains := []Domain{
		DomainVoiceRecognition, DomainTextToSpeech, DomainAPIRequest,
		DomainNetwork, DomainAuthentication, DomainToolExecution,
		DomainStateTransition, DomainUnknown, Domain("MYSTERY"),
	}
	keys := []string{"no-speech", "timeout", "network", "503", "weird", "default"}
	for _, d := range domains {
		for _, k := range keys {
			if messageFor(d, k) == "" {
				t.Errorf("messageFor(%s, %s) is empty", d, k)
			}
		}
	}
}

func TestIgnoreStrategy(t *testing.T) {
	e, sess, voice, _ := newTestEngine()

	e.HandleError(&speech.CaptureError{Code: speech.CodeNoSpeech}, DomainVoiceRecognition, nil)

	if len(sess.callLog()) != 0 {
		t.Errorf("session touched on IGNORE: %v", sess.callLog())
	}
	if len(voice.callLog()) != 0 {
		t.Errorf("coordinator touched on IGNORE: %v", voice.callLog())
	}
}

func TestRetryBackoffThenReset(t *testing.T) {
	e, sess, voice, sched := newTestEngine()
	netErr := errors.New("network is unreachable")

	// First two identical errors schedule retries with 1s then 2s backoff.
	e.HandleError(netErr, DomainAPIRequest, nil)
	e.HandleError(netErr, DomainAPIRequest, nil)

	delays := sched.scheduled()
	if len(delays) != 2 {
		t.Fatalf("scheduled %d retries, want 2", len(delays))
	}
	if delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
	if len(sess.callLog()) != 0 {
		t.Errorf("session touched during RETRY: %v", sess.callLog())
	}

	// The third falls through to RESET_CURRENT and speaks the message.
	e.HandleError(netErr, DomainAPIRequest, nil)

	if len(sched.scheduled()) != 2 {
		t.Error("a third retry was scheduled past the ceiling")
	}
	sessCalls := sess.callLog()
	if len(sessCalls) == 0 || sessCalls[0] != "SetError" {
		t.Fatalf("session calls = %v, want SetError first", sessCalls)
	}
	voiceCalls := voice.callLog()
	if len(voiceCalls) != 2 || voiceCalls[0] != "ForceStopAll" || voiceCalls[1] != "Speak" {
		t.Fatalf("coordinator calls = %v, want [ForceStopAll Speak]", voiceCalls)
	}

	// The counter was discarded; the next identical error starts over.
	if e.RetryCount(DomainAPIRequest, "network") != 0 {
		t.Error("retry counter survived ceiling exhaustion")
	}
}

func TestRetryCounterNeverExceedsCeiling(t *testing.T) {
	e, _, _, _ := newTestEngine()
	netErr := errors.New("network flake")

	for i := 0; i < 10; i++ {
		e.HandleError(netErr, DomainNetwork, nil)
		if count := e.RetryCount(DomainNetwork, "network"); count >= 3 {
			t.Fatalf("iteration %d: counter = %d, ceiling is 3", i, count)
		}
	}
}

func TestRetryUsesHookWhenProvided(t *testing.T) {
	e, _, voice, sched := newTestEngine()

	called := make(chan struct{}, 1)
	e.HandleError(errors.New("timeout"), DomainAPIRequest, &Hooks{
		Retry: func() { called <- struct{}{} },
	})

	sched.mu.Lock()
	fn := sched.fns[0]
	sched.mu.Unlock()
	fn()

	select {
	case <-called:
	default:
		t.Fatal("retry hook not invoked")
	}
	// The default return-to-listening action must not run.
	for _, call := range voice.callLog() {
		if call == "StartListening" {
			t.Error("default retry action ran despite hook")
		}
	}
}

func TestDefaultRetryResumesListening(t *testing.T) {
	e, sess, voice, sched := newTestEngine()

	e.HandleError(errors.New("timeout"), DomainAPIRequest, nil)

	sched.mu.Lock()
	fn := sched.fns[0]
	sched.mu.Unlock()
	fn()

	sessCalls := sess.callLog()
	want := []string{"SetState:IDLE", "SetState:LISTENING"}
	if len(sessCalls) != 2 || sessCalls[0] != want[0] || sessCalls[1] != want[1] {
		t.Errorf("session calls = %v, want %v", sessCalls, want)
	}
	voiceCalls := voice.callLog()
	if len(voiceCalls) != 1 || voiceCalls[0] != "StartListening" {
		t.Errorf("coordinator calls = %v, want [StartListening]", voiceCalls)
	}
}

func TestResetCurrent_SpeaksThenResumes(t *testing.T) {
	e, sess, voice, _ := newTestEngine()

	e.HandleError(errors.New("bad payload"), DomainAPIRequest, nil)

	voice.mu.Lock()
	spoken := append([]string(nil), voice.spoken...)
	voice.mu.Unlock()
	if len(spoken) != 1 || spoken[0] == "" {
		t.Fatalf("spoken = %v, want one non-empty message", spoken)
	}
	if spoken[0] == "bad payload" {
		t.Error("raw error leaked to the user")
	}

	sess.mu.Lock()
	errMsg := sess.errMsg
	sess.mu.Unlock()
	if errMsg != spoken[0] {
		t.Errorf("session error %q differs from spoken message %q", errMsg, spoken[0])
	}

	// Completion of the spoken message returns through IDLE into LISTENING.
	voice.finishSpeak(t)
	sessCalls := sess.callLog()
	if sessCalls[len(sessCalls)-1] != "SetState:LISTENING" {
		t.Errorf("session calls = %v, want trailing SetState:LISTENING", sessCalls)
	}
	voiceCalls := voice.callLog()
	if voiceCalls[len(voiceCalls)-1] != "StartListening" {
		t.Errorf("coordinator calls = %v, want trailing StartListening", voiceCalls)
	}
}

func TestPendingRetryDiscardedAfterFullReset(t *testing.T) {
	e, sess, voice, sched := newTestEngine()

	e.HandleError(errors.New("timeout"), DomainAPIRequest, nil)
	sched.mu.Lock()
	fn := sched.fns[0]
	sched.mu.Unlock()

	e.resetAll("please start over")

	// A retry still on the timer when the full reset happened must not
	// restart capture afterwards.
	sessBefore := len(sess.callLog())
	voiceBefore := len(voice.callLog())
	fn()

	if got := sess.callLog(); len(got) != sessBefore {
		t.Errorf("stale retry touched the session: %v", got[sessBefore:])
	}
	if got := voice.callLog(); len(got) != voiceBefore {
		t.Errorf("stale retry touched the coordinator: %v", got[voiceBefore:])
	}
}

func TestPendingRetryDiscardedAfterUserAction(t *testing.T) {
	e, _, voice, sched := newTestEngine()

	e.HandleError(errors.New("timeout"), DomainAPIRequest, nil)
	sched.mu.Lock()
	fn := sched.fns[0]
	sched.mu.Unlock()

	e.HandleError(&speech.CaptureError{Code: speech.CodeNotAllowed}, DomainVoiceRecognition, nil)

	fn()
	for _, call := range voice.callLog() {
		if call == "StartListening" {
			t.Error("stale retry resumed listening while the user must act")
		}
	}
}

func TestMessageOverrides(t *testing.T) {
	sess := &fakeSession{}
	voice := &fakeVoice{}
	sched := &manualScheduler{}
	e := NewEngine(sess, voice,
		WithScheduler(sched.schedule),
		WithMessages(map[Domain]map[string]string{
			DomainAPIRequest: {
				"offline":  "您已离线，请检查网络连接。",
				defaultKey: "请求出错了，我们再试一次。",
			},
		}),
	)

	e.HandleError(errors.New("device is offline"), DomainAPIRequest, nil)
	e.HandleError(errors.New("bad payload"), DomainAPIRequest, nil)
	e.HandleError(errors.New("boom"), DomainToolExecution, nil)

	voice.mu.Lock()
	spoken := append([]string(nil), voice.spoken...)
	voice.mu.Unlock()
	if len(spoken) != 3 {
		t.Fatalf("spoken = %v, want 3 messages", spoken)
	}
	if spoken[0] != "您已离线，请检查网络连接。" {
		t.Errorf("keyed override not used: %q", spoken[0])
	}
	if spoken[1] != "请求出错了，我们再试一次。" {
		t.Errorf("domain default override not used: %q", spoken[1])
	}
	// Domains without overrides keep the built-in phrases.
	if spoken[2] != messageFor(DomainToolExecution, defaultKey) {
		t.Errorf("built-in fallback not used: %q", spoken[2])
	}
}

func TestResetAll_FullReset(t *testing.T) {
	e, sess, voice, _ := newTestEngine()

	// Seed a retry counter that must be discarded by the full reset.
	e.HandleError(errors.New("timeout"), DomainToolExecution, nil)
	if e.RetryCount(DomainToolExecution, "timeout") != 1 {
		t.Fatal("setup: retry counter not seeded")
	}

	e.resetAll("please start over")

	sessCalls := sess.callLog()
	found := false
	for _, call := range sessCalls {
		if call == "Reset" {
			found = true
		}
	}
	if !found {
		t.Errorf("session calls = %v, want Reset", sessCalls)
	}
	if e.RetryCount(DomainToolExecution, "timeout") != 0 {
		t.Error("retry counters survived RESET_ALL")
	}

	// Speaking completes without resuming capture.
	voice.finishSpeak(t)
	for _, call := range voice.callLog() {
		if call == "StartListening" {
			t.Error("RESET_ALL auto-resumed listening")
		}
	}
}

func TestUserAction(t *testing.T) {
	e, sess, voice, _ := newTestEngine()

	var gotMsg string
	e.HandleError(&speech.CaptureError{Code: speech.CodeNotAllowed}, DomainVoiceRecognition, &Hooks{
		UserAction: func(message string) { gotMsg = message },
	})

	if gotMsg == "" {
		t.Fatal("user action callback not invoked")
	}
	sessCalls := sess.callLog()
	if len(sessCalls) != 1 || sessCalls[0] != "SetError" {
		t.Errorf("session calls = %v, want [SetError]", sessCalls)
	}
	voiceCalls := voice.callLog()
	if len(voiceCalls) != 1 || voiceCalls[0] != "ForceStopAll" {
		t.Errorf("coordinator calls = %v, want [ForceStopAll]", voiceCalls)
	}
	// No speaking and no auto-resume: the user must act.
	voice.mu.Lock()
	defer voice.mu.Unlock()
	if len(voice.spoken) != 0 {
		t.Errorf("spoke %v during USER_ACTION", voice.spoken)
	}
}

func TestHandleResourceError_Domains(t *testing.T) {
	e, sess, _, _ := newTestEngine()

	// no-speech from capture is absorbed silently.
	e.HandleResourceError(speech.Capture, &speech.CaptureError{Code: speech.CodeNoSpeech})
	if len(sess.callLog()) != 0 {
		t.Errorf("no-speech affected the session: %v", sess.callLog())
	}

	// A playback failure lands in the TTS domain and resets the turn.
	e.HandleResourceError(speech.Playback, errors.New("synthesis blew up"))
	calls := sess.callLog()
	if len(calls) == 0 || calls[0] != "SetError" {
		t.Errorf("session calls = %v, want SetError", calls)
	}
}

func TestClearRetries_ScopedToDomain(t *testing.T) {
	e, _, _, _ := newTestEngine()

	e.HandleError(errors.New("timeout"), DomainAPIRequest, nil)
	e.HandleError(errors.New("timeout"), DomainToolExecution, nil)

	e.ClearRetries(DomainAPIRequest)

	if e.RetryCount(DomainAPIRequest, "timeout") != 0 {
		t.Error("API_REQUEST counter not cleared")
	}
	if e.RetryCount(DomainToolExecution, "timeout") != 1 {
		t.Error("TOOL_EXECUTION counter was cleared too")
	}
}

func TestDifferentKeysTrackSeparately(t *testing.T) {
	e, _, _, sched := newTestEngine()

	e.HandleError(errors.New("timeout"), DomainAPIRequest, nil)
	e.HandleError(errors.New("network down"), DomainAPIRequest, nil)

	delays := sched.scheduled()
	if len(delays) != 2 {
		t.Fatalf("scheduled %d retries, want 2", len(delays))
	}
	// Both are first attempts, so both use the base delay.
	for i, d := range delays {
		if d != time.Second {
			t.Errorf("delay[%d] = %v, want 1s", i, d)
		}
	}
}
