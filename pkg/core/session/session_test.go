package session

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestSession(t *testing.T) (*Session, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	s := New(store, WithPersistDebounce(10*time.Millisecond))
	return s, store
}

// walk drives the session along a path of states, failing on any rejection.
func walk(t *testing.T, s *Session, path ...State) {
	t.Helper()
	for _, next := range path {
		if !s.SetState(next) {
			t.Fatalf("transition %s -> %s rejected", s.State(), next)
		}
	}
}

func TestSetState_AllowedTransitions(t *testing.T) {
	s, _ := newTestSession(t)

	walk(t, s,
		StateListening, StateThinking, StateConfirming, StateExecuting, StateIdle,
		StateListening, StateThinking, StateSpeaking, StateIdle,
	)

	if s.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", s.State())
	}
}

func TestSetState_RejectsEverythingOutsideTable(t *testing.T) {
	all := []State{
		StateIdle, StateListening, StateThinking, StateSpeaking,
		StateConfirming, StateExecuting, StateError,
	}

	for _, from := range all {
		for _, to := range all {
			s, _ := newTestSession(t)
			forceState(s, from)

			applied := s.SetState(to)
			if applied != canTransition(from, to) {
				t.Errorf("SetState(%s -> %s) = %v, table says %v",
					from, to, applied, canTransition(from, to))
			}
			if !applied && s.State() != from {
				t.Errorf("rejected transition %s -> %s changed state to %s",
					from, to, s.State())
			}
		}
	}
}

// forceState puts a session into an arbitrary state through valid paths.
func forceState(s *Session, target State) {
	switch target {
	case StateIdle:
	case StateListening:
		s.SetState(StateListening)
	case StateThinking:
		s.SetState(StateListening)
		s.SetState(StateThinking)
	case StateSpeaking:
		s.SetState(StateListening)
		s.SetState(StateThinking)
		s.SetState(StateSpeaking)
	case StateConfirming:
		s.SetState(StateListening)
		s.SetState(StateThinking)
		s.SetState(StateConfirming)
	case StateExecuting:
		s.SetState(StateListening)
		s.SetState(StateThinking)
		s.SetState(StateConfirming)
		s.SetState(StateExecuting)
	case StateError:
		s.SetError("forced")
	}
}

func TestErrorInvariant(t *testing.T) {
	s, _ := newTestSession(t)

	// Error message is non-empty exactly while in ERROR.
	checkInvariant := func(step string) {
		inError := s.State() == StateError
		hasMsg := s.Err() != ""
		if inError != hasMsg {
			t.Errorf("%s: state=%s err=%q violates error invariant", step, s.State(), s.Err())
		}
	}

	checkInvariant("initial")
	s.SetState(StateListening)
	checkInvariant("listening")
	s.SetError("capture failed")
	checkInvariant("error set")
	if s.Err() != "capture failed" {
		t.Errorf("Err() = %q", s.Err())
	}
	s.SetState(StateIdle)
	checkInvariant("recovered")
	if s.Err() != "" {
		t.Errorf("error message survived recovery: %q", s.Err())
	}
}

func TestSetError_InterruptsAnyState(t *testing.T) {
	for _, from := range []State{StateIdle, StateListening, StateThinking, StateSpeaking, StateConfirming, StateExecuting} {
		s, _ := newTestSession(t)
		forceState(s, from)
		s.SetError("boom")
		if s.State() != StateError {
			t.Errorf("from %s: state = %s, want ERROR", from, s.State())
		}
	}
}

func TestOpenConfirm(t *testing.T) {
	s, _ := newTestSession(t)
	walk(t, s, StateListening, StateThinking)

	if !s.OpenConfirm("delete all reminders?", map[string]any{"tool": "reminders.clear"}) {
		t.Fatal("OpenConfirm rejected from THINKING")
	}
	if s.State() != StateConfirming {
		t.Fatalf("state = %s, want CONFIRMING", s.State())
	}
	if s.ConfirmText() != "delete all reminders?" {
		t.Errorf("confirmText = %q", s.ConfirmText())
	}
	if s.PendingAction() == nil {
		t.Error("pendingAction not set")
	}
}

func TestOpenConfirm_RejectedFromIdle(t *testing.T) {
	s, _ := newTestSession(t)
	if s.OpenConfirm("?", nil) {
		t.Error("OpenConfirm should be rejected from IDLE")
	}
	if s.ConfirmText() != "" {
		t.Errorf("confirmText = %q, want empty", s.ConfirmText())
	}
}

func TestCloseConfirm_ClearsPendingAction(t *testing.T) {
	s, _ := newTestSession(t)
	walk(t, s, StateListening, StateThinking)
	s.OpenConfirm("proceed?", "action")

	if !s.CloseConfirm() {
		t.Fatal("CloseConfirm rejected")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", s.State())
	}
	if s.PendingAction() != nil {
		t.Error("pendingAction survived transition to IDLE")
	}
	if s.ConfirmText() != "" {
		t.Errorf("confirmText = %q, want empty", s.ConfirmText())
	}
}

func TestConfirmTextClearedOnExecute(t *testing.T) {
	s, _ := newTestSession(t)
	walk(t, s, StateListening, StateThinking)
	s.OpenConfirm("proceed?", "action")
	walk(t, s, StateExecuting)

	if s.ConfirmText() != "" {
		t.Errorf("confirmText = %q outside CONFIRMING", s.ConfirmText())
	}
	// The pending action survives into EXECUTING.
	if s.PendingAction() == nil {
		t.Error("pendingAction cleared too early")
	}

	walk(t, s, StateIdle)
	if s.PendingAction() != nil {
		t.Error("pendingAction survived transition to IDLE")
	}
}

func TestReset_FreshID(t *testing.T) {
	s, _ := newTestSession(t)
	oldID := s.ID()

	walk(t, s, StateListening, StateThinking)
	s.SetTranscript("hello")
	s.OpenConfirm("?", "action")
	s.Reset()

	if s.ID() == oldID {
		t.Error("Reset did not regenerate session id")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", s.State())
	}
	if s.LastTranscript() != "" || s.PendingAction() != nil || s.ConfirmText() != "" || s.Err() != "" {
		t.Error("Reset left transient fields populated")
	}
}

func TestDebouncedPersist(t *testing.T) {
	s, store := newTestSession(t)

	s.SetTranscript("turn on the lights")
	walk(t, s, StateListening, StateThinking, StateSpeaking, StateIdle)

	// Wait for the debounce window to close and the write to land.
	time.Sleep(60 * time.Millisecond)

	snap, err := store.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("expected snapshot after debounce window")
	}
	if snap.SessionID != s.ID() {
		t.Errorf("snapshot id = %q, want %q", snap.SessionID, s.ID())
	}
	if snap.LastTranscript != "turn on the lights" {
		t.Errorf("snapshot transcript = %q", snap.LastTranscript)
	}
}

func TestRestore_OnlyDurableFieldsSurvive(t *testing.T) {
	store := NewMemoryStore()
	first := New(store, WithPersistDebounce(time.Millisecond))
	first.SetTranscript("remind me at nine")
	first.SetResponse("reminder set for 9:00")
	walk(t, first, StateListening, StateThinking)
	first.OpenConfirm("set reminder?", "action")
	if err := first.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Simulate a reload: a new session restored from the same store.
	second := New(store)
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if second.ID() != first.ID() {
		t.Errorf("restored id = %q, want %q", second.ID(), first.ID())
	}
	if second.LastTranscript() != "remind me at nine" {
		t.Errorf("restored transcript = %q", second.LastTranscript())
	}
	if second.LastResponse() != "reminder set for 9:00" {
		t.Errorf("restored response = %q", second.LastResponse())
	}
	if second.State() != StateIdle {
		t.Errorf("restored state = %s, want IDLE", second.State())
	}
	if second.PendingAction() != nil || second.ConfirmText() != "" || second.Err() != "" {
		t.Error("transient fields survived restore")
	}
}

func TestRestore_EmptyStoreIsFreshSession(t *testing.T) {
	s, _ := newTestSession(t)
	id := s.ID()
	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.ID() != id {
		t.Error("Restore from empty store changed session id")
	}
}

func TestHistoryAppend_RequiresBothFields(t *testing.T) {
	s, store := newTestSession(t)

	s.SetResponse("orphan response")
	entries, _ := store.History(context.Background(), 0)
	if len(entries) != 0 {
		t.Fatalf("history = %d entries, want 0 without transcript", len(entries))
	}

	s.SetTranscript("what time is it")
	s.SetResponse("it is noon")
	entries, _ = store.History(context.Background(), 0)
	if len(entries) != 1 {
		t.Fatalf("history = %d entries, want 1", len(entries))
	}
	if entries[0].Transcript != "what time is it" || entries[0].Response != "it is noon" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestMemoryStore_HistoryCap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < HistoryLimit+10; i++ {
		err := store.AppendHistory(ctx, HistoryEntry{
			SessionID:  "s",
			Transcript: fmt.Sprintf("turn %d", i),
			Response:   "ok",
			Timestamp:  time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	entries, err := store.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != HistoryLimit {
		t.Fatalf("history = %d entries, want %d", len(entries), HistoryLimit)
	}
	// Newest first; oldest entries were evicted.
	if entries[0].Transcript != fmt.Sprintf("turn %d", HistoryLimit+9) {
		t.Errorf("newest = %q", entries[0].Transcript)
	}
	if entries[len(entries)-1].Transcript != "turn 10" {
		t.Errorf("oldest retained = %q, want %q", entries[len(entries)-1].Transcript, "turn 10")
	}
}

func TestEvents_StateChanges(t *testing.T) {
	s, _ := newTestSession(t)

	walk(t, s, StateListening)

	select {
	case ev := <-s.Events():
		change, ok := ev.(*StateChangedEvent)
		if !ok {
			t.Fatalf("event type %T", ev)
		}
		if change.From != StateIdle || change.To != StateListening {
			t.Errorf("event %s -> %s", change.From, change.To)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}
