package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/voxa-go/voxa/pkg/core/session"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client, opts...)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := session.Snapshot{
		SessionID:      "sess-1",
		LastTranscript: "turn on the lights",
		LastResponse:   "Lights are on.",
		Timestamp:      time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot missing")
	}
	if *got != snap {
		t.Errorf("snapshot = %+v, want %+v", *got, snap)
	}
}

func TestLoadSnapshotEmpty(t *testing.T) {
	store := newTestStore(t)

	got, err := store.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got != nil {
		t.Errorf("snapshot = %+v, want nil", got)
	}
}

func TestHistoryNewestFirstAndTrimmed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < session.HistoryLimit+5; i++ {
		entry := session.HistoryEntry{
			SessionID:  "sess-1",
			Transcript: fmt.Sprintf("utterance %d", i),
			Response:   fmt.Sprintf("answer %d", i),
			Timestamp:  time.Now().UTC(),
		}
		if err := store.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	all, err := store.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != session.HistoryLimit {
		t.Fatalf("history len = %d, want %d", len(all), session.HistoryLimit)
	}
	// Newest first; the oldest five entries were evicted.
	if all[0].Transcript != fmt.Sprintf("utterance %d", session.HistoryLimit+4) {
		t.Errorf("newest = %q", all[0].Transcript)
	}
	if all[len(all)-1].Transcript != "utterance 5" {
		t.Errorf("oldest = %q", all[len(all)-1].Transcript)
	}
}

func TestHistoryLimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		entry := session.HistoryEntry{Transcript: fmt.Sprintf("utterance %d", i)}
		if err := store.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	got, err := store.History(ctx, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("history len = %d, want 3", len(got))
	}
	if got[0].Transcript != "utterance 9" {
		t.Errorf("newest = %q", got[0].Transcript)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveSnapshot(ctx, session.Snapshot{SessionID: "sess-1"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := store.AppendHistory(ctx, session.HistoryEntry{Transcript: "hi"}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil || snap != nil {
		t.Errorf("snapshot after clear = %+v, %v", snap, err)
	}
	hist, err := store.History(ctx, 0)
	if err != nil || len(hist) != 0 {
		t.Errorf("history after clear = %v, %v", hist, err)
	}
}

func TestSessionPersistsThroughRedis(t *testing.T) {
	store := newTestStore(t)

	sess := session.New(store, session.WithPersistDebounce(5*time.Millisecond))
	sess.SetState(session.StateListening)
	sess.SetTranscript("what's the weather")
	sess.SetState(session.StateThinking)
	sess.SetResponse("It is sunny.")
	if err := sess.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	sess.Close()

	restored := session.New(store)
	defer restored.Close()
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.ID() != sess.ID() {
		t.Errorf("restored id = %q, want %q", restored.ID(), sess.ID())
	}
	if restored.LastTranscript() != "what's the weather" {
		t.Errorf("restored transcript = %q", restored.LastTranscript())
	}
	if restored.State() != session.StateIdle {
		t.Errorf("restored state = %s, want IDLE", restored.State())
	}
}
