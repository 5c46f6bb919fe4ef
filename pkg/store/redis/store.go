// Package redis provides a Redis-backed session store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/voxa-go/voxa/pkg/core/session"
)

const defaultPrefix = "voxa:"

// Store implements session.Store on Redis. The snapshot lives under a single
// key and the history log is a list trimmed to session.HistoryLimit.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the expiration for the snapshot key. Zero means no
// expiration. The history log is never expired.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Redis store connecting to the given address.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) snapshotKey() string { return s.prefix + "snapshot" }
func (s *Store) historyKey() string  { return s.prefix + "history" }

// SaveSnapshot overwrites the durable snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.snapshotKey(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot, or (nil, nil) when none exists.
func (s *Store) LoadSnapshot(ctx context.Context) (*session.Snapshot, error) {
	val, err := s.client.Get(ctx, s.snapshotKey()).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// AppendHistory pushes the entry and trims the log to session.HistoryLimit.
func (s *Store) AppendHistory(ctx context.Context, entry session.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.historyKey(), data)
	pipe.LTrim(ctx, s.historyKey(), 0, session.HistoryLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns up to limit entries, newest first. limit <= 0 returns all
// retained entries.
func (s *Store) History(ctx context.Context, limit int) ([]session.HistoryEntry, error) {
	stop := int64(session.HistoryLimit - 1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	vals, err := s.client.LRange(ctx, s.historyKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	entries := make([]session.HistoryEntry, 0, len(vals))
	for _, val := range vals {
		var entry session.HistoryEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear removes the snapshot and history, returning the store to a fresh
// state.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.snapshotKey(), s.historyKey()).Err(); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
