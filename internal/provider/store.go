package provider

import (
	"context"
	"sync"
	"time"
)

// Entry is one persisted provider score.
type Entry struct {
	Name      string    `json:"name"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreStore persists the provider score table across process restarts.
// Save is last-write-wins per provider name.
type ScoreStore interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// MemoryStore is an in-process ScoreStore, used as the default and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Load returns all stored entries.
func (s *MemoryStore) Load(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	return entries, nil
}

// Save stores the given entries, overwriting existing scores.
func (s *MemoryStore) Save(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.entries[e.Name] = e
	}
	return nil
}
