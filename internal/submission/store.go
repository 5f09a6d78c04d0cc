package submission

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrStoreNotFound = errors.New("submission not found in store")

// Store keeps submission snapshots so a report survives the session that
// produced it.
type Store interface {
	SaveSubmission(ctx context.Context, snap Snapshot) error
	GetSubmission(ctx context.Context, id string) (Snapshot, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Snapshot, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

type InMemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]Snapshot
	order map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]Snapshot),
		order: make(map[string][]string),
	}
}

func (s *InMemoryStore) SaveSubmission(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[snap.ID]; !ok {
		s.order[snap.SessionID] = append(s.order[snap.SessionID], snap.ID)
	}
	s.byID[snap.ID] = cloneSnapshot(snap)
	return nil
}

func (s *InMemoryStore) GetSubmission(_ context.Context, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[id]
	if !ok {
		return Snapshot{}, ErrStoreNotFound
	}
	return cloneSnapshot(snap), nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID string, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[sessionID]
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneSnapshot(s.byID[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Draft = s.Draft.Clone()
	out.History = append([]State(nil), s.History...)
	if s.Record != nil {
		rec := s.Record.Clone()
		out.Record = &rec
	}
	if s.NextRetryAt != nil {
		t := *s.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}
