package permission

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and single-tenant deployments
// without Postgres.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry // tableID -> entries
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]Entry)}
}

func (s *MemStore) Put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// replace an existing entry for the same (user, table, field)
	list := s.entries[e.TableID]
	for i, old := range list {
		if old.UserEmail == e.UserEmail && old.FieldID == e.FieldID {
			list[i] = e
			s.entries[e.TableID] = list
			return
		}
	}
	s.entries[e.TableID] = append(list, e)
}

func (s *MemStore) ListEntries(_ context.Context, tableID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries[tableID]))
	copy(out, s.entries[tableID])
	return out, nil
}
