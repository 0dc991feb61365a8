package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Resolver answers field-level permission lookups. Explicit entries for a
// (user, table) pair are loaded once and cached in an LRU for the duration of
// a view session; callers must Invalidate on table change or admin edits.
type Resolver struct {
	logger *slog.Logger
	store  Store

	mu    sync.Mutex
	cache *lru.Cache[string, map[string]Level] // user|table -> fieldID -> level
}

func NewResolver(logger *slog.Logger, store Store, cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, _ := lru.New[string, map[string]Level](cacheSize)
	return &Resolver{logger: logger, store: store, cache: c}
}

func cacheKey(userEmail, tableID string) string {
	return userEmail + "|" + tableID
}

func (r *Resolver) entriesFor(ctx context.Context, userEmail, tableID string) (map[string]Level, error) {
	key := cacheKey(userEmail, tableID)

	r.mu.Lock()
	if m, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	entries, err := r.store.ListEntries(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("load permission entries for table %q: %w", tableID, err)
	}
	m := make(map[string]Level)
	for _, e := range entries {
		if e.UserEmail == userEmail {
			m[e.FieldID] = e.Level
		}
	}

	r.mu.Lock()
	r.cache.Add(key, m)
	r.mu.Unlock()
	return m, nil
}

// Resolve returns the access level for one field. Resolution order: admin
// override, explicit entry, role default.
func (r *Resolver) Resolve(ctx context.Context, userEmail string, role Role, tableID, fieldID string) (Level, error) {
	if isAdmin(role) {
		return LevelEdit, nil
	}
	m, err := r.entriesFor(ctx, userEmail, tableID)
	if err != nil {
		return "", err
	}
	if lvl, ok := m[fieldID]; ok {
		return lvl, nil
	}
	return roleDefault(role), nil
}

// ResolveTable resolves every named field at once; the grid caches the result
// per (user, table) view session.
func (r *Resolver) ResolveTable(ctx context.Context, userEmail string, role Role, tableID string, fieldIDs []string) (map[string]Level, error) {
	out := make(map[string]Level, len(fieldIDs))
	if isAdmin(role) {
		for _, f := range fieldIDs {
			out[f] = LevelEdit
		}
		return out, nil
	}
	m, err := r.entriesFor(ctx, userEmail, tableID)
	if err != nil {
		return nil, err
	}
	def := roleDefault(role)
	for _, f := range fieldIDs {
		if lvl, ok := m[f]; ok {
			out[f] = lvl
			continue
		}
		out[f] = def
	}
	return out, nil
}

// Invalidate drops the cached resolution for one (user, table) pair.
func (r *Resolver) Invalidate(userEmail, tableID string) {
	r.mu.Lock()
	r.cache.Remove(cacheKey(userEmail, tableID))
	r.mu.Unlock()
}
