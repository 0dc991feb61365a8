package layer

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// Registry holds every layer added by the operator, keyed by layer id.
// Layers are independent of each other.
type Registry struct {
	mu     sync.RWMutex
	layers map[string]*Layer
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{layers: make(map[string]*Layer)}
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (r *Registry) Add(l *Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.layers[l.ID]; !exists {
		r.order = append(r.order, l.ID)
	}
	r.layers[l.ID] = l
}

func (r *Registry) Get(id string) (*Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layers[id]
	return l, ok
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.layers[id]; !ok {
		return false
	}
	delete(r.layers, id)
	for i, lid := range r.order {
		if lid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns layers in the order they were added.
func (r *Registry) List() []*Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Layer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.layers[id])
	}
	return out
}

// ByTable returns every layer backed by the given table; cache invalidation
// and grid commits fan mirror updates out through this.
func (r *Registry) ByTable(tableID string) []*Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Layer
	for _, id := range r.order {
		if l := r.layers[id]; l.TableID == tableID {
			out = append(out, l)
		}
	}
	return out
}
