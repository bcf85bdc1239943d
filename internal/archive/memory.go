package archive

import (
	"context"
	"sort"
	"sync"

	"github.com/onnwee/spotstr/internal/location"
)

// MemoryRepository is a Repository backed by a map.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]*location.Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*location.Event)}
}

func (r *MemoryRepository) Save(_ context.Context, evt *location.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.rows[evt.ID]; ok && !supersedes(stored, evt) {
		return nil
	}
	r.rows[evt.ID] = evt.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*location.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evt, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return evt.Clone(), nil
}

// List returns matches newest first.
func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*location.Event, error) {
	r.mu.RLock()
	out := make([]*location.Event, 0, len(r.rows))
	for _, evt := range r.rows {
		if f.Sender != "" && evt.Sender != f.Sender {
			continue
		}
		if f.Receiver != "" && evt.Receiver != f.Receiver {
			continue
		}
		if evt.CreatedAt < f.Since {
			continue
		}
		if f.ExcludeExpiredAt > 0 && evt.Expired(f.ExcludeExpiredAt) {
			continue
		}
		out = append(out, evt.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if n := f.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, evt := range r.rows {
		if evt.Expired(now) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}
