package sharing

import (
	"context"
	"sync"
)

// ManualSource is a PositionSource fed by Push, for positions that arrive
// from outside the process.
type ManualSource struct {
	mu      sync.Mutex
	last    *Position
	watches map[WatchID]func(Position)
	nextID  WatchID
}

// NewManualSource creates a source with no fix yet.
func NewManualSource() *ManualSource {
	return &ManualSource{watches: make(map[WatchID]func(Position)), nextID: 1}
}

// Push records p and delivers it to every watcher.
func (m *ManualSource) Push(p Position) {
	m.mu.Lock()
	m.last = &p
	fns := make([]func(Position), 0, len(m.watches))
	for _, fn := range m.watches {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// CurrentPosition returns the last pushed fix or ErrNoPosition.
func (m *ManualSource) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Position{}, ErrNoPosition
	}
	return *m.last, nil
}

func (m *ManualSource) Watch(fn func(Position)) WatchID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.watches[id] = fn
	return id
}

func (m *ManualSource) ClearWatch(id WatchID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, id)
}

// Watching reports the number of active watches.
func (m *ManualSource) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}
