package world

import (
	"errors"
	"sync"
)

var (
	// ErrWorldFull is returned when every player index is taken.
	ErrWorldFull = errors.New("world: full")

	// ErrAlreadyOnline is returned when the name is already logged in.
	ErrAlreadyOnline = errors.New("world: already online")
)

// Registry assigns player indexes and finds players by name hash. Only the
// tick goroutine mutates it; other goroutines may read counts and lookups.
type Registry struct {
	mu     sync.RWMutex
	slots  []*Player // slots[0] is never used
	byName map[int64]*Player
	count  int
}

// NewRegistry creates a registry with indexes 1..capacity.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		slots:  make([]*Player, capacity+1),
		byName: make(map[int64]*Player),
	}
}

// Add gives p the lowest free index.
func (r *Registry) Add(p *Player) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[p.nameHash]; ok {
		return 0, ErrAlreadyOnline
	}
	for i := 1; i < len(r.slots); i++ {
		if r.slots[i] == nil {
			r.slots[i] = p
			r.byName[p.nameHash] = p
			r.count++
			p.setIndex(i)
			return i, nil
		}
	}
	return 0, ErrWorldFull
}

// Remove frees p's index. It reports whether p was registered.
func (r *Registry) Remove(p *Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := p.index
	if i <= 0 || i >= len(r.slots) || r.slots[i] != p {
		return false
	}
	r.slots[i] = nil
	delete(r.byName, p.nameHash)
	r.count--
	return true
}

// Online reports whether a player with the name hash is registered.
func (r *Registry) Online(hash int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[hash]
	return ok
}

// ByName returns the player with the name hash, or nil.
func (r *Registry) ByName(hash int64) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[hash]
}

// ByIndex returns the player at index, or nil.
func (r *Registry) ByIndex(index int) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index <= 0 || index >= len(r.slots) {
		return nil
	}
	return r.slots[index]
}

// Snapshot returns the registered players in index order.
func (r *Registry) Snapshot() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, 0, r.count)
	for _, p := range r.slots {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Each calls fn for every registered player in index order. fn may add or
// remove players.
func (r *Registry) Each(fn func(*Player)) {
	for _, p := range r.Snapshot() {
		fn(p)
	}
}

// Count returns the number of registered players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the highest player index.
func (r *Registry) Capacity() int {
	return len(r.slots) - 1
}
