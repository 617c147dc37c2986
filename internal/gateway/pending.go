package gateway

import (
	"sort"
	"sync"
)

// PendingSet tracks which operation keys are in flight.
type PendingSet struct {
	mu   sync.Mutex
	keys map[OpKey]struct{}
}

// NewPendingSet returns an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{keys: make(map[OpKey]struct{})}
}

// TryAcquire marks key pending. It returns false if key was already pending.
func (p *PendingSet) TryAcquire(key OpKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.keys[key]; ok {
		return false
	}
	p.keys[key] = struct{}{}
	return true
}

// Release clears key. Releasing a key that is not pending is a no-op.
func (p *PendingSet) Release(key OpKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

// Has reports whether key is pending.
func (p *PendingSet) Has(key OpKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[key]
	return ok
}

// Keys returns the pending keys in string order.
func (p *PendingSet) Keys() []OpKey {
	p.mu.Lock()
	out := make([]OpKey, 0, len(p.keys))
	for k := range p.keys {
		out = append(out, k)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of pending keys.
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
