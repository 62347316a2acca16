package memory

import (
	"sync"

	"github.com/yndnr/captoken-go/pkg/cmap"
)

// IDSet is a concurrent-safe set of IDs.
type IDSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewIDSet creates a new ID set.
func NewIDSet() *IDSet {
	return &IDSet{items: make(map[string]struct{})}
}

// Add adds id to the set.
func (s *IDSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = struct{}{}
}

// Remove removes id from the set.
func (s *IDSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// Contains checks if id is in the set.
func (s *IDSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the number of items in the set.
func (s *IDSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a copy of all IDs.
func (s *IDSet) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]string, 0, len(s.items))
	for id := range s.items {
		items = append(items, id)
	}
	return items
}

// Index maps a key (organization, session) to the set of IDs under it.
type Index struct {
	index *cmap.Map[*IDSet]
}

// NewIndex creates a new index.
func NewIndex() *Index {
	return &Index{index: cmap.New[*IDSet]()}
}

// Add adds id under key.
func (i *Index) Add(key, id string) {
	if key == "" {
		return
	}
	set, ok := i.index.Get(key)
	if !ok {
		fresh := NewIDSet()
		if i.index.SetIfAbsent(key, fresh) {
			set = fresh
		} else {
			set, _ = i.index.Get(key)
		}
	}
	set.Add(id)
}

// Remove removes id from key.
func (i *Index) Remove(key, id string) {
	if set, ok := i.index.Get(key); ok {
		set.Remove(id)
	}
}

// Get returns the IDs under key.
func (i *Index) Get(key string) []string {
	if set, ok := i.index.Get(key); ok {
		return set.Items()
	}
	return nil
}

// Count returns the number of IDs under key.
func (i *Index) Count(key string) int {
	if set, ok := i.index.Get(key); ok {
		return set.Len()
	}
	return 0
}
