// Package cmap provides a sharded concurrent map keyed by string.
//
// Keys are spread over a power-of-two number of shards with murmur3, each
// guarded by its own RWMutex. Stores use it as the primary index and keep
// cross-index atomicity with their own lock.
//
// Usage:
//
//	m := cmap.New[*domain.Token]()
//	m.Set(tok.ID, tok)
//	tok, ok := m.Get(id)
package cmap
