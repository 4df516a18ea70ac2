package imagecache

import "sync"

// Guarded wraps a value behind a read-write mutex
type Guarded[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuarded returns a Guarded holding value
func NewGuarded[T any](value T) *Guarded[T] {
	return &Guarded[T]{value: value}
}

// Get returns the current value
func (g *Guarded[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the current value
func (g *Guarded[T]) Set(value T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = value
}

// Update replaces the current value with the result of fn, holding the lock for the whole read-modify-write
func (g *Guarded[T]) Update(fn func(T) T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = fn(g.value)
	return g.value
}
