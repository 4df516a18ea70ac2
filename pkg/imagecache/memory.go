package imagecache

import (
	"image"
	"sync"
)

// PressureSource broadcasts low-memory notifications. Subscribe returns a function that removes the subscription.
type PressureSource interface {
	Subscribe(fn func()) (unsubscribe func())
}

// MemoryTier is a concurrent map of decoded images. It never evicts single entries; the whole map is dropped when
// its pressure source fires or when Clear is called.
type MemoryTier struct {
	mu     sync.RWMutex
	images map[Key]image.Image

	unsubscribe func()
}

// NewMemoryTier returns an empty MemoryTier that clears itself whenever source signals memory pressure. A nil source
// disables automatic eviction.
func NewMemoryTier(source PressureSource) *MemoryTier {
	m := &MemoryTier{
		images: make(map[Key]image.Image),
	}

	// Register for memory pressure for the lifetime of the tier
	if source != nil {
		m.unsubscribe = source.Subscribe(func() {
			log.WithField("event", "pressure").Warnf("Memory pressure received, dropping %d cached images", m.Len())
			m.Clear()
		})
	}

	return m
}

// Get returns the image stored under key, if any
func (m *MemoryTier) Get(key Key) (image.Image, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[key]
	return img, ok
}

// Put stores img under key, replacing any previous image
func (m *MemoryTier) Put(key Key, img image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[key] = img
}

// Clear drops every cached image
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = make(map[Key]image.Image)
}

// Len returns the number of cached images
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}

// Close removes the tier's memory pressure subscription
func (m *MemoryTier) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}
