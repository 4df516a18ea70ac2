// Package pressure broadcasts process-wide low-memory notifications.
package pressure

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Notifier fans a memory pressure notification out to every subscriber
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

// NewNotifier returns a Notifier without subscribers
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func())}
}

// Subscribe registers fn and returns the function that removes it again
func (n *Notifier) Subscribe(fn func()) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	n.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
		})
	}
}

// Notify calls every subscriber. Subscribers run outside the lock so they may unsubscribe.
func (n *Notifier) Notify() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribers returns the number of active subscriptions
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// HeapFunc reports the bytes currently allocated on the heap
type HeapFunc func() uint64

// HeapAlloc reads the live heap size from the runtime
func HeapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// Watch samples heap every interval and notifies n each time it rises above limitBytes. It notifies once per
// crossing and re-arms when the heap drops back under the limit. Watch blocks until ctx is done.
func Watch(ctx context.Context, n *Notifier, heap HeapFunc, limitBytes uint64, interval time.Duration) {
	if limitBytes == 0 || interval <= 0 {
		return
	}
	if heap == nil {
		heap = HeapAlloc
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	above := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if heap() > limitBytes {
				if !above {
					above = true
					n.Notify()
				}
			} else {
				above = false
			}
		}
	}
}
