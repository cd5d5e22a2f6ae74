// Package sessions tracks active call bridges for shutdown and ops
// visibility.
package sessions

import (
	"context"
	"sync"
)

// Tracker registers every live bridge so shutdown can cancel them all
// and wait for their handlers to drain.
type Tracker struct {
	mu      sync.Mutex
	bridges map[string]*tracked
	wg      sync.WaitGroup
}

type tracked struct {
	cancel func()
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{bridges: make(map[string]*tracked)}
}

// Register adds a bridge under its id. Registering the same id again
// replaces (and unregisters) the previous entry, which covers carrier
// reconnects reusing a stream id.
func (t *Tracker) Register(id string, cancel func()) (unregister func()) {
	if t == nil {
		return func() {}
	}
	entry := &tracked{cancel: cancel}

	t.mu.Lock()
	if t.bridges == nil {
		t.bridges = make(map[string]*tracked)
	}
	old := t.bridges[id]
	t.bridges[id] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(id, old)
	}
	return func() { t.unregister(id, entry) }
}

func (t *Tracker) unregister(id string, entry *tracked) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.bridges != nil && t.bridges[id] == entry {
			delete(t.bridges, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bridges)
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.bridges {
		if entry == nil || entry.cancel == nil {
			continue
		}
		cancels = append(cancels, entry.cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered bridge has unregistered, or the
// context expires. Reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
