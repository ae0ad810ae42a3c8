package models

import "sync"

// Change describes one logical mutation of a model instance. Reconciliation
// batches field writes per poll; each verb that actually changed a value
// emits exactly one Change.
type Change struct {
	Model string // "printer", "print_job", "cluster"
	ID    string // entity uuid / cluster id
	Field string
	Old   any
	New   any
}

// Observer receives model changes.
type Observer func(Change)

// notifier is the sidecar observer registry embedded in observable models.
// The zero value is ready to use.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Observer
}

// OnChange registers an observer and returns an unsubscribe function.
// Unsubscribing twice is a no-op.
func (n *notifier) OnChange(o Observer) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]Observer)
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = o
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *notifier) notify(c Change) {
	n.mu.Lock()
	obs := make([]Observer, 0, len(n.subs))
	for _, o := range n.subs {
		obs = append(obs, o)
	}
	n.mu.Unlock()
	for _, o := range obs {
		o(c)
	}
}
