package views

import "sync"

// notifier wakes watchers after a state change. Signals coalesce: a slow
// watcher sees one pending wake-up, never a backlog.
type notifier struct {
	mu       sync.Mutex
	watchers map[chan struct{}]struct{}
}

func newNotifier() *notifier {
	return &notifier{watchers: make(map[chan struct{}]struct{})}
}

func (n *notifier) watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watchers, ch)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
