package store

import (
	"sync"
)

// Notifier is the in-process wake-up registry backing the blocking long-poll
// operations in spec.md §9 (WaitAny/WaitFor). It mirrors the teacher's
// agentmgr.Manager/workermgr.Manager broadcast-to-watchers pattern, but
// instead of fanning out typed events to per-connection channels, it hands
// each waiter a single channel that is closed when something worth
// rechecking happens for that agent. The waiter reacts to the close by
// re-querying the durable inbox in store rather than trusting the wake's
// payload, so the durable inbox remains the source of truth. WaitAny
// registers its waiter before it reads the inbox, so a send that lands
// between the read and the wait still wakes it.
type Notifier struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewNotifier creates an empty wake-up registry.
func NewNotifier() *Notifier {
	return &Notifier{
		waiters: make(map[string][]chan struct{}),
	}
}

// Wait registers interest in wakeups for agentID and returns a channel that
// is closed the next time Wake(agentID) is called. Callers must call the
// returned cancel func once they stop waiting, whether or not the channel
// fired, to avoid leaking the registration.
func (n *Notifier) Wait(agentID string) (ch <-chan struct{}, cancel func()) {
	c := make(chan struct{})

	n.mu.Lock()
	n.waiters[agentID] = append(n.waiters[agentID], c)
	n.mu.Unlock()

	cancelled := false
	return c, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		cs := n.waiters[agentID]
		for i, w := range cs {
			if w == c {
				n.waiters[agentID] = append(cs[:i], cs[i+1:]...)
				break
			}
		}
		if len(n.waiters[agentID]) == 0 {
			delete(n.waiters, agentID)
		}
	}
}

// Wake closes every channel currently registered for agentID, waking all of
// its waiters. Non-blocking and safe to call even with zero waiters.
func (n *Notifier) Wake(agentID string) {
	n.mu.Lock()
	cs := n.waiters[agentID]
	delete(n.waiters, agentID)
	n.mu.Unlock()

	for _, c := range cs {
		close(c)
	}
}

// WaitCount reports how many goroutines are currently blocked waiting on
// agentID. Used by metrics and tests.
func (n *Notifier) WaitCount(agentID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters[agentID])
}
